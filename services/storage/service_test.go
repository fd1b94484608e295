package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"m24c64-go/bus"
	"m24c64-go/drivers/m24c64/m24c64sim"
	"m24c64-go/errcode"
	"m24c64-go/types"

	"tinygo.org/x/drivers"
)

func recvWithin[T any](t *testing.T, ch <-chan T, d time.Duration) (T, bool) {
	t.Helper()
	var zero T
	select {
	case v := <-ch:
		return v, true
	case <-time.After(d):
		return zero, false
	}
}

// gateBus holds every transaction until release is signalled.
type gateBus struct {
	inner   drivers.I2C
	entered chan struct{}
	release chan struct{}
}

func (g *gateBus) Tx(addr uint16, w, r []byte) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.inner.Tx(addr, w, r)
}

type harness struct {
	conn   *bus.Connection
	cancel context.CancelFunc
	done   chan struct{}
}

func startService(t *testing.T, buses I2CFactory) *harness {
	t.Helper()
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	s := New(conn, buses, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{conn: conn, cancel: cancel, done: make(chan struct{})}
	go func() {
		s.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(h.stop)

	h.waitState(t, "idle")
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) waitState(t *testing.T, level string) types.ServiceState {
	t.Helper()
	sub := h.conn.Subscribe(TopicState())
	defer h.conn.Unsubscribe(sub)
	return nextState(t, sub, level)
}

func nextState(t *testing.T, sub *bus.Subscription, level string) types.ServiceState {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case m := <-sub.Channel():
			st := m.Payload.(types.ServiceState)
			if st.Level == level {
				return st
			}
		case <-deadline:
			t.Fatalf("timeout waiting for state %q", level)
		}
	}
}

// configure publishes cfg and waits for the ready state it produces.
func (h *harness) configure(t *testing.T, cfg any) {
	t.Helper()
	sub := h.conn.Subscribe(TopicState())
	defer h.conn.Unsubscribe(sub)
	if _, ok := recvWithin(t, sub.Channel(), time.Second); !ok {
		t.Fatal("no retained state")
	}
	h.conn.Publish(h.conn.NewMessage(TopicConfig(), cfg, true))
	nextState(t, sub, "ready")
}

func (h *harness) control(t *testing.T, name, verb string, payload any) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := h.conn.RequestWait(ctx, h.conn.NewMessage(CapCtrl(name, verb), payload, false))
	if err != nil {
		t.Fatalf("%s/%s: %v", name, verb, err)
	}
	return r.Payload
}

func wantErrReply(t *testing.T, p any, code errcode.Code) {
	t.Helper()
	er, ok := p.(types.ErrorReply)
	if !ok {
		t.Fatalf("expected ErrorReply, got %T %+v", p, p)
	}
	if er.Error != string(code) {
		t.Fatalf("error = %q, want %q", er.Error, code)
	}
}

func oneDevice(extra ...func(*types.StorageDevice)) types.StorageConfig {
	d := types.StorageDevice{ID: "eeprom0", Bus: "i2c0", EAddr: 0}
	for _, f := range extra {
		f(&d)
	}
	return types.StorageConfig{Devices: []types.StorageDevice{d}}
}

// ---- Tests ----

func TestWriteThenReadOverBus(t *testing.T) {
	sim := m24c64sim.New(0)
	h := startService(t, BusMap{"i2c0": sim})
	h.configure(t, oneDevice())

	data := []byte("hello, eeprom. this crosses a page boundary")
	if p := h.control(t, "eeprom0", "write", types.EEPROMWrite{Addr: 0x1F0, Data: data}); p != (types.OKReply{OK: true}) {
		t.Fatalf("write reply = %+v", p)
	}
	if got := sim.Bytes(0x1F0, len(data)); !bytes.Equal(got, data) {
		t.Fatalf("sim holds %q", got)
	}

	p := h.control(t, "eeprom0", "read", &types.EEPROMRead{Addr: 0x1F0, Len: len(data)})
	rd, ok := p.(types.EEPROMData)
	if !ok {
		t.Fatalf("read reply = %T %+v", p, p)
	}
	if !rd.OK || rd.Addr != 0x1F0 || !bytes.Equal(rd.Data, data) {
		t.Fatalf("read = %+v", rd)
	}
}

func TestReadRightAfterWrite(t *testing.T) {
	sim := m24c64sim.New(0)
	sim.WriteCycle = 3 * time.Millisecond
	h := startService(t, BusMap{"i2c0": sim})
	h.configure(t, oneDevice())

	stSub := h.conn.Subscribe(CapStatus("eeprom0"))
	defer h.conn.Unsubscribe(stSub)
	recvWithin(t, stSub.Channel(), time.Second) // retained down

	data := []byte{10, 20, 30, 40}
	if p := h.control(t, "eeprom0", "write", types.EEPROMWrite{Addr: 0x12, Data: data}); p != (types.OKReply{OK: true}) {
		t.Fatalf("write reply = %+v", p)
	}
	p := h.control(t, "eeprom0", "read", types.EEPROMRead{Addr: 0x12, Len: 4})
	if rd, ok := p.(types.EEPROMData); !ok || !bytes.Equal(rd.Data, data) {
		t.Fatalf("read reply = %+v", p)
	}

	m, ok := recvWithin(t, stSub.Channel(), time.Second)
	if !ok || m.Payload.(types.CapabilityStatus).Link != types.LinkUp {
		t.Fatalf("status = %+v", m)
	}
	if m, ok := recvWithin(t, stSub.Channel(), 20*time.Millisecond); ok {
		t.Fatalf("status changed again: %+v", m.Payload)
	}
}

func TestInfoAndStatusPublished(t *testing.T) {
	sim := m24c64sim.New(3)
	h := startService(t, BusMap{"i2c0": sim})

	stSub := h.conn.Subscribe(CapStatus("eeprom0"))
	defer h.conn.Unsubscribe(stSub)

	h.configure(t, oneDevice(func(d *types.StorageDevice) { d.EAddr = 3 }))

	infoSub := h.conn.Subscribe(CapInfo("eeprom0"))
	defer h.conn.Unsubscribe(infoSub)
	m, ok := recvWithin(t, infoSub.Channel(), time.Second)
	if !ok {
		t.Fatal("no retained info")
	}
	info := m.Payload.(types.Info)
	detail := info.Detail.(types.EEPROMInfo)
	if info.Driver != "m24c64" || detail.Addr != 0x53 || detail.Capacity != 8192 || detail.PageSize != 32 {
		t.Fatalf("info = %+v", info)
	}

	m, ok = recvWithin(t, stSub.Channel(), time.Second)
	if !ok || m.Payload.(types.CapabilityStatus).Link != types.LinkDown {
		t.Fatalf("expected initial down status, got %+v", m)
	}

	h.control(t, "eeprom0", "write", types.EEPROMWrite{Addr: 0, Data: []byte{1}})
	m, ok = recvWithin(t, stSub.Channel(), time.Second)
	if !ok || m.Payload.(types.CapabilityStatus).Link != types.LinkUp {
		t.Fatalf("expected up status, got %+v", m)
	}
}

func TestFailedWriteDegradesStatus(t *testing.T) {
	sim := m24c64sim.New(0)
	sim.FailWrite = func(int) error { return errors.New("bus stuck") }
	h := startService(t, BusMap{"i2c0": sim})
	h.configure(t, oneDevice(func(d *types.StorageDevice) { d.Retries = 2 }))

	stSub := h.conn.Subscribe(CapStatus("eeprom0"))
	defer h.conn.Unsubscribe(stSub)
	recvWithin(t, stSub.Channel(), time.Second) // retained down

	p := h.control(t, "eeprom0", "write", types.EEPROMWrite{Addr: 0, Data: []byte{1, 2}})
	wantErrReply(t, p, errcode.IOError)

	m, ok := recvWithin(t, stSub.Channel(), time.Second)
	if !ok {
		t.Fatal("no status after failure")
	}
	st := m.Payload.(types.CapabilityStatus)
	if st.Link != types.LinkDegraded || st.Error != string(errcode.IOError) {
		t.Fatalf("status = %+v", st)
	}
	if sim.Writes() != 2 {
		t.Fatalf("writes = %d, want 2", sim.Writes())
	}
}

func TestControlBeforeConfig(t *testing.T) {
	h := startService(t, BusMap{})
	p := h.control(t, "eeprom0", "read", types.EEPROMRead{Addr: 0, Len: 1})
	wantErrReply(t, p, errcode.NotReady)
}

func TestControlValidation(t *testing.T) {
	h := startService(t, BusMap{"i2c0": m24c64sim.New(0)})
	h.configure(t, oneDevice())

	cases := []struct {
		name    string
		dev     string
		verb    string
		payload any
		want    errcode.Code
	}{
		{"unknown device", "eeprom9", "read", types.EEPROMRead{Len: 1}, errcode.UnknownCapability},
		{"unknown verb", "eeprom0", "erase", types.EEPROMRead{Len: 1}, errcode.Unsupported},
		{"wrong payload", "eeprom0", "read", map[string]any{"addr": 0}, errcode.InvalidPayload},
		{"nil payload", "eeprom0", "write", nil, errcode.InvalidPayload},
		{"zero length read", "eeprom0", "read", types.EEPROMRead{Addr: 0, Len: 0}, errcode.InvalidParams},
		{"oversized read", "eeprom0", "read", types.EEPROMRead{Addr: 0, Len: 4097}, errcode.InvalidParams},
		{"empty write", "eeprom0", "write", types.EEPROMWrite{Addr: 0}, errcode.InvalidParams},
		{"read past end", "eeprom0", "read", types.EEPROMRead{Addr: 8190, Len: 3}, errcode.OutOfRange},
		{"write past end", "eeprom0", "write", types.EEPROMWrite{Addr: 8192, Data: []byte{1}}, errcode.OutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wantErrReply(t, h.control(t, tc.dev, tc.verb, tc.payload), tc.want)
		})
	}

	// Last byte is addressable.
	if p := h.control(t, "eeprom0", "write", types.EEPROMWrite{Addr: 8191, Data: []byte{7}}); p != (types.OKReply{OK: true}) {
		t.Fatalf("write at end = %+v", p)
	}
}

func TestQueueFullRepliesBusy(t *testing.T) {
	gate := &gateBus{inner: m24c64sim.New(0), entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := startService(t, BusMap{"i2c0": gate})
	t.Cleanup(func() {
		select {
		case <-gate.release:
		default:
			close(gate.release)
		}
	})
	h.configure(t, oneDevice(func(d *types.StorageDevice) { d.QueueLen = 1 }))

	write := func() *bus.Subscription {
		return h.conn.Request(h.conn.NewMessage(CapCtrl("eeprom0", "write"), types.EEPROMWrite{Addr: 0, Data: []byte{1}}, false))
	}

	first := write()
	defer h.conn.Unsubscribe(first)
	if _, ok := recvWithin(t, gate.entered, time.Second); !ok {
		t.Fatal("first write never reached the bus")
	}
	second := write() // sits in the queue
	defer h.conn.Unsubscribe(second)
	third := write()
	defer h.conn.Unsubscribe(third)

	m, ok := recvWithin(t, third.Channel(), time.Second)
	if !ok {
		t.Fatal("no reply to third write")
	}
	wantErrReply(t, m.Payload, errcode.Busy)

	close(gate.release)
	for _, s := range []*bus.Subscription{first, second} {
		m, ok := recvWithin(t, s.Channel(), time.Second)
		if !ok || m.Payload != (types.OKReply{OK: true}) {
			t.Fatalf("queued write reply = %+v", m)
		}
	}
}

func TestReconfigureRemovesDevice(t *testing.T) {
	h := startService(t, BusMap{"i2c0": m24c64sim.New(0), "i2c1": m24c64sim.New(1)})
	h.configure(t, types.StorageConfig{Devices: []types.StorageDevice{
		{ID: "eeprom0", Bus: "i2c0"},
		{ID: "eeprom1", Bus: "i2c1", EAddr: 1},
	}})

	h.control(t, "eeprom1", "write", types.EEPROMWrite{Addr: 0, Data: []byte{9}})

	h.configure(t, oneDevice())

	wantErrReply(t, h.control(t, "eeprom1", "read", types.EEPROMRead{Len: 1}), errcode.UnknownCapability)

	infoSub := h.conn.Subscribe(CapInfo("eeprom1"))
	defer h.conn.Unsubscribe(infoSub)
	if m, ok := recvWithin(t, infoSub.Channel(), 50*time.Millisecond); ok {
		t.Fatalf("retained info survived removal: %+v", m)
	}

	// The remaining device still works.
	p := h.control(t, "eeprom0", "read", types.EEPROMRead{Addr: 0, Len: 1})
	if rd, ok := p.(types.EEPROMData); !ok || rd.Data[0] != 0xFF {
		t.Fatalf("read = %+v", p)
	}
}

func TestUnknownBusSkipsDevice(t *testing.T) {
	h := startService(t, BusMap{})
	h.configure(t, oneDevice())
	wantErrReply(t, h.control(t, "eeprom0", "read", types.EEPROMRead{Len: 1}), errcode.UnknownCapability)
}

func TestYAMLConfigOverBus(t *testing.T) {
	sim := m24c64sim.New(2)
	h := startService(t, BusMap{"i2c0": sim})
	h.configure(t, `
devices:
  - id: cfg
    bus: i2c0
    e_addr: 2
`)
	h.control(t, "cfg", "write", types.EEPROMWrite{Addr: 10, Data: []byte{0xAB}})
	if sim.Bytes(10, 1)[0] != 0xAB {
		t.Fatal("write did not reach the part")
	}
}

func TestBadConfigReportsError(t *testing.T) {
	h := startService(t, BusMap{})
	h.conn.Publish(h.conn.NewMessage(TopicConfig(), 42, false))
	st := h.waitState(t, "error")
	if st.Status != string(errcode.InvalidPayload) {
		t.Fatalf("status = %q", st.Status)
	}
}

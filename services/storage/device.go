package storage

import (
	"context"
	"time"

	"m24c64-go/bus"
	"m24c64-go/drivers/m24c64"
	"m24c64-go/errcode"
	"m24c64-go/types"
)

const (
	verbRead  = "read"
	verbWrite = "write"

	defaultQueueLen = 4
	// maxTransfer bounds a single control; half the part.
	maxTransfer = m24c64.Capacity / 2
)

type job struct {
	verb string
	addr uint32
	data []byte // write payload, or read destination
	req  *bus.Message
}

// event is a device→service completion notice.
type event struct {
	id   string
	err  errcode.Code
	tsMs int64
}

// device runs the controls for one EEPROM strictly in order on its own
// goroutine. Bus transactions go through the shared bus owner, so the task
// parks there and in retry waits while other devices make progress.
type device struct {
	id    string
	bus   string
	drv   m24c64.AsyncDevice
	conn  *bus.Connection
	emit  func(event) bool
	jobs  chan job
	stop  context.CancelFunc
	done  chan struct{}
	ready bool

	// lastWrite is when the most recent write finished; reads hold off until
	// the write cycle that follows it is over.
	lastWrite time.Time
}

func (d *device) info() types.Info {
	return types.Info{
		SchemaVersion: 1,
		Driver:        partM24C64,
		Detail: types.EEPROMInfo{
			Part:     partM24C64,
			Bus:      d.bus,
			Addr:     d.drv.Address(),
			Capacity: m24c64.Capacity,
			PageSize: m24c64.PageSize,
		},
	}
}

func (d *device) start(ctx context.Context) {
	ctx, d.stop = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.run(ctx)
}

// close stops the task and answers every control still queued with
// unknown_capability, since the device no longer exists.
func (d *device) close() {
	if d.stop != nil {
		d.stop()
		<-d.done
	}
	for {
		select {
		case j := <-d.jobs:
			d.reject(j)
		default:
			return
		}
	}
}

func (d *device) reject(j job) {
	d.conn.Reply(j.req, types.ErrorReply{OK: false, Error: string(errcode.UnknownCapability)}, false)
}

// submit queues j without blocking; false means the queue is full.
func (d *device) submit(j job) bool {
	select {
	case d.jobs <- j:
		return true
	default:
		return false
	}
}

func (d *device) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.jobs:
			// select may pick a ready job over a stop.
			if ctx.Err() != nil {
				d.reject(j)
				return
			}
			d.exec(ctx, j)
		}
	}
}

func (d *device) exec(ctx context.Context, j job) {
	var err error
	switch j.verb {
	case verbWrite:
		if err = d.drv.Write(ctx, j.addr, j.data, nil); err == nil {
			d.lastWrite = time.Now()
		}
	case verbRead:
		if err = d.settle(ctx); err == nil {
			err = d.drv.Read(ctx, j.addr, j.data)
		}
	}

	if err != nil && ctx.Err() != nil {
		// Removed mid-transfer.
		d.reject(j)
		return
	}

	code := errcode.MapDriverErr(err)
	if err != nil {
		d.conn.Reply(j.req, types.ErrorReply{OK: false, Error: string(code)}, false)
	} else if j.verb == verbRead {
		d.conn.Reply(j.req, types.EEPROMData{OK: true, Addr: j.addr, Data: j.data}, false)
	} else {
		d.conn.Reply(j.req, types.OKReply{OK: true}, false)
	}

	ev := event{id: d.id, tsMs: time.Now().UnixMilli()}
	if err != nil {
		ev.err = code
	}
	d.emit(ev)
}

// settle waits out the write cycle of the last write, if it may still be
// running. Reads are not retried, so one issued during tW would fail.
func (d *device) settle(ctx context.Context) error {
	if d.lastWrite.IsZero() {
		return nil
	}
	left := m24c64.WriteCycleTime - time.Since(d.lastWrite)
	if left <= 0 {
		return nil
	}
	return m24c64.TimerWaiter{}.Wait(ctx, left)
}

// checkRange rejects transfers that run off the end of the part.
func checkRange(addr uint32, n int) errcode.Code {
	if n <= 0 || n > maxTransfer {
		return errcode.InvalidParams
	}
	if uint64(addr)+uint64(n) > m24c64.Capacity {
		return errcode.OutOfRange
	}
	return ""
}

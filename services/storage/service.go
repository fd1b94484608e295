// Package storage publishes M24C64 EEPROMs as bus capabilities.
//
// Configuration arrives on config/storage. Each configured part becomes
// hal/cap/storage/eeprom/<id> with retained info and status, and accepts
// control/read and control/write requests. Controls are queued per device
// and answered on the request's ReplyTo once the bus work is done.
package storage

import (
	"context"
	"time"

	"m24c64-go/bus"
	"m24c64-go/drivers/m24c64"
	"m24c64-go/errcode"
	"m24c64-go/internal/i2cowner"
	"m24c64-go/internal/logger"
	"m24c64-go/types"
)

const (
	eventQueueLen = 16
	ownerQueueLen = 16
)

type Service struct {
	conn   *bus.Connection
	buses  I2CFactory
	log    logger.Logger
	owners *i2cowner.Pool

	dev  map[string]*device
	evCh chan event
}

func New(conn *bus.Connection, buses I2CFactory, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		conn:   conn,
		buses:  buses,
		log:    log.With("svc", "storage"),
		owners: i2cowner.NewPool(ownerQueueLen),
		dev:    map[string]*device{},
		evCh:   make(chan event, eventQueueLen),
	}
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(TopicConfig())
	ctrlSub := s.conn.Subscribe(ctrlWildcard())
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)
	defer s.shutdown()

	s.pubState("idle", "awaiting_config")
	ready := false
	for {
		select {
		case <-ctx.Done():
			s.pubState("stopped", "context_cancelled")
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.log.Error("config rejected", "err", err)
				s.pubState("error", string(errcode.Of(err)))
				continue
			}
			s.applyConfig(ctx, cfg)
			ready = true
			s.pubState("ready", "configured")
		case msg, ok := <-ctrlSub.Channel():
			if !ok {
				return
			}
			if !ready {
				s.replyErr(msg, errcode.NotReady)
				continue
			}
			s.handleControl(msg)
		case ev := <-s.evCh:
			s.handleEvent(ev)
		}
	}
}

func (s *Service) applyConfig(ctx context.Context, cfg types.StorageConfig) {
	seen := map[string]struct{}{}
	for _, dc := range cfg.Devices {
		seen[dc.ID] = struct{}{}
		if _, exists := s.dev[dc.ID]; exists {
			continue
		}
		hw, ok := s.buses.ByID(dc.Bus)
		if !ok {
			s.log.Error("unknown bus", "dev", dc.ID, "bus", dc.Bus)
			continue
		}
		owner := s.owners.Get(dc.Bus, hw)

		d := &device{
			id:   dc.ID,
			bus:  dc.Bus,
			drv:  m24c64.NewAsync(owner, dc.EAddr),
			conn: s.conn,
			emit: s.emit,
			jobs: make(chan job, queueLen(dc.QueueLen)),
		}
		d.drv.Configure(m24c64.Config{
			Retries:    dc.Retries,
			RetryDelay: time.Duration(dc.RetryDelayMS) * time.Millisecond,
			Logger:     s.log.With("dev", dc.ID),
		})
		d.start(ctx)
		s.dev[dc.ID] = d

		s.pubRet(CapInfo(dc.ID), d.info())
		s.pubRet(CapStatus(dc.ID), types.CapabilityStatus{Link: types.LinkDown, TSms: time.Now().UnixMilli()})
		s.log.Info("device added", "dev", dc.ID, "bus", dc.Bus, "addr", d.drv.Address())
	}

	// Tidy-up: remove devices not in config.
	for id, d := range s.dev {
		if _, ok := seen[id]; ok {
			continue
		}
		s.removeDevice(id, d)
	}
}

func (s *Service) removeDevice(id string, d *device) {
	d.close()
	delete(s.dev, id)
	s.pubRet(CapInfo(id), nil)
	s.pubRet(CapStatus(id), nil)
	s.log.Info("device removed", "dev", id)

	for _, other := range s.dev {
		if other.bus == d.bus {
			return
		}
	}
	s.owners.Release(d.bus)
}

func (s *Service) shutdown() {
	for id, d := range s.dev {
		d.close()
		delete(s.dev, id)
	}
	s.owners.Close()
}

func (s *Service) handleControl(msg *bus.Message) {
	// hal/cap/storage/eeprom/<name>/control/<verb>
	if msg.Topic.Len() != 7 {
		s.replyErr(msg, errcode.InvalidTopic)
		return
	}
	name, _ := msg.Topic.At(4).(string)
	verb, _ := msg.Topic.At(6).(string)

	d, ok := s.dev[name]
	if !ok {
		s.replyErr(msg, errcode.UnknownCapability)
		return
	}

	var j job
	switch verb {
	case verbRead:
		p, code := As[types.EEPROMRead](msg.Payload)
		if code == "" {
			code = checkRange(p.Addr, p.Len)
		}
		if code != "" {
			s.replyErr(msg, code)
			return
		}
		j = job{verb: verbRead, addr: p.Addr, data: make([]byte, p.Len), req: msg}
	case verbWrite:
		p, code := As[types.EEPROMWrite](msg.Payload)
		if code == "" {
			code = checkRange(p.Addr, len(p.Data))
		}
		if code != "" {
			s.replyErr(msg, code)
			return
		}
		// Copy so the caller may reuse its buffer.
		j = job{verb: verbWrite, addr: p.Addr, data: append([]byte(nil), p.Data...), req: msg}
	default:
		s.replyErr(msg, errcode.Unsupported)
		return
	}

	if !d.submit(j) {
		s.replyErr(msg, errcode.Busy)
	}
}

func (s *Service) handleEvent(ev event) {
	d, ok := s.dev[ev.id]
	if !ok {
		return
	}
	if ev.err != "" {
		d.ready = false
		s.pubRet(CapStatus(ev.id), types.CapabilityStatus{Link: types.LinkDegraded, TSms: ev.tsMs, Error: string(ev.err)})
		return
	}
	if !d.ready {
		d.ready = true
		s.pubRet(CapStatus(ev.id), types.CapabilityStatus{Link: types.LinkUp, TSms: ev.tsMs})
	}
}

// emit hands a completion to the service loop. It never blocks; false
// indicates a drop under pressure.
func (s *Service) emit(ev event) bool {
	select {
	case s.evCh <- ev:
		return true
	default:
		return false
	}
}

func (s *Service) pubState(level, status string) {
	s.pubRet(TopicState(), types.ServiceState{Level: level, Status: status, TSms: time.Now().UnixMilli()})
}

func (s *Service) pubRet(t bus.Topic, p any) {
	s.conn.Publish(s.conn.NewMessage(t, p, true))
}

func (s *Service) replyErr(m *bus.Message, code errcode.Code) {
	if !m.CanReply() {
		return
	}
	if code == "" {
		code = errcode.Error
	}
	s.conn.Reply(m, types.ErrorReply{OK: false, Error: string(code)}, false)
}

func queueLen(n int) int {
	if n <= 0 {
		return defaultQueueLen
	}
	return n
}

// As asserts a payload to the concrete value type T.
// Pointers to T are accepted. A nil payload is rejected.
func As[T any](v any) (T, errcode.Code) {
	var zero T
	switch t := v.(type) {
	case T:
		return t, ""
	case *T:
		if t != nil {
			return *t, ""
		}
	}
	return zero, errcode.InvalidPayload
}

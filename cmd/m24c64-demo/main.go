// Command m24c64-demo writes a short pattern to an M24C64, reads it back and
// compares, forever or once.
//
// Host builds talk to a simulated part; rp2040 builds use I2C0 at 100 kHz.
// With -async the loop goes through the storage service over the bus instead
// of driving the part directly.
package main

import (
	"bytes"
	"context"
	"flag"
	"time"

	"m24c64-go/bus"
	"m24c64-go/drivers/m24c64"
	"m24c64-go/errcode"
	"m24c64-go/internal/logger"
	"m24c64-go/services/config"
	"m24c64-go/services/storage"
	"m24c64-go/types"
)

const demoAddr = 0x12

var pattern = []byte{0x10, 0x20, 0x30, 0x40}

type platform struct {
	board string // embedded config name
	buses storage.BusMap
	log   logger.Logger
}

func main() {
	cfgPath := flag.String("config", "", "storage config (YAML) instead of the board's; -async only")
	dev := flag.String("dev", "eeprom0", "device id to exercise; -async only")
	interval := flag.Duration("interval", time.Second, "pause between rounds")
	once := flag.Bool("once", false, "run a single round and exit")
	async := flag.Bool("async", false, "go through the storage service")
	flag.Parse()

	p := setup()
	if *async {
		runService(p, *cfgPath, *dev, *interval, *once)
		return
	}
	runDirect(p, *interval, *once)
}

func runDirect(p platform, interval time.Duration, once bool) {
	dev := m24c64.New(p.buses["i2c0"], 0)
	dev.Configure(m24c64.Config{Logger: p.log})

	buf := make([]byte, len(pattern))
	for {
		if err := dev.Write(demoAddr, pattern, nil); err != nil {
			p.log.Error("write failed", "err", err)
		} else {
			time.Sleep(m24c64.WriteCycleTime)
			if err := dev.Read(demoAddr, buf); err != nil {
				p.log.Error("read failed", "err", err)
			} else {
				report(p.log, buf)
			}
		}
		if once {
			return
		}
		time.Sleep(interval)
	}
}

func runService(p platform, cfgPath, name string, interval time.Duration, once bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewBus(8)
	svc := storage.New(b.NewConnection("storage"), p.buses, p.log)
	go svc.Run(ctx)

	ui := b.NewConnection("demo")
	if cfgPath != "" {
		cfg, err := storage.LoadConfig(cfgPath)
		if err != nil {
			p.log.Error("config", "err", err)
			return
		}
		ui.Publish(ui.NewMessage(storage.TopicConfig(), cfg, true))
	} else if err := config.New(p.board, p.log).Publish(ui); err != nil {
		return
	}
	if !waitReady(ui, 2*time.Second) {
		p.log.Error("storage service not ready")
		return
	}

	for {
		if err := request(ctx, ui, name, "write", types.EEPROMWrite{Addr: demoAddr, Data: pattern}); err != nil {
			p.log.Error("write failed", "err", err)
		} else {
			var rd types.EEPROMData
			if err := request(ctx, ui, name, "read", types.EEPROMRead{Addr: demoAddr, Len: len(pattern)}, &rd); err != nil {
				p.log.Error("read failed", "err", err)
			} else {
				report(p.log, rd.Data)
			}
		}
		if once {
			return
		}
		time.Sleep(interval)
	}
}

func waitReady(c *bus.Connection, d time.Duration) bool {
	sub := c.Subscribe(storage.TopicState())
	defer c.Unsubscribe(sub)
	deadline := time.After(d)
	for {
		select {
		case m := <-sub.Channel():
			if st, ok := m.Payload.(types.ServiceState); ok && st.Level == "ready" {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// request sends one control and waits for its reply. A read reply is copied
// into out when given.
func request(ctx context.Context, c *bus.Connection, name, verb string, payload any, out ...*types.EEPROMData) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	r, err := c.RequestWait(ctx, c.NewMessage(storage.CapCtrl(name, verb), payload, false))
	if err != nil {
		return errcode.Wrap(verb, err)
	}
	switch v := r.Payload.(type) {
	case types.ErrorReply:
		return errcode.Code(v.Error)
	case types.EEPROMData:
		if len(out) > 0 {
			*out[0] = v
		}
	}
	return nil
}

func report(log logger.Logger, got []byte) {
	if bytes.Equal(got, pattern) {
		log.Info("read back ok", "data", got)
		return
	}
	log.Error("read back mismatch", "want", pattern, "got", got)
}

package m24c64

import (
	"context"
	"time"
)

// ContextI2C is a bus whose transactions can be waited on with a context.
// w only is a plain write; w and r is a write followed by a repeated-start
// read, without releasing the bus.
type ContextI2C interface {
	TxContext(ctx context.Context, addr uint16, w, r []byte) error
}

// Waiter spends the gap between write attempts on an AsyncDevice.
// It returns early with ctx.Err() if the context ends.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// TimerWaiter parks the goroutine on a timer.
type TimerWaiter struct{}

func (TimerWaiter) Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// AsyncDevice is the context-aware flavour of Device. It must be used from
// one goroutine at a time.
type AsyncDevice struct {
	handle
	bus ContextI2C
}

// NewAsync creates an AsyncDevice. No bus traffic happens here.
func NewAsync(bus ContextI2C, eAddr uint8) AsyncDevice {
	return AsyncDevice{handle: newHandle(eAddr), bus: bus}
}

type asyncFx struct {
	ctx    context.Context
	bus    ContextI2C
	waiter Waiter
}

func (f asyncFx) tx(addr uint16, w, r []byte) error { return f.bus.TxContext(f.ctx, addr, w, r) }

func (f asyncFx) wait(d time.Duration) error { return f.waiter.Wait(f.ctx, d) }

// Write is Device.Write with context-aware waits. If ctx ends during a retry
// wait the write stops with ctx.Err(). A nil w uses TimerWaiter.
func (d *AsyncDevice) Write(ctx context.Context, address uint32, data []byte, w Waiter) error {
	if w == nil {
		w = TimerWaiter{}
	}
	return writeAll(&d.handle, asyncFx{ctx: ctx, bus: d.bus, waiter: w}, address, data)
}

// Read is Device.Read over a ContextI2C.
func (d *AsyncDevice) Read(ctx context.Context, address uint32, data []byte) error {
	return readAll(&d.handle, asyncFx{ctx: ctx, bus: d.bus}, address, data)
}

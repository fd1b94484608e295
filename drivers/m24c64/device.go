package m24c64

import "time"

// Delayer spends the gap between write attempts on a blocking Device.
type Delayer interface {
	Sleep(d time.Duration)
}

// SleepDelayer blocks the calling goroutine with time.Sleep.
type SleepDelayer struct{}

func (SleepDelayer) Sleep(d time.Duration) { time.Sleep(d) }

type blockingFx struct {
	d     *Device
	delay Delayer
}

func (f blockingFx) tx(addr uint16, w, r []byte) error { return f.d.bus.Tx(addr, w, r) }

func (f blockingFx) wait(d time.Duration) error {
	f.delay.Sleep(d)
	return nil
}

// Write stores data starting at address, one page at a time. Each page is
// retried while the part is busy. On error, pages before the failing one have
// already been written; later pages are not attempted.
// A nil delay uses SleepDelayer.
func (d *Device) Write(address uint32, data []byte, delay Delayer) error {
	if delay == nil {
		delay = SleepDelayer{}
	}
	return writeAll(&d.handle, blockingFx{d: d, delay: delay}, address, data)
}

// Read fills data from address onwards. On error, data is filled up to the
// failing page.
func (d *Device) Read(address uint32, data []byte) error {
	return readAll(&d.handle, blockingFx{d: d}, address, data)
}

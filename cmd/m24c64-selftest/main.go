//go:build rp2040

// Command m24c64-selftest exercises a real M24C64 on I2C0 and reports over
// the USB console. The LED stays on if every check passed and blinks
// otherwise.
//
// Only the last four pages are touched; their contents are saved first and
// put back at the end.
package main

import (
	"bytes"
	"context"
	"machine"
	"time"

	"m24c64-go/drivers/m24c64"
	"m24c64-go/internal/i2cowner"
	"m24c64-go/x/conv"
)

const (
	scratch    = m24c64.Capacity - 4*m24c64.PageSize
	scratchLen = 4 * m24c64.PageSize
)

func logln(parts ...string) {
	var b []byte
	b = append(b, "[selftest] "...)
	for _, p := range parts {
		b = append(b, p...)
	}
	println(string(b))
}

func hex(n uint32) string  { return string(conv.AppendHex(nil, n, 4)) }
func itoa(n int) string    { return string(conv.AppendInt(nil, n)) }
func dump(b []byte) string { return string(conv.AppendBytes(nil, b, ' ')) }

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

// check writes want at addr, waits out the write cycle and reads it back.
func check(name string, dev *m24c64.Device, addr uint32, want []byte) bool {
	if err := dev.Write(addr, want, nil); err != nil {
		logln(name, ": write ", hex(addr), ": ", err.Error())
		return false
	}
	time.Sleep(m24c64.WriteCycleTime)
	got := make([]byte, len(want))
	if err := dev.Read(addr, got); err != nil {
		logln(name, ": read ", hex(addr), ": ", err.Error())
		return false
	}
	if !bytes.Equal(got, want) {
		logln(name, ": mismatch at ", hex(addr))
		logln("  want ", dump(want))
		logln("  got  ", dump(got))
		return false
	}
	return true
}

func TestSmallWrite(dev *m24c64.Device) bool {
	return check("TestSmallWrite", dev, scratch+0x12, []byte{0x10, 0x20, 0x30, 0x40})
}

func TestFullPage(dev *m24c64.Device) bool {
	return check("TestFullPage", dev, scratch+m24c64.PageSize, pattern(m24c64.PageSize, 0x01))
}

func TestAcrossPages(dev *m24c64.Device) bool {
	// Starts mid-page and ends mid-page three pages on.
	return check("TestAcrossPages", dev, scratch+5, pattern(scratchLen-10, 0x80))
}

func TestLastByte(dev *m24c64.Device) bool {
	return check("TestLastByte", dev, m24c64.Capacity-1, []byte{0x5A})
}

func TestAsyncThroughOwner(i2c *machine.I2C) bool {
	owner := i2cowner.New("i2c0", i2c, 4)
	defer owner.Stop()
	dev := m24c64.NewAsync(owner, 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := pattern(40, 0x33)
	if err := dev.Write(ctx, scratch+20, want, nil); err != nil {
		logln("TestAsyncThroughOwner: write: ", err.Error())
		return false
	}
	time.Sleep(m24c64.WriteCycleTime)
	got := make([]byte, len(want))
	if err := dev.Read(ctx, scratch+20, got); err != nil {
		logln("TestAsyncThroughOwner: read: ", err.Error())
		return false
	}
	if !bytes.Equal(got, want) {
		logln("TestAsyncThroughOwner: mismatch")
		return false
	}
	return true
}

func TestWrongAddressFails(i2c *machine.I2C) bool {
	// E pins are strapped low; 0x57 should not answer.
	dev := m24c64.New(i2c, 7)
	dev.Configure(m24c64.Config{Retries: 2})
	if err := dev.Write(scratch, []byte{0}, nil); err == nil {
		logln("TestWrongAddressFails: write to 0x57 succeeded")
		return false
	}
	return true
}

type testFn struct {
	name string
	fn   func() bool
}

func main() {
	// Give the USB CDC time to enumerate so logs show up reliably.
	time.Sleep(250 * time.Millisecond)

	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	led.High()

	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{
		SCL:       machine.I2C0_SCL_PIN,
		SDA:       machine.I2C0_SDA_PIN,
		Frequency: 100 * machine.KHz,
	}); err != nil {
		logln("i2c0 configure: ", err.Error())
	}
	dev := m24c64.New(i2c, 0)

	saved := make([]byte, scratchLen)
	if err := dev.Read(scratch, saved); err != nil {
		logln("cannot save scratch area: ", err.Error())
		blink()
	}

	tests := []testFn{
		{"TestSmallWrite", func() bool { return TestSmallWrite(&dev) }},
		{"TestFullPage", func() bool { return TestFullPage(&dev) }},
		{"TestAcrossPages", func() bool { return TestAcrossPages(&dev) }},
		{"TestLastByte", func() bool { return TestLastByte(&dev) }},
		{"TestAsyncThroughOwner", func() bool { return TestAsyncThroughOwner(i2c) }},
		{"TestWrongAddressFails", func() bool { return TestWrongAddressFails(i2c) }},
	}

	passed, failed := 0, 0
	logln("== m24c64 self-test starting at ", hex(scratch), " ==")
	for _, tc := range tests {
		if tc.fn() {
			logln("[PASS] ", tc.name)
			passed++
		} else {
			logln("[FAIL] ", tc.name)
			failed++
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := dev.Write(scratch, saved, nil); err != nil {
		logln("restore failed: ", err.Error())
		failed++
	}
	logln("== done: ", itoa(passed), " passed, ", itoa(failed), " failed ==")

	if failed == 0 {
		for {
			led.High()
			time.Sleep(2 * time.Second)
		}
	}
	blink()
}

func blink() {
	led := machine.LED
	for {
		led.High()
		time.Sleep(250 * time.Millisecond)
		led.Low()
		time.Sleep(250 * time.Millisecond)
	}
}

// Package m24c64 provides a driver for the ST M24C64 64-Kbit I²C EEPROM.
//
// Reads and writes of any length are split at 32-byte page boundaries. After
// each page write the part goes quiet on the bus while it commits the page, so
// the driver re-issues the write until it is acknowledged:
//
//	d := m24c64.New(i2c, 0b000)
//	err := d.Write(0x12, []byte{0x10, 0x20}, m24c64.SleepDelayer{})
//	err = d.Read(0x12, buf)
//
// Two flavours share the same chunking and retry code. Device blocks on a
// drivers.I2C. AsyncDevice takes a context and a ContextI2C, so bus
// transactions and retry waits are points where other goroutines run.
//
// Bus errors are returned unchanged; the driver defines none of its own.
package m24c64

import (
	"time"

	"tinygo.org/x/drivers"
)

// Geometry of the 64-Kbit part.
const (
	PageSize  = 32
	Capacity  = 8192
	PageCount = Capacity / PageSize
)

// BaseAddress is the 7-bit family code; the E2..E0 pins fill the low bits.
const BaseAddress = 0x50

// WriteCycleTime is the datasheet maximum tW. The part ignores its address
// until the internal write cycle ends.
const WriteCycleTime = 5 * time.Millisecond

const (
	headerLen = 2
	bufLen    = headerLen + PageSize

	defaultRetries    = 10
	defaultRetryDelay = time.Millisecond
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Retries is the number of write attempts per page before giving up.
	// Default 10.
	Retries int
	// RetryDelay is the wait between write attempts. Default 1 ms.
	RetryDelay time.Duration
	// Logger receives trace output. Default discards.
	Logger Logger
}

func (c Config) withDefaults() Config {
	if c.Retries <= 0 {
		c.Retries = defaultRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
	return c
}

// handle is the state both flavours share: the E-pin bits, the policy and
// the scratch buffer every transaction is built in.
type handle struct {
	eAddr uint8
	cfg   Config
	buf   [bufLen]byte // header + one page; reused to avoid allocations
}

func newHandle(eAddr uint8) handle {
	return handle{eAddr: eAddr & 0x07, cfg: Config{}.withDefaults()}
}

// Address returns the 7-bit bus address the part answers on.
func (h *handle) Address() uint16 { return uint16(BaseAddress | h.eAddr) }

// Configure applies optional settings. Zero fields fall back to defaults.
func (h *handle) Configure(cfg Config) { h.cfg = cfg.withDefaults() }

// putHeader encodes the big-endian memory address into buf[0:2].
func (h *handle) putHeader(address uint32) {
	h.buf[0] = byte(address >> 8)
	h.buf[1] = byte(address)
}

// Device wraps a blocking I²C connection to an M24C64.
type Device struct {
	handle
	bus drivers.I2C
}

// New creates a Device for the part whose E pins are strapped to eAddr (0..7).
// The I²C bus must already be configured. No bus traffic happens here.
func New(bus drivers.I2C, eAddr uint8) Device {
	return Device{handle: newHandle(eAddr), bus: bus}
}

// Package m24c64sim is an in-memory M24C64 that speaks the driver's side of
// the bus. It is used by tests and by the host builds of the tools.
//
// Behaviour follows the datasheet where it matters to the driver: a write
// latches into one 32-byte page and rolls over inside it, a read
// auto-increments through the whole array and wraps, and after every
// acknowledged write the part stops acknowledging for a while.
package m24c64sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"m24c64-go/drivers/m24c64"
)

// ErrNack is returned when the part does not acknowledge its address.
var ErrNack = errors.New("m24c64sim: nack")

var (
	_ drivers.I2C       = (*EEPROM)(nil)
	_ m24c64.ContextI2C = (*EEPROM)(nil)
)

// Tx records one bus transaction addressed at the bus.
type Tx struct {
	Addr uint16
	W    []byte
	RLen int
}

// EEPROM is a simulated part. Exported fields must be set before the first
// transaction.
type EEPROM struct {
	// BusyPolls is how many transactions are NACKed after each write.
	BusyPolls int
	// WriteCycle, if non-zero, makes the part NACK for this long after each
	// write instead of for a fixed number of polls.
	WriteCycle time.Duration
	// FailWrite, if set, is consulted on every write attempt that reaches
	// the part (n counts from 1). A non-nil result is returned as-is.
	FailWrite func(n int) error

	mu        sync.Mutex
	addr      uint16
	mem       [m24c64.Capacity]byte
	ptr       uint32
	busyLeft  int
	busyUntil time.Time
	writes    int
	log       []Tx
}

// New returns an erased part (all 0xFF) strapped to eAddr.
func New(eAddr uint8) *EEPROM {
	e := &EEPROM{addr: uint16(m24c64.BaseAddress | (eAddr & 0x07))}
	for i := range e.mem {
		e.mem[i] = 0xFF
	}
	return e
}

// Tx implements drivers.I2C.
func (e *EEPROM) Tx(addr uint16, w, r []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log = append(e.log, Tx{Addr: addr, W: append([]byte(nil), w...), RLen: len(r)})
	if addr != e.addr || e.busy() {
		return ErrNack
	}
	if len(r) == 0 {
		return e.write(w)
	}
	if len(w) >= 2 {
		e.ptr = wordAddr(w)
	}
	for i := range r {
		r[i] = e.mem[e.ptr]
		e.ptr = (e.ptr + 1) % m24c64.Capacity
	}
	return nil
}

// TxContext implements m24c64.ContextI2C.
func (e *EEPROM) TxContext(ctx context.Context, addr uint16, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.Tx(addr, w, r)
}

func (e *EEPROM) write(w []byte) error {
	e.writes++
	if e.FailWrite != nil {
		if err := e.FailWrite(e.writes); err != nil {
			return err
		}
	}
	if len(w) < 2 {
		// Address probe.
		return nil
	}
	a := wordAddr(w)
	e.ptr = a
	payload := w[2:]
	if len(payload) == 0 {
		// Dummy write: sets the pointer, no write cycle.
		return nil
	}
	page := a &^ (m24c64.PageSize - 1)
	off := a - page
	for i, b := range payload {
		e.mem[page+(off+uint32(i))%m24c64.PageSize] = b
	}
	if e.WriteCycle > 0 {
		e.busyUntil = time.Now().Add(e.WriteCycle)
	} else {
		e.busyLeft = e.BusyPolls
	}
	return nil
}

func (e *EEPROM) busy() bool {
	if e.WriteCycle > 0 {
		return time.Now().Before(e.busyUntil)
	}
	if e.busyLeft > 0 {
		e.busyLeft--
		return true
	}
	return false
}

func wordAddr(w []byte) uint32 {
	return (uint32(w[0])<<8 | uint32(w[1])) % m24c64.Capacity
}

// Bytes returns a copy of n bytes of memory from addr, wrapping at the end.
func (e *EEPROM) Bytes(addr uint32, n int) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = e.mem[(addr+uint32(i))%m24c64.Capacity]
	}
	return out
}

// Load writes data into memory directly, bypassing the bus.
func (e *EEPROM) Load(addr uint32, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, b := range data {
		e.mem[(addr+uint32(i))%m24c64.Capacity] = b
	}
}

// Transactions returns a copy of the transaction log.
func (e *EEPROM) Transactions() []Tx {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Tx(nil), e.log...)
}

// Writes returns how many write attempts reached the part.
func (e *EEPROM) Writes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writes
}

// Reset clears the transaction log and counters; memory is kept.
func (e *EEPROM) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = nil
	e.writes = 0
	e.busyLeft = 0
	e.busyUntil = time.Time{}
}

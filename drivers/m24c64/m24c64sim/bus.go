package m24c64sim

import (
	"context"

	"tinygo.org/x/drivers"
)

var _ drivers.I2C = Bus(nil)

// Bus is a multi-drop bus of simulated parts. A transaction goes to the part
// strapped to its address; nobody answering is a NACK.
type Bus []*EEPROM

// Address returns the 7-bit bus address the part answers on.
func (e *EEPROM) Address() uint16 { return e.addr }

func (b Bus) Tx(addr uint16, w, r []byte) error {
	for _, e := range b {
		if e.addr == addr {
			return e.Tx(addr, w, r)
		}
	}
	return ErrNack
}

func (b Bus) TxContext(ctx context.Context, addr uint16, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Tx(addr, w, r)
}

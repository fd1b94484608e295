package m24c64

import "time"

// effects is what differs between the blocking and the context-aware
// flavours: how one bus transaction runs and how the retry gap is spent.
// The page loop and the retry policy below are written once against it.
type effects interface {
	tx(addr uint16, w, r []byte) error
	wait(d time.Duration) error
}

func writeAll[E effects](h *handle, fx E, address uint32, data []byte) error {
	h.cfg.Logger.Info("write", "unit", h.eAddr, "addr", address, "len", len(data))
	p := Pages(address, len(data))
	for c, ok := p.Next(); ok; c, ok = p.Next() {
		if err := writePage(h, fx, c.Addr, data[c.Off:c.Off+c.Len]); err != nil {
			return err
		}
	}
	return nil
}

// writePage sends one page-bounded write. While the part is committing a
// previous page it NACKs its address, so failures are retried up to
// cfg.Retries attempts with cfg.RetryDelay between them. The error from the
// last attempt is returned.
func writePage[E effects](h *handle, fx E, address uint32, data []byte) error {
	h.putHeader(address)
	n := copy(h.buf[headerLen:], data)
	frame := h.buf[:headerLen+n]

	var err error
	for attempt := 1; ; attempt++ {
		if err = fx.tx(h.Address(), frame, nil); err == nil {
			h.cfg.Logger.Debug("page written", "unit", h.eAddr, "addr", address, "tries", attempt)
			return nil
		}
		if attempt >= h.cfg.Retries {
			break
		}
		if werr := fx.wait(h.cfg.RetryDelay); werr != nil {
			return werr
		}
	}
	h.cfg.Logger.Error("page write failed", "unit", h.eAddr, "addr", address, "err", err)
	return err
}

func readAll[E effects](h *handle, fx E, address uint32, data []byte) error {
	h.cfg.Logger.Info("read", "unit", h.eAddr, "addr", address, "len", len(data))
	p := Pages(address, len(data))
	for c, ok := p.Next(); ok; c, ok = p.Next() {
		if err := readPage(h, fx, c.Addr, data[c.Off:c.Off+c.Len]); err != nil {
			return err
		}
	}
	return nil
}

// readPage sets the address pointer and reads back in one transaction
// (repeated start). Reads are not retried.
func readPage[E effects](h *handle, fx E, address uint32, data []byte) error {
	h.putHeader(address)
	return fx.tx(h.Address(), h.buf[:headerLen], data)
}

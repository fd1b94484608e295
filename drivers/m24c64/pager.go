package m24c64

// Chunk is one page-bounded piece of a larger read or write.
type Chunk struct {
	Addr uint32 // device address of the first byte
	Off  int    // offset into the caller's buffer
	Len  int    // 1..PageSize, never crosses a page boundary
}

// Pager walks a request in ascending, page-aligned chunks.
// The zero value yields nothing.
type Pager struct {
	base uint64
	cur  uint64
	end  uint64
}

// Pages returns a Pager over [address, address+length). No capacity check is
// made; addresses past the end of the part are the caller's concern.
func Pages(address uint32, length int) Pager {
	if length < 0 {
		length = 0
	}
	a := uint64(address)
	return Pager{base: a, cur: a, end: a + uint64(length)}
}

// Next returns the next chunk, or false once the range is covered.
func (p *Pager) Next() (Chunk, bool) {
	if p.cur >= p.end {
		return Chunk{}, false
	}
	room := PageSize - p.cur%PageSize
	n := p.end - p.cur
	if n > room {
		n = room
	}
	c := Chunk{Addr: uint32(p.cur), Off: int(p.cur - p.base), Len: int(n)}
	p.cur += n
	return c, true
}

// AppendChunks appends every chunk of [address, address+length) to dst.
func AppendChunks(dst []Chunk, address uint32, length int) []Chunk {
	p := Pages(address, length)
	for c, ok := p.Next(); ok; c, ok = p.Next() {
		dst = append(dst, c)
	}
	return dst
}

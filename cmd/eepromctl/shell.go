package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"m24c64-go/bus"
	"m24c64-go/drivers/m24c64"
	"m24c64-go/errcode"
	"m24c64-go/services/storage"
	"m24c64-go/types"
)

const (
	requestTimeout = 2 * time.Second
	dumpDefault    = 256
	// Largest single control the service accepts.
	maxChunk = m24c64.Capacity / 2
)

type shell struct {
	conn *bus.Connection
	out  io.Writer
	dev  string
	ids  []string
}

func (s *shell) help() {
	fmt.Fprint(s.out, `
Commands:
  read <addr> <len>          read bytes and print them
  write <addr> <byte>...     write bytes (decimal, 0x.. or 0b..)
  puts <addr> <text>         write a string (quote it to keep spaces)
  fill <addr> <len> <byte>   write len copies of byte
  dump [addr] [len]          hex dump, default 0 256
  use <id>                   select a device
  devices                    list devices
  help                       this text
  quit                       leave
`)
}

// exec runs one command line. quit reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) (quit bool, err error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "help", "?":
		s.help()
	case "quit", "exit", "q":
		return true, nil
	case "devices":
		for _, id := range s.ids {
			mark := " "
			if id == s.dev {
				mark = "*"
			}
			fmt.Fprintf(s.out, "%s %s\n", mark, id)
		}
	case "use":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: use <id>")
		}
		for _, id := range s.ids {
			if id == args[0] {
				s.dev = id
				return false, nil
			}
		}
		return false, fmt.Errorf("no device %q", args[0])
	case "read", "r":
		return false, s.cmdRead(ctx, args, false)
	case "dump", "d":
		return false, s.cmdRead(ctx, args, true)
	case "write", "w":
		return false, s.cmdWrite(ctx, args)
	case "puts":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: puts <addr> <text>")
		}
		addr, err := parseAddr(args[0])
		if err != nil {
			return false, err
		}
		return false, s.write(ctx, addr, []byte(args[1]))
	case "fill":
		return false, s.cmdFill(ctx, args)
	default:
		return false, fmt.Errorf("unknown command %q (type 'help')", cmd)
	}
	return false, nil
}

func (s *shell) cmdRead(ctx context.Context, args []string, dump bool) error {
	addr, n := uint32(0), dumpDefault
	if !dump && len(args) != 2 {
		return fmt.Errorf("usage: read <addr> <len>")
	}
	if len(args) > 2 {
		return fmt.Errorf("usage: dump [addr] [len]")
	}
	var err error
	if len(args) > 0 {
		if addr, err = parseAddr(args[0]); err != nil {
			return err
		}
	}
	if len(args) > 1 {
		if n, err = strconv.Atoi(args[1]); err != nil || n <= 0 {
			return fmt.Errorf("bad length %q", args[1])
		}
	}

	data := make([]byte, 0, n)
	for off := 0; off < n; off += maxChunk {
		c := min(maxChunk, n-off)
		b, err := s.read(ctx, addr+uint32(off), c)
		if err != nil {
			return err
		}
		data = append(data, b...)
	}

	if dump {
		s.hexdump(addr, data)
		return nil
	}
	fmt.Fprintln(s.out, hex.EncodeToString(data))
	return nil
}

func (s *shell) cmdWrite(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: write <addr> <byte>...")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	data := make([]byte, len(args)-1)
	for i, a := range args[1:] {
		if data[i], err = parseByte(a); err != nil {
			return err
		}
	}
	return s.write(ctx, addr, data)
}

func (s *shell) cmdFill(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: fill <addr> <len> <byte>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 {
		return fmt.Errorf("bad length %q", args[1])
	}
	v, err := parseByte(args[2])
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = v
	}
	return s.write(ctx, addr, buf)
}

// write splits data into controls the service accepts.
func (s *shell) write(ctx context.Context, addr uint32, data []byte) error {
	for off := 0; off < len(data); off += maxChunk {
		end := min(off+maxChunk, len(data))
		if _, err := s.request(ctx, "write", types.EEPROMWrite{Addr: addr + uint32(off), Data: data[off:end]}); err != nil {
			return err
		}
	}
	fmt.Fprintf(s.out, "wrote %d bytes at 0x%04x\n", len(data), addr)
	return nil
}

func (s *shell) read(ctx context.Context, addr uint32, n int) ([]byte, error) {
	p, err := s.request(ctx, "read", types.EEPROMRead{Addr: addr, Len: n})
	if err != nil {
		return nil, err
	}
	rd, ok := p.(types.EEPROMData)
	if !ok {
		return nil, errcode.InvalidPayload
	}
	return rd.Data, nil
}

func (s *shell) request(ctx context.Context, verb string, payload any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	r, err := s.conn.RequestWait(ctx, s.conn.NewMessage(storage.CapCtrl(s.dev, verb), payload, false))
	if err != nil {
		return nil, errcode.Wrap(verb, err)
	}
	if er, ok := r.Payload.(types.ErrorReply); ok {
		return nil, fmt.Errorf("%s: %w", verb, errcode.Code(er.Error))
	}
	return r.Payload, nil
}

// hexdump prints 16 bytes per line with device addresses and ASCII.
func (s *shell) hexdump(addr uint32, data []byte) {
	for off := 0; off < len(data); off += 16 {
		line := data[off:min(off+16, len(data))]
		fmt.Fprintf(s.out, "%04x  % x", addr+uint32(off), line)
		fmt.Fprintf(s.out, "%*s |", 3*(16-len(line))+1, "")
		for _, c := range line {
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			fmt.Fprintf(s.out, "%c", c)
		}
		fmt.Fprintln(s.out, "|")
	}
}

func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil || v >= m24c64.Capacity {
		return 0, fmt.Errorf("bad address %q", s)
	}
	return uint32(v), nil
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("bad byte %q", s)
	}
	return byte(v), nil
}

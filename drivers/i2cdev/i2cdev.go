//go:build linux

// Package i2cdev talks to I²C devices through the Linux i2c-dev interface
// (/dev/i2c-N). Bus satisfies drivers.I2C, so the tinygo drivers run
// unchanged on a Raspberry Pi or any other Linux board.
//
// Every Tx is one I2C_RDWR ioctl, so a write followed by a read is sent with
// a repeated start and no stop in between.
package i2cdev

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
	"tinygo.org/x/drivers"
)

// From <linux/i2c-dev.h> and <linux/i2c.h>.
const (
	ioctlRDWR = 0x0707
	flagRead  = 0x0001
)

var _ drivers.I2C = (*Bus)(nil)

var ErrClosed = errors.New("i2cdev: closed")

// message mirrors struct i2c_msg. buf stays an unsafe.Pointer so the GC keeps
// tracking the buffer it refers to.
type message struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   unsafe.Pointer
}

// rdwrData mirrors struct i2c_rdwr_ioctl_data.
type rdwrData struct {
	msgs  unsafe.Pointer
	nmsgs uint32
}

type Bus struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open opens bus n, i.e. /dev/i2c-n.
func Open(n int) (*Bus, error) {
	return OpenPath(fmt.Sprintf("/dev/i2c-%d", n))
}

// OpenPath opens an i2c-dev node by path.
func OpenPath(path string) (*Bus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2cdev: %w", err)
	}
	return &Bus{f: f, path: path}, nil
}

func (b *Bus) String() string { return b.path }

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Tx implements drivers.I2C. Transactions are serialised per Bus.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	msgs := messages(addr, w, r)
	if len(msgs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return ErrClosed
	}

	data := rdwrData{msgs: unsafe.Pointer(&msgs[0]), nmsgs: uint32(len(msgs))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), ioctlRDWR, uintptr(unsafe.Pointer(&data)))
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	runtime.KeepAlive(msgs)
	if errno != 0 {
		return fmt.Errorf("i2cdev: %s addr %#02x: %w", b.path, addr, errno)
	}
	return nil
}

// messages builds the i2c_msg list for one transaction: a write part, a read
// part, or both.
func messages(addr uint16, w, r []byte) []message {
	msgs := make([]message, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, message{addr: addr, len: uint16(len(w)), buf: unsafe.Pointer(&w[0])})
	}
	if len(r) > 0 {
		msgs = append(msgs, message{addr: addr, flags: flagRead, len: uint16(len(r)), buf: unsafe.Pointer(&r[0])})
	}
	return msgs
}

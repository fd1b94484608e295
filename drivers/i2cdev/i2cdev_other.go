//go:build !linux

package i2cdev

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("i2cdev: closed")

// ErrUnsupported is returned by Open on systems without i2c-dev.
var ErrUnsupported = errors.New("i2cdev: only supported on linux")

type Bus struct{ path string }

func Open(n int) (*Bus, error) { return OpenPath(fmt.Sprintf("/dev/i2c-%d", n)) }

func OpenPath(path string) (*Bus, error) { return nil, ErrUnsupported }

func (b *Bus) String() string                    { return b.path }
func (b *Bus) Close() error                      { return nil }
func (b *Bus) Tx(addr uint16, w, r []byte) error { return ErrClosed }

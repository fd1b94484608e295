// Package i2cowner serialises access to an I²C bus behind one goroutine.
// Callers on any goroutine submit transactions and park until theirs has run,
// which is what lets several EEPROM tasks share a bus without locks.
package i2cowner

import (
	"context"
	"errors"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"tinygo.org/x/drivers"
)

// ErrStopped is returned for transactions submitted to a stopped owner.
var ErrStopped = errors.New("i2cowner: stopped")

type i2cReq struct {
	addr uint16
	w, r []byte
	done chan error
}

// Owner runs every transaction for one bus on its own goroutine.
type Owner struct {
	id     string
	hw     drivers.I2C
	reqs   chan i2cReq
	quit   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// Ensure compile-time conformance with drivers.I2C.
var _ drivers.I2C = (*Owner)(nil)

// New starts an owner for hw with a queue of depth pending transactions.
func New(id string, hw drivers.I2C, depth int) *Owner {
	if depth <= 0 {
		depth = 16
	}
	o := &Owner{
		id:     id,
		hw:     hw,
		reqs:   make(chan i2cReq, depth),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go o.loop()
	return o
}

func (o *Owner) ID() string { return o.id }

func (o *Owner) loop() {
	defer close(o.exited)
	for {
		select {
		case req := <-o.reqs:
			req.done <- o.hw.Tx(req.addr, req.w, req.r)
		case <-o.quit:
			return
		}
	}
}

// Stop ends the worker after the transaction in flight, if any.
func (o *Owner) Stop() { o.once.Do(func() { close(o.quit) }) }

// TxContext queues a transaction and waits for it. ctx only bounds the time
// spent waiting for a queue slot: once queued, the transaction runs to
// completion before TxContext returns, so w and r are never touched after.
func (o *Owner) TxContext(ctx context.Context, addr uint16, w, r []byte) error {
	req := i2cReq{addr: addr, w: w, r: r, done: make(chan error, 1)}
	select {
	case o.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.exited:
		return ErrStopped
	}
	select {
	case err := <-req.done:
		return err
	case <-o.exited:
		// The loop may have finished our request just before exiting.
		select {
		case err := <-req.done:
			return err
		default:
			return ErrStopped
		}
	}
}

// Tx implements drivers.I2C; it blocks until the transaction has run.
func (o *Owner) Tx(addr uint16, w, r []byte) error {
	return o.TxContext(context.Background(), addr, w, r)
}

// Pool hands out one Owner per bus id.
type Pool struct {
	owners *xsync.MapOf[string, *Owner]
	depth  int
}

func NewPool(depth int) *Pool {
	return &Pool{owners: xsync.NewMapOf[string, *Owner](), depth: depth}
}

// Get returns the owner for id, starting one over hw on first use.
func (p *Pool) Get(id string, hw drivers.I2C) *Owner {
	o, _ := p.owners.LoadOrCompute(id, func() *Owner { return New(id, hw, p.depth) })
	return o
}

// Release stops and forgets the owner for id.
func (p *Pool) Release(id string) {
	if o, ok := p.owners.LoadAndDelete(id); ok {
		o.Stop()
	}
}

// Close stops every owner.
func (p *Pool) Close() {
	p.owners.Range(func(id string, o *Owner) bool {
		p.owners.Delete(id)
		o.Stop()
		return true
	})
}

func (p *Pool) Len() int { return p.owners.Size() }

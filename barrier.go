package rmsync

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// Barrier is a completion barrier similar to sync.WaitGroup, built
// around cloneable handles. Each BarrierHandle registers one unit of
// work; calling Done on it signals completion. Wait blocks until the
// number of received signals catches up with the registered total.
//
// Unlike sync.WaitGroup, work may be registered while goroutines are
// waiting: waiters re-check the total after every signal. Any number
// of goroutines may wait at the same time, and all of them are
// released. Close releases all current and future waiters regardless
// of the pending work.
//
// A Barrier must be created with NewBarrier.
type Barrier struct {
	total    atomic.Uint64
	received atomic.Uint64
	mu       sync.Mutex
	signal   chan struct{} // closed and replaced on every signal
	closed   bool
	logger   hclog.Logger
}

// BarrierHandle is a registered unit of work of a Barrier.
type BarrierHandle struct {
	b    *Barrier
	once sync.Once
}

// NewBarrier creates a new Barrier instance with no registered work.
// Only the WithLogger option is taken into account.
func NewBarrier(options ...func(*Config)) *Barrier {
	c := newConfig(options)
	return &Barrier{
		signal: make(chan struct{}),
		logger: c.logger.Named("barrier"),
	}
}

// Add registers n units of work. Each of them must be completed
// with a call to Done.
func (b *Barrier) Add(n uint64) {
	b.total.Add(n)
}

// Clone registers one unit of work and returns a handle for it.
func (b *Barrier) Clone() *BarrierHandle {
	b.Add(1)
	return &BarrierHandle{b: b}
}

// Done signals the completion of one unit of work registered with
// Add. Signals received after Close are ignored.
func (b *Barrier) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.received.Add(1)
	close(b.signal)
	b.signal = make(chan struct{})
}

// Close releases all current and future waiters. It is safe to call
// Close more than once.
func (b *Barrier) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.signal)
	if pending := b.Pending(); pending > 0 {
		b.logger.Debug("barrier closed with pending work", "pending", pending)
	}
}

// Pending returns the number of registered units of work that have
// not signalled completion yet. It may be negative if Done was called
// more times than work was registered.
func (b *Barrier) Pending() int64 {
	return int64(b.total.Load()) - int64(b.received.Load())
}

// Total returns the number of units of work registered so far.
func (b *Barrier) Total() uint64 {
	return b.total.Load()
}

// Wait blocks until all registered work is done or the barrier is
// closed. It returns immediately if no work was ever registered.
func (b *Barrier) Wait() {
	_ = b.WaitContext(context.Background())
}

// WaitContext is like Wait, but gives up waiting when ctx is done
// and returns the context's error.
func (b *Barrier) WaitContext(ctx context.Context) error {
	if b.total.Load() == 0 {
		return nil
	}
	for {
		b.mu.Lock()
		sig, closed := b.signal, b.closed
		b.mu.Unlock()
		if closed {
			return nil
		}
		// The total may grow after every signal, so both counters
		// are re-read.
		if received, total := b.received.Load(), b.total.Load(); received >= total {
			b.logger.Trace("barrier released", "received", received, "total", total)
			return nil
		}
		select {
		case <-sig:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Clone registers one more unit of work on the handle's barrier and
// returns a handle for it.
func (h *BarrierHandle) Clone() *BarrierHandle {
	return h.b.Clone()
}

// Done signals the completion of the handle's unit of work. Only the
// first call has an effect.
func (h *BarrierHandle) Done() {
	h.once.Do(h.b.Done)
}

package rmsync

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// number of counter stripes
const cstripes = 32

// pool for P tokens
var ptokenPool sync.Pool

// a P token is used to point at the current OS thread (P)
// on which the goroutine is run; exact identity of the thread,
// as well as P migration tolerance, is not important since
// it's used to as a best effort mechanism for assigning
// concurrent operations (goroutines) to different stripes of
// the counter
type ptoken struct {
	idx uint32
}

// A Counter is a striped int64 counter.
//
// Containers use it to count writers that had to wait for the
// writer lock: such increments happen outside of the lock, so a
// single atomically updated int64 would become a contention point
// of its own.
//
// A Counter must not be copied after first use.
type Counter struct {
	stripes [cstripes]cstripe
}

type cstripe struct {
	c int64
	//lint:ignore U1000 prevents false sharing
	pad [cacheLineSize - 8]byte
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Dec decrements the counter by 1.
func (c *Counter) Dec() {
	c.Add(-1)
}

// Add adds the delta to the counter.
func (c *Counter) Add(delta int64) {
	t, ok := ptokenPool.Get().(*ptoken)
	if !ok {
		t = new(ptoken)
		t.idx = uint32(mix64(uint64(uintptr(unsafe.Pointer(t)))) % cstripes)
	}
	atomic.AddInt64(&c.stripes[t.idx].c, delta)
	ptokenPool.Put(t)
}

// Value returns the current counter value.
// The returned value may not include all of the latest operations in
// presence of concurrent modifications of the counter.
func (c *Counter) Value() int64 {
	v := int64(0)
	for i := range c.stripes {
		v += atomic.LoadInt64(&c.stripes[i].c)
	}
	return v
}

// Reset resets the counter to zero.
// This method should only be used when it is known that there are
// no concurrent modifications of the counter.
func (c *Counter) Reset() {
	for i := range c.stripes {
		atomic.StoreInt64(&c.stripes[i].c, 0)
	}
}

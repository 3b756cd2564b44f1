package rmsync

import "sync"

// Ref is a scoped mutable reference to a single container element,
// returned by the GetMut methods. While a Ref is held, the
// container's writer lock is held as well: other writers block, but
// readers proceed and observe every Set as soon as it returns.
//
// A Ref must be released exactly once; Release is idempotent, any
// other method panics after Release.
type Ref[V any] struct {
	value    V
	store    func(V)
	unlock   func()
	once     sync.Once
	released bool
}

func newRef[V any](value V, store func(V), unlock func()) *Ref[V] {
	return &Ref[V]{value: value, store: store, unlock: unlock}
}

// Value returns the referenced value as of the last Set, or as of
// the GetMut call if Set was never called.
func (r *Ref[V]) Value() V {
	r.checkLive()
	return r.value
}

// Set replaces the referenced value. The new value is visible to
// readers once Set returns.
func (r *Ref[V]) Set(value V) {
	r.checkLive()
	r.store(value)
	r.value = value
}

// Update applies f to the referenced value and stores the result.
func (r *Ref[V]) Update(f func(V) V) {
	r.Set(f(r.Value()))
}

// Release releases the writer lock held by the reference.
func (r *Ref[V]) Release() {
	r.once.Do(func() {
		r.released = true
		r.unlock()
	})
}

func (r *Ref[V]) checkLive() {
	if r.released {
		panic("use of released Ref")
	}
}

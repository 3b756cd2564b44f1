package rmsync

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

const minSequenceCap = 8

// Sequence is a growable, indexable list that is safe for concurrent
// use by multiple goroutines and optimized for read-mostly workloads.
//
// Readers load the published table header, a slice of atomic element
// pointers, and never take locks. Writers are serialized by a writer
// lock. Push stores the new element into spare capacity past the
// published length and then publishes a longer header. Insert and
// Remove shift elements in a new backing array, so readers of the
// previous header keep a consistent view. Any write is visible to
// readers once the write call returns.
//
// A Sequence must be created with one of the NewSequence* or
// SequenceOf functions, or be the target of JSON or YAML decoding,
// and must not be copied after first use.
type Sequence[V any] struct {
	table    atomic.Pointer[seqTable[V]]
	reallocs atomic.Int64
	wlock    *writeLock
	logger   hclog.Logger
}

type seqTable[V any] struct {
	// len(slots) is the published length, cap(slots) the capacity.
	slots []atomic.Pointer[V]
}

// NewSequence creates a new empty Sequence instance. WithPresize
// sets the initial capacity.
func NewSequence[V any](options ...func(*Config)) *Sequence[V] {
	s := &Sequence[V]{}
	s.init(newConfig(options))
	return s
}

// NewSequenceFrom creates a new Sequence instance holding a copy of
// the elements of src.
func NewSequenceFrom[V any](src []V, options ...func(*Config)) *Sequence[V] {
	s := NewSequence[V](options...)
	s.wlock.lock()
	s.replaceLocked(src)
	s.wlock.unlock()
	return s
}

// SequenceOf creates a new Sequence instance holding the given values.
func SequenceOf[V any](values ...V) *Sequence[V] {
	return NewSequenceFrom(values)
}

func (s *Sequence[V]) init(c *Config) {
	s.wlock = newWriteLock()
	s.logger = c.logger.Named("sequence")
	s.table.Store(&seqTable[V]{slots: make([]atomic.Pointer[V], 0, max(c.sizeHint, 0))})
}

func (s *Sequence[V]) replaceLocked(src []V) {
	capacity := max(len(src), cap(s.table.Load().slots))
	slots := make([]atomic.Pointer[V], len(src), capacity)
	for i := range src {
		v := src[i]
		slots[i].Store(&v)
	}
	s.table.Store(&seqTable[V]{slots: slots})
}

// realloc copies the first n slots of the table into a new backing
// array with the given length and capacity. The result is not
// published.
func (s *Sequence[V]) realloc(t *seqTable[V], n, length, capacity int) []atomic.Pointer[V] {
	slots := make([]atomic.Pointer[V], length, capacity)
	for i := 0; i < n; i++ {
		slots[i].Store(t.slots[i].Load())
	}
	return slots
}

func growCap(capacity, needed int) int {
	newCap := max(capacity*2, minSequenceCap)
	for newCap < needed {
		newCap *= 2
	}
	return newCap
}

// Load returns the element at the index. The ok result is false if
// the index is out of range.
func (s *Sequence[V]) Load(index int) (value V, ok bool) {
	t := s.table.Load()
	if index < 0 || index >= len(t.slots) {
		return
	}
	return *t.slots[index].Load(), true
}

// LoadUnchecked returns the element at the index without checking
// the bounds. The caller must ensure 0 <= index < Len(); otherwise
// the call panics.
func (s *Sequence[V]) LoadUnchecked(index int) V {
	return *s.table.Load().slots[index].Load()
}

// Len returns the number of elements in the sequence.
func (s *Sequence[V]) Len() int {
	return len(s.table.Load().slots)
}

// IsEmpty reports whether the sequence holds no elements.
func (s *Sequence[V]) IsEmpty() bool {
	return s.Len() == 0
}

// Cap returns the capacity of the current backing array.
func (s *Sequence[V]) Cap() int {
	return cap(s.table.Load().slots)
}

// Push appends the value to the end of the sequence.
func (s *Sequence[V]) Push(value V) {
	_ = s.PushContext(context.Background(), value)
}

// PushContext is like Push, but gives up waiting for the writer lock
// when ctx is done.
func (s *Sequence[V]) PushContext(ctx context.Context, value V) error {
	if err := s.wlock.lockContext(ctx); err != nil {
		return err
	}
	defer s.wlock.unlock()
	s.pushLocked(value)
	return nil
}

func (s *Sequence[V]) pushLocked(value V) {
	t := s.table.Load()
	n := len(t.slots)
	var slots []atomic.Pointer[V]
	if n < cap(t.slots) {
		// The slot past the published length is not visible to
		// readers of t until the longer header is published.
		slots = t.slots[:n+1]
	} else {
		newCap := growCap(cap(t.slots), n+1)
		slots = s.realloc(t, n, n+1, newCap)
		s.reallocs.Add(1)
		s.logger.Trace("sequence reallocated", "from", cap(t.slots), "to", newCap)
	}
	slots[n].Store(&value)
	s.table.Store(&seqTable[V]{slots: slots})
}

// Pop removes the last element of the sequence and returns it. The
// ok result is false if the sequence is empty.
//
// The backing array keeps a reference to the popped element until
// its slot is reused by a later Push, or until the array is replaced
// by a reallocation, ShrinkToFit or Clear. Call ShrinkToFit after
// popping large values that must be released promptly.
func (s *Sequence[V]) Pop() (value V, ok bool) {
	value, ok, _ = s.PopContext(context.Background())
	return
}

// PopContext is like Pop, but gives up waiting for the writer lock
// when ctx is done.
func (s *Sequence[V]) PopContext(ctx context.Context) (value V, ok bool, err error) {
	if err = s.wlock.lockContext(ctx); err != nil {
		return
	}
	defer s.wlock.unlock()
	t := s.table.Load()
	n := len(t.slots)
	if n == 0 {
		return
	}
	value = *t.slots[n-1].Load()
	// The popped slot is left as is: readers of t may still load it.
	// It is overwritten by the next Push.
	s.table.Store(&seqTable[V]{slots: t.slots[:n-1]})
	return value, true, nil
}

// Insert inserts the value at the index, shifting all elements after
// it to the right. Inserting at Len() is equivalent to Push. An index
// outside of [0, Len()] results in ErrIndexOutOfRange.
func (s *Sequence[V]) Insert(index int, value V) error {
	return s.InsertContext(context.Background(), index, value)
}

// InsertContext is like Insert, but gives up waiting for the writer
// lock when ctx is done.
func (s *Sequence[V]) InsertContext(ctx context.Context, index int, value V) error {
	if err := s.wlock.lockContext(ctx); err != nil {
		return err
	}
	defer s.wlock.unlock()
	t := s.table.Load()
	n := len(t.slots)
	if index < 0 || index > n {
		return fmt.Errorf("insert at %d into sequence of length %d: %w", index, n, ErrIndexOutOfRange)
	}
	if index == n {
		s.pushLocked(value)
		return nil
	}
	newCap := cap(t.slots)
	if n+1 > newCap {
		newCap = growCap(newCap, n+1)
		s.reallocs.Add(1)
		s.logger.Trace("sequence reallocated", "from", cap(t.slots), "to", newCap)
	}
	slots := s.realloc(t, index, n+1, newCap)
	slots[index].Store(&value)
	for i := index; i < n; i++ {
		slots[i+1].Store(t.slots[i].Load())
	}
	s.table.Store(&seqTable[V]{slots: slots})
	return nil
}

// Remove removes the element at the index, shifting all elements
// after it to the left, and returns it. The ok result is false if
// the index is out of range.
func (s *Sequence[V]) Remove(index int) (value V, ok bool) {
	value, ok, _ = s.RemoveContext(context.Background(), index)
	return
}

// RemoveContext is like Remove, but gives up waiting for the writer
// lock when ctx is done.
func (s *Sequence[V]) RemoveContext(ctx context.Context, index int) (value V, ok bool, err error) {
	if err = s.wlock.lockContext(ctx); err != nil {
		return
	}
	defer s.wlock.unlock()
	t := s.table.Load()
	n := len(t.slots)
	if index < 0 || index >= n {
		return
	}
	value = *t.slots[index].Load()
	slots := s.realloc(t, index, n-1, cap(t.slots))
	for i := index + 1; i < n; i++ {
		slots[i-1].Store(t.slots[i].Load())
	}
	s.table.Store(&seqTable[V]{slots: slots})
	return value, true, nil
}

// GetMut locks the sequence for writing and returns a mutable
// reference to the element at the index. The ok result is false, and
// the lock is not held, if the index is out of range. Otherwise, the
// caller must call Release on the returned Ref.
func (s *Sequence[V]) GetMut(index int) (ref *Ref[V], ok bool) {
	ref, ok, _ = s.GetMutContext(context.Background(), index)
	return
}

// GetMutContext is like GetMut, but gives up waiting for the writer
// lock when ctx is done.
func (s *Sequence[V]) GetMutContext(ctx context.Context, index int) (ref *Ref[V], ok bool, err error) {
	if err = s.wlock.lockContext(ctx); err != nil {
		return nil, false, err
	}
	v, ok := s.Load(index)
	if !ok {
		s.wlock.unlock()
		return nil, false, nil
	}
	store := func(value V) {
		s.table.Load().slots[index].Store(&value)
	}
	return newRef(v, store, s.wlock.unlock), true, nil
}

// Range calls f sequentially for each index and element of the
// sequence. If f returns false, range stops the iteration.
//
// Range takes no locks and iterates over the length published at the
// time of the call. Elements set concurrently may or may not be
// observed.
func (s *Sequence[V]) Range(f func(index int, value V) bool) {
	t := s.table.Load()
	for i := range t.slots {
		if !f(i, *t.slots[i].Load()) {
			return
		}
	}
}

// All returns an iterator over the indexes and elements of the
// sequence with the same visibility rules as Range.
func (s *Sequence[V]) All() iter.Seq2[int, V] {
	return s.Range
}

// RangeMut calls f sequentially for each index and a pointer to a
// copy of its element while holding the writer lock. The element,
// possibly modified by f, is stored back after each call. If f
// returns false, range stops the iteration. f must not call writer
// methods of the sequence.
func (s *Sequence[V]) RangeMut(f func(index int, value *V) bool) {
	_ = s.RangeMutContext(context.Background(), f)
}

// RangeMutContext is like RangeMut, but gives up waiting for the
// writer lock when ctx is done.
func (s *Sequence[V]) RangeMutContext(ctx context.Context, f func(index int, value *V) bool) error {
	if err := s.wlock.lockContext(ctx); err != nil {
		return err
	}
	defer s.wlock.unlock()
	t := s.table.Load()
	for i := range t.slots {
		v := *t.slots[i].Load()
		cont := f(i, &v)
		t.slots[i].Store(&v)
		if !cont {
			return nil
		}
	}
	return nil
}

// Clear removes all elements and releases the backing array.
func (s *Sequence[V]) Clear() {
	s.wlock.lock()
	defer s.wlock.unlock()
	s.table.Store(&seqTable[V]{})
}

// ShrinkToFit reduces the capacity of the backing array to the
// current length.
func (s *Sequence[V]) ShrinkToFit() {
	s.wlock.lock()
	defer s.wlock.unlock()
	t := s.table.Load()
	n := len(t.slots)
	if cap(t.slots) == n {
		return
	}
	s.table.Store(&seqTable[V]{slots: s.realloc(t, n, n, n)})
	s.reallocs.Add(1)
	s.logger.Trace("sequence reallocated", "from", cap(t.slots), "to", n)
}

// ToSlice returns a copy of the elements of the sequence.
func (s *Sequence[V]) ToSlice() []V {
	t := s.table.Load()
	out := make([]V, len(t.slots))
	for i := range t.slots {
		out[i] = *t.slots[i].Load()
	}
	return out
}

// String renders the elements of the sequence, e.g. [1 2 3].
func (s *Sequence[V]) String() string {
	return fmt.Sprint(s.ToSlice())
}

// MarshalJSON encodes the sequence as a JSON array.
func (s *Sequence[V]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ToSlice())
}

// UnmarshalJSON replaces the elements of the sequence with the
// decoded JSON array. A zero Sequence value is initialized with
// default options.
func (s *Sequence[V]) UnmarshalJSON(data []byte) error {
	var plain []V
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	s.replace(plain)
	return nil
}

// MarshalYAML encodes the sequence as a YAML sequence.
func (s *Sequence[V]) MarshalYAML() (interface{}, error) {
	return s.ToSlice(), nil
}

// UnmarshalYAML replaces the elements of the sequence with the
// decoded YAML sequence. A zero Sequence value is initialized with
// default options.
func (s *Sequence[V]) UnmarshalYAML(value *yaml.Node) error {
	var plain []V
	if err := value.Decode(&plain); err != nil {
		return err
	}
	s.replace(plain)
	return nil
}

func (s *Sequence[V]) replace(src []V) {
	if s.wlock == nil {
		// A zero value is only reachable by the decoding goroutine.
		s.init(newConfig(nil))
	}
	s.wlock.lock()
	defer s.wlock.unlock()
	s.replaceLocked(src)
}

// SequenceStats is Sequence statistics.
type SequenceStats struct {
	// Len is the number of elements in the sequence.
	Len int
	// Cap is the capacity of the backing array.
	Cap int
	// Reallocations is the number of times the elements were moved
	// to a backing array of a different capacity.
	Reallocations int64
	WriterStats
}

// Stats returns statistics for the Sequence.
func (s *Sequence[V]) Stats() SequenceStats {
	t := s.table.Load()
	return SequenceStats{
		Len:           len(t.slots),
		Cap:           cap(t.slots),
		Reallocations: s.reallocs.Load(),
		WriterStats:   s.wlock.stats(),
	}
}

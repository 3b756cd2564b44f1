package rmsync

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"reflect"
	"strings"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// OrderedMap is a sorted map that is safe for concurrent use by
// multiple goroutines and optimized for read-mostly workloads.
//
// Entries are kept in a B-tree. Readers work on the tree published
// through an atomic pointer and never take locks. A writer holds the
// map's writer lock, takes a lazy copy-on-write clone of the
// published tree, modifies the clone and publishes it. A published
// tree is never modified, so readers see consistent snapshots.
//
// An OrderedMap must be created with one of the NewOrderedMap*
// functions, or be the target of JSON or YAML decoding, and must not
// be copied after first use.
type OrderedMap[K comparable, V any] struct {
	tree     atomic.Pointer[btree.BTreeG[item[K, V]]]
	versions atomic.Int64
	wlock    *writeLock
	less     func(a, b K) bool
	degree   int
	logger   hclog.Logger
}

type item[K comparable, V any] struct {
	key   K
	value V
}

// NewOrderedMap creates a new OrderedMap instance with keys sorted
// in their natural order.
func NewOrderedMap[K cmp.Ordered, V any](options ...func(*Config)) *OrderedMap[K, V] {
	return NewOrderedMapFunc[K, V](cmp.Less[K], options...)
}

// NewOrderedMapFunc creates a new OrderedMap instance with keys sorted
// by the given less function. less must define a strict weak ordering.
func NewOrderedMapFunc[K comparable, V any](less func(a, b K) bool, options ...func(*Config)) *OrderedMap[K, V] {
	if less == nil {
		panic("nil less function")
	}
	m := &OrderedMap[K, V]{}
	m.init(less, newConfig(options))
	return m
}

// NewOrderedMapFrom creates a new OrderedMap instance holding the
// entries of src.
func NewOrderedMapFrom[K cmp.Ordered, V any](src map[K]V, options ...func(*Config)) *OrderedMap[K, V] {
	m := NewOrderedMap[K, V](options...)
	m.wlock.lock()
	m.replaceLocked(src)
	m.wlock.unlock()
	return m
}

func (m *OrderedMap[K, V]) init(less func(a, b K) bool, c *Config) {
	m.less = less
	m.degree = c.degree
	m.logger = c.logger.Named("orderedmap")
	m.wlock = newWriteLock()
	m.tree.Store(m.newTree())
}

func (m *OrderedMap[K, V]) newTree() *btree.BTreeG[item[K, V]] {
	less := m.less
	return btree.NewG(m.degree, func(a, b item[K, V]) bool {
		return less(a.key, b.key)
	})
}

// mutateLocked publishes a modified clone of the current tree. Must
// be called with the writer lock held.
func (m *OrderedMap[K, V]) mutateLocked(f func(t *btree.BTreeG[item[K, V]])) {
	t := m.tree.Load().Clone()
	f(t)
	m.tree.Store(t)
	m.versions.Add(1)
}

func (m *OrderedMap[K, V]) replaceLocked(src map[K]V) {
	t := m.newTree()
	for k, v := range src {
		t.ReplaceOrInsert(item[K, V]{key: k, value: v})
	}
	m.tree.Store(t)
	m.versions.Add(1)
}

// Load returns the value stored in the map for a key, or zero value
// of type V if no value is present.
// The ok result indicates whether value was found in the map.
func (m *OrderedMap[K, V]) Load(key K) (value V, ok bool) {
	it, ok := m.tree.Load().Get(item[K, V]{key: key})
	return it.value, ok
}

// Has reports whether the map holds a value for the key.
func (m *OrderedMap[K, V]) Has(key K) bool {
	return m.tree.Load().Has(item[K, V]{key: key})
}

// Store sets the value for a key.
func (m *OrderedMap[K, V]) Store(key K, value V) {
	m.LoadAndStore(key, value)
}

// StoreContext is like Store, but gives up waiting for the writer
// lock when ctx is done.
func (m *OrderedMap[K, V]) StoreContext(ctx context.Context, key K, value V) error {
	_, _, err := m.LoadAndStoreContext(ctx, key, value)
	return err
}

// LoadAndStore sets the value for a key and returns the previous
// value, if any. The loaded result reports whether the key was
// present.
func (m *OrderedMap[K, V]) LoadAndStore(key K, value V) (previous V, loaded bool) {
	previous, loaded, _ = m.LoadAndStoreContext(context.Background(), key, value)
	return
}

// LoadAndStoreContext is like LoadAndStore, but gives up waiting for
// the writer lock when ctx is done.
func (m *OrderedMap[K, V]) LoadAndStoreContext(ctx context.Context, key K, value V) (previous V, loaded bool, err error) {
	if err = m.wlock.lockContext(ctx); err != nil {
		return
	}
	defer m.wlock.unlock()
	m.mutateLocked(func(t *btree.BTreeG[item[K, V]]) {
		var old item[K, V]
		old, loaded = t.ReplaceOrInsert(item[K, V]{key: key, value: value})
		previous = old.value
	})
	return
}

// LoadOrStore returns the existing value for the key if present.
// Otherwise, it stores and returns the given value.
// The loaded result is true if the value was loaded, false if stored.
func (m *OrderedMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	if v, ok := m.Load(key); ok {
		return v, true
	}
	m.wlock.lock()
	defer m.wlock.unlock()
	if v, ok := m.Load(key); ok {
		return v, true
	}
	m.mutateLocked(func(t *btree.BTreeG[item[K, V]]) {
		t.ReplaceOrInsert(item[K, V]{key: key, value: value})
	})
	return value, false
}

// Compute either sets the computed new value for the key or deletes
// the value for the key, with the same semantics as Map.Compute.
func (m *OrderedMap[K, V]) Compute(
	key K,
	valueFn func(oldValue V, loaded bool) (newValue V, delete bool),
) (actual V, ok bool) {
	m.wlock.lock()
	defer m.wlock.unlock()
	old, loaded := m.Load(key)
	newv, del := valueFn(old, loaded)
	if del {
		if loaded {
			m.mutateLocked(func(t *btree.BTreeG[item[K, V]]) {
				t.Delete(item[K, V]{key: key})
			})
			return old, false
		}
		var zeroV V
		return zeroV, false
	}
	m.mutateLocked(func(t *btree.BTreeG[item[K, V]]) {
		t.ReplaceOrInsert(item[K, V]{key: key, value: newv})
	})
	return newv, true
}

// LoadAndDelete deletes the value for a key, returning the previous
// value if any. The loaded result reports whether the key was
// present.
func (m *OrderedMap[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	value, loaded, _ = m.LoadAndDeleteContext(context.Background(), key)
	return
}

// LoadAndDeleteContext is like LoadAndDelete, but gives up waiting
// for the writer lock when ctx is done.
func (m *OrderedMap[K, V]) LoadAndDeleteContext(ctx context.Context, key K) (value V, loaded bool, err error) {
	if err = m.wlock.lockContext(ctx); err != nil {
		return
	}
	defer m.wlock.unlock()
	if !m.Has(key) {
		return
	}
	m.mutateLocked(func(t *btree.BTreeG[item[K, V]]) {
		var old item[K, V]
		old, loaded = t.Delete(item[K, V]{key: key})
		value = old.value
	})
	return
}

// Delete deletes the value for a key.
func (m *OrderedMap[K, V]) Delete(key K) {
	m.LoadAndDelete(key)
}

// GetMut locks the map for writing and returns a mutable reference
// to the value stored for the key. The ok result is false, and the
// lock is not held, if the key is missing. Otherwise, the caller must
// call Release on the returned Ref.
func (m *OrderedMap[K, V]) GetMut(key K) (ref *Ref[V], ok bool) {
	ref, ok, _ = m.GetMutContext(context.Background(), key)
	return
}

// GetMutContext is like GetMut, but gives up waiting for the writer
// lock when ctx is done.
func (m *OrderedMap[K, V]) GetMutContext(ctx context.Context, key K) (ref *Ref[V], ok bool, err error) {
	if err = m.wlock.lockContext(ctx); err != nil {
		return nil, false, err
	}
	v, ok := m.Load(key)
	if !ok {
		m.wlock.unlock()
		return nil, false, nil
	}
	store := func(value V) {
		m.mutateLocked(func(t *btree.BTreeG[item[K, V]]) {
			t.ReplaceOrInsert(item[K, V]{key: key, value: value})
		})
	}
	return newRef(v, store, m.wlock.unlock), true, nil
}

// Range calls f sequentially for each key and value present in the
// map in ascending key order. If f returns false, range stops the
// iteration.
//
// Range takes no locks and iterates over the snapshot published at
// the time of the call; writes made during the iteration are not
// observed.
func (m *OrderedMap[K, V]) Range(f func(key K, value V) bool) {
	m.tree.Load().Ascend(func(it item[K, V]) bool {
		return f(it.key, it.value)
	})
}

// All returns an iterator over the map's key-value pairs in
// ascending key order.
func (m *OrderedMap[K, V]) All() iter.Seq2[K, V] {
	return m.Range
}

// Ascend calls f for each pair with a key greater than or equal to
// from, in ascending order, until f returns false.
func (m *OrderedMap[K, V]) Ascend(from K, f func(key K, value V) bool) {
	m.tree.Load().AscendGreaterOrEqual(item[K, V]{key: from}, func(it item[K, V]) bool {
		return f(it.key, it.value)
	})
}

// AscendRange calls f for each pair with a key in [from, to), in
// ascending order, until f returns false.
func (m *OrderedMap[K, V]) AscendRange(from, to K, f func(key K, value V) bool) {
	m.tree.Load().AscendRange(item[K, V]{key: from}, item[K, V]{key: to}, func(it item[K, V]) bool {
		return f(it.key, it.value)
	})
}

// Descend calls f for each pair in descending key order until f
// returns false.
func (m *OrderedMap[K, V]) Descend(f func(key K, value V) bool) {
	m.tree.Load().Descend(func(it item[K, V]) bool {
		return f(it.key, it.value)
	})
}

// Min returns the pair with the smallest key.
func (m *OrderedMap[K, V]) Min() (key K, value V, ok bool) {
	it, ok := m.tree.Load().Min()
	return it.key, it.value, ok
}

// Max returns the pair with the largest key.
func (m *OrderedMap[K, V]) Max() (key K, value V, ok bool) {
	it, ok := m.tree.Load().Max()
	return it.key, it.value, ok
}

// Keys returns the keys of the map in ascending order.
func (m *OrderedMap[K, V]) Keys() []K {
	t := m.tree.Load()
	keys := make([]K, 0, t.Len())
	t.Ascend(func(it item[K, V]) bool {
		keys = append(keys, it.key)
		return true
	})
	return keys
}

// RangeMut calls f sequentially, in ascending key order, for each
// key and a pointer to a copy of its value while holding the writer
// lock. The modified values are published together once the
// iteration ends. If f returns false, range stops the iteration.
// f must not call writer methods of the map.
func (m *OrderedMap[K, V]) RangeMut(f func(key K, value *V) bool) {
	_ = m.RangeMutContext(context.Background(), f)
}

// RangeMutContext is like RangeMut, but gives up waiting for the
// writer lock when ctx is done.
func (m *OrderedMap[K, V]) RangeMutContext(ctx context.Context, f func(key K, value *V) bool) error {
	if err := m.wlock.lockContext(ctx); err != nil {
		return err
	}
	defer m.wlock.unlock()
	cur := m.tree.Load()
	m.mutateLocked(func(t *btree.BTreeG[item[K, V]]) {
		// The published tree is iterated while its clone is modified.
		cur.Ascend(func(it item[K, V]) bool {
			v := it.value
			cont := f(it.key, &v)
			t.ReplaceOrInsert(item[K, V]{key: it.key, value: v})
			return cont
		})
	})
	return nil
}

// Clear deletes all keys and values currently stored in the map.
func (m *OrderedMap[K, V]) Clear() {
	_ = m.ClearContext(context.Background())
}

// ClearContext is like Clear, but gives up waiting for the writer
// lock when ctx is done.
func (m *OrderedMap[K, V]) ClearContext(ctx context.Context) error {
	if err := m.wlock.lockContext(ctx); err != nil {
		return err
	}
	defer m.wlock.unlock()
	size := m.Size()
	m.tree.Store(m.newTree())
	m.versions.Add(1)
	m.logger.Trace("tree cleared", "size", size)
	return nil
}

// Clone returns a copy of the map with the same ordering, degree and
// logger. Copying is lazy: both maps share tree nodes until either of
// them is written to, so Clone takes O(1) time regardless of the map
// size. Writes to one map are never visible in the other.
func (m *OrderedMap[K, V]) Clone() *OrderedMap[K, V] {
	// Cloning marks the shared nodes as copy-on-write in the source
	// tree, so it must not race with a writer cloning it as well.
	m.wlock.lock()
	defer m.wlock.unlock()
	c := &OrderedMap[K, V]{
		wlock:  newWriteLock(),
		less:   m.less,
		degree: m.degree,
		logger: m.logger,
	}
	c.tree.Store(m.tree.Load().Clone())
	return c
}

// Size returns current size of the map.
func (m *OrderedMap[K, V]) Size() int {
	return m.tree.Load().Len()
}

// IsEmpty reports whether the map holds no entries.
func (m *OrderedMap[K, V]) IsEmpty() bool {
	return m.Size() == 0
}

// ToMap returns a native map with a copy of the map's contents.
func (m *OrderedMap[K, V]) ToMap() map[K]V {
	t := m.tree.Load()
	pm := make(map[K]V, t.Len())
	t.Ascend(func(it item[K, V]) bool {
		pm[it.key] = it.value
		return true
	})
	return pm
}

// String renders the contents of the map in key order, e.g.
// map[a:1 b:2].
func (m *OrderedMap[K, V]) String() string {
	var sb strings.Builder
	sb.WriteString("map[")
	first := true
	m.Range(func(key K, value V) bool {
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		fmt.Fprintf(&sb, "%v:%v", key, value)
		return true
	})
	sb.WriteByte(']')
	return sb.String()
}

// MarshalJSON encodes the map as a JSON object with members in key
// order.
func (m *OrderedMap[K, V]) MarshalJSON() ([]byte, error) {
	return marshalOrderedJSON[K, V](m.Range)
}

// UnmarshalJSON replaces the contents of the map with the decoded
// JSON object. A zero OrderedMap value is initialized with default
// options when K has a natural order.
func (m *OrderedMap[K, V]) UnmarshalJSON(data []byte) error {
	if err := m.initZero(); err != nil {
		return err
	}
	var plain map[K]V
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	m.replace(plain)
	return nil
}

// MarshalYAML encodes the map as a YAML mapping with keys in order.
func (m *OrderedMap[K, V]) MarshalYAML() (interface{}, error) {
	return marshalOrderedYAML[K, V](m.Range)
}

// UnmarshalYAML replaces the contents of the map with the decoded
// YAML mapping. A zero OrderedMap value is initialized with default
// options when K has a natural order.
func (m *OrderedMap[K, V]) UnmarshalYAML(value *yaml.Node) error {
	if err := m.initZero(); err != nil {
		return err
	}
	var plain map[K]V
	if err := value.Decode(&plain); err != nil {
		return err
	}
	m.replace(plain)
	return nil
}

// initZero initializes a zero OrderedMap that is a decoding target.
// A zero value is only reachable by the decoding goroutine.
func (m *OrderedMap[K, V]) initZero() error {
	if m.wlock != nil {
		return nil
	}
	less := naturalLess[K]()
	if less == nil {
		return fmt.Errorf("decode into zero OrderedMap[%T]: %w", *new(K), ErrNoKeyOrder)
	}
	m.init(less, newConfig(nil))
	return nil
}

func (m *OrderedMap[K, V]) replace(src map[K]V) {
	m.wlock.lock()
	defer m.wlock.unlock()
	m.replaceLocked(src)
}

// naturalLess returns the natural order of K if its underlying type
// is a string, integer or float type, or nil otherwise.
func naturalLess[K comparable]() func(a, b K) bool {
	switch reflect.TypeFor[K]().Kind() {
	case reflect.String:
		return func(a, b K) bool {
			return reflect.ValueOf(a).String() < reflect.ValueOf(b).String()
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(a, b K) bool {
			return reflect.ValueOf(a).Int() < reflect.ValueOf(b).Int()
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return func(a, b K) bool {
			return reflect.ValueOf(a).Uint() < reflect.ValueOf(b).Uint()
		}
	case reflect.Float32, reflect.Float64:
		return func(a, b K) bool {
			return cmp.Less(reflect.ValueOf(a).Float(), reflect.ValueOf(b).Float())
		}
	}
	return nil
}

// OrderedMapStats is OrderedMap statistics.
type OrderedMapStats struct {
	// Size is the number of entries stored in the map.
	Size int
	// Degree is the degree of the underlying B-tree.
	Degree int
	// Versions is the number of trees published so far.
	Versions int64
	WriterStats
}

// Stats returns statistics for the OrderedMap.
func (m *OrderedMap[K, V]) Stats() OrderedMapStats {
	return OrderedMapStats{
		Size:        m.Size(),
		Degree:      m.degree,
		Versions:    m.versions.Load(),
		WriterStats: m.wlock.stats(),
	}
}

package rmsync

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

type mapResizeHint int

const (
	mapGrowHint   mapResizeHint = 0
	mapShrinkHint mapResizeHint = 1
	mapClearHint  mapResizeHint = 2
	mapFitHint    mapResizeHint = 3
)

func (h mapResizeHint) String() string {
	switch h {
	case mapGrowHint:
		return "grow"
	case mapShrinkHint:
		return "shrink"
	case mapClearHint:
		return "clear"
	case mapFitHint:
		return "fit"
	}
	return fmt.Sprintf("hint(%d)", int(h))
}

const (
	// number of Map entries per bucket; 5 entries lead to size of 64B
	// (one cache line) on 64-bit machines
	entriesPerMapBucket        = 5
	defaultMeta         uint64 = 0x8080808080808080
	metaMask            uint64 = 0xffffffffff
	defaultMetaMasked   uint64 = defaultMeta & metaMask
	emptyMetaSlot       uint8  = 0x80
	// threshold fraction of table occupation to start a table shrinking
	// when deleting the last entry in a bucket chain
	mapShrinkFraction = 128
	// map load factor to trigger a table resize during insertion;
	// a map holds up to mapLoadFactor*entriesPerMapBucket*tableLen
	// key-value pairs (this is a soft limit)
	mapLoadFactor = 0.75
	// minimal table size, i.e. number of buckets; thus, minimal map
	// capacity can be calculated as entriesPerMapBucket*defaultMinMapTableLen
	defaultMinMapTableLen = 32
	// upper bound for presized tables; larger hints are clamped
	maxMapTableLen = 1 << 30
)

// Map is a hash map that is safe for concurrent use by multiple
// goroutines and optimized for read-mostly workloads.
//
// Reads (Load, Has, Range, Size) take no locks and never block:
// they work on a hash table published through an atomic pointer.
// Writers are serialized by a single writer lock per map. A writer
// never modifies an entry in place; it publishes a new immutable
// entry with a single atomic store, so readers observe either the
// old or the new value, but never a partially constructed one. Any
// write is visible to readers once the write call returns.
//
// The table layout follows the Cache-Line Hash Table (CLHT) design:
// https://github.com/LPD-EPFL/CLHT
//
// A Map must be created with one of the NewMap* functions, or be the
// target of JSON or YAML decoding, and must not be copied after first
// use.
type Map[K comparable, V any] struct {
	table        atomic.Pointer[mapTable[K, V]]
	size         atomic.Int64
	totalGrowths atomic.Int64
	totalShrinks atomic.Int64
	wlock        *writeLock
	keys         keyLocks[K]
	hasher       func(K, uint64) uint64
	minTableLen  int
	growOnly     bool
	logger       hclog.Logger
}

type mapTable[K comparable, V any] struct {
	buckets []bucket[K, V]
	seed    uint64
}

// bucket holds up to entriesPerMapBucket entries. The meta word
// keeps one byte per entry slot: emptyMetaSlot for a free slot and
// the 7-bit h2 hash of the key for an occupied one.
type bucket[K comparable, V any] struct {
	meta    atomic.Uint64
	entries [entriesPerMapBucket]atomic.Pointer[entry[K, V]]
	next    atomic.Pointer[bucket[K, V]]
}

// entry is immutable once published.
type entry[K comparable, V any] struct {
	key   K
	value V
}

// NewMap creates a new Map instance configured with the given options.
func NewMap[K comparable, V any](options ...func(*Config)) *Map[K, V] {
	return NewMapWithHasher[K, V](defaultHasher[K](), options...)
}

// NewMapWithHasher creates a new Map instance configured with the
// given hasher and options. The hash function is used instead of
// the built-in hash function configured when a map is created with
// the NewMap function. The second argument of the hasher is a
// per-table seed that should be mixed into the result.
func NewMapWithHasher[K comparable, V any](
	hasher func(K, uint64) uint64,
	options ...func(*Config),
) *Map[K, V] {
	if hasher == nil {
		panic("nil hasher")
	}
	m := &Map[K, V]{}
	m.init(hasher, newConfig(options))
	return m
}

// NewMapFrom creates a new Map instance holding the entries of src.
func NewMapFrom[K comparable, V any](src map[K]V, options ...func(*Config)) *Map[K, V] {
	m := NewMap[K, V](options...)
	m.wlock.lock()
	m.replaceLocked(src)
	m.wlock.unlock()
	return m
}

func (m *Map[K, V]) init(hasher func(K, uint64) uint64, c *Config) {
	m.hasher = hasher
	m.wlock = newWriteLock()
	m.growOnly = c.growOnly
	m.logger = c.logger.Named("map")
	m.minTableLen = defaultMinMapTableLen
	if c.sizeHint > defaultMinMapTableLen*entriesPerMapBucket {
		m.minTableLen = tableLenFor(c.sizeHint)
	}
	m.table.Store(newMapTable[K, V](m.minTableLen))
}

func newMapTable[K comparable, V any](tableLen int) *mapTable[K, V] {
	buckets := make([]bucket[K, V], tableLen)
	for i := range buckets {
		buckets[i].meta.Store(defaultMeta)
	}
	return &mapTable[K, V]{
		buckets: buckets,
		seed:    makeSeed(),
	}
}

// tableLenFor returns the number of buckets needed to hold size
// entries without exceeding the load factor.
func tableLenFor(size int) int {
	n := (float64(size) / entriesPerMapBucket) / mapLoadFactor
	if n >= maxMapTableLen {
		return maxMapTableLen
	}
	return int(nextPowOf2(uint32(n)))
}

func h1(h uint64) uint64 {
	return h >> 7
}

func h2(h uint64) uint8 {
	return uint8(h & 0x7f)
}

// Load returns the value stored in the map for a key, or zero value
// of type V if no value is present.
// The ok result indicates whether value was found in the map.
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	table := m.table.Load()
	hash := m.hasher(key, table.seed)
	h2w := broadcast(h2(hash))
	bidx := uint64(len(table.buckets)-1) & h1(hash)
	b := &table.buckets[bidx]
	for {
		metaw := b.meta.Load()
		markedw := markZeroBytes(metaw^h2w) & metaMask
		for markedw != 0 {
			idx := firstMarkedByteIndex(markedw)
			if e := b.entries[idx].Load(); e != nil && e.key == key {
				return e.value, true
			}
			markedw &= markedw - 1
		}
		b = b.next.Load()
		if b == nil {
			return
		}
	}
}

// Has reports whether the map holds a value for the key.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Load(key)
	return ok
}

// Store sets the value for a key.
func (m *Map[K, V]) Store(key K, value V) {
	m.LoadAndStore(key, value)
}

// StoreContext is like Store, but gives up waiting for the writer
// lock when ctx is done.
func (m *Map[K, V]) StoreContext(ctx context.Context, key K, value V) error {
	_, _, err := m.LoadAndStoreContext(ctx, key, value)
	return err
}

// LoadAndStore returns the existing value for the key if present,
// while setting the new value for the key.
// It stores the new value and returns the existing one, if present.
// The loaded result is true if the existing value was loaded,
// false otherwise.
func (m *Map[K, V]) LoadAndStore(key K, value V) (previous V, loaded bool) {
	previous, loaded, _ = m.LoadAndStoreContext(context.Background(), key, value)
	return
}

// LoadAndStoreContext is like LoadAndStore, but gives up waiting for
// the key claim or the writer lock when ctx is done.
func (m *Map[K, V]) LoadAndStoreContext(ctx context.Context, key K, value V) (previous V, loaded bool, err error) {
	kl, err := m.lockKey(ctx, key)
	if err != nil {
		return
	}
	defer m.unlockKey(key, kl)
	previous, loaded = m.storeLocked(key, value)
	return
}

// storeLocked must be called with the writer lock held.
func (m *Map[K, V]) storeLocked(key K, value V) (previous V, loaded bool) {
	previous, loaded = m.doCompute(
		key,
		func(V, bool) (V, bool) {
			return value, false
		},
		false,
		false,
	)
	if !loaded {
		// The stored value is returned on insertion.
		var zeroV V
		previous = zeroV
	}
	return
}

// LoadOrStore returns the existing value for the key if present.
// Otherwise, it stores and returns the given value.
// The loaded result is true if the value was loaded, false if stored.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	return m.LoadOrCompute(key, func() V {
		return value
	})
}

// LoadOrCompute returns the existing value for the key if present.
// Otherwise, it computes the value using the provided function, and
// then stores and returns the computed value. The loaded result is
// true if the value was loaded, false if computed.
//
// This call holds the writer lock while the compute function is
// executed. Consider this when the function includes long-running
// operations.
func (m *Map[K, V]) LoadOrCompute(key K, valueFn func() V) (actual V, loaded bool) {
	// Read-only path.
	if v, ok := m.Load(key); ok {
		return v, true
	}
	kl, _ := m.lockKey(context.Background(), key)
	defer m.unlockKey(key, kl)
	return m.doCompute(
		key,
		func(V, bool) (V, bool) {
			return valueFn(), false
		},
		true,
		false,
	)
}

// Compute either sets the computed new value for the key or deletes
// the value for the key. When the delete result of the valueFn function
// is set to true, the value will be deleted, if it exists. When delete
// is set to false, the value is updated to the newValue.
// The ok result indicates whether value was computed and stored, thus, is
// present in the map. The actual result contains the new value in cases where
// the value was computed and stored.
//
// This call holds the writer lock while the compute function is
// executed. The function must not call writer methods of the map.
func (m *Map[K, V]) Compute(
	key K,
	valueFn func(oldValue V, loaded bool) (newValue V, delete bool),
) (actual V, ok bool) {
	kl, _ := m.lockKey(context.Background(), key)
	defer m.unlockKey(key, kl)
	return m.doCompute(key, valueFn, false, true)
}

// LoadAndDelete deletes the value for a key, returning the previous
// value if any. The loaded result reports whether the key was
// present.
func (m *Map[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	value, loaded, _ = m.LoadAndDeleteContext(context.Background(), key)
	return
}

// LoadAndDeleteContext is like LoadAndDelete, but gives up waiting
// for the key claim or the writer lock when ctx is done.
func (m *Map[K, V]) LoadAndDeleteContext(ctx context.Context, key K) (value V, loaded bool, err error) {
	kl, err := m.lockKey(ctx, key)
	if err != nil {
		return
	}
	defer m.unlockKey(key, kl)
	value, loaded = m.deleteLocked(key)
	return
}

// deleteLocked must be called with the writer lock held.
func (m *Map[K, V]) deleteLocked(key K) (value V, loaded bool) {
	return m.doCompute(
		key,
		func(value V, loaded bool) (V, bool) {
			return value, true
		},
		false,
		false,
	)
}

// lockKey claims the key and then takes the writer lock, so that
// per-key writers wait for a KeyRef held on the same key.
func (m *Map[K, V]) lockKey(ctx context.Context, key K) (*keyLock, error) {
	kl, err := m.keys.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := m.wlock.lockContext(ctx); err != nil {
		m.keys.release(key, kl)
		return nil, err
	}
	return kl, nil
}

func (m *Map[K, V]) unlockKey(key K, kl *keyLock) {
	m.wlock.unlock()
	m.keys.release(key, kl)
}

// Delete deletes the value for a key.
func (m *Map[K, V]) Delete(key K) {
	m.LoadAndDelete(key)
}

// doCompute must be called with the writer lock held.
func (m *Map[K, V]) doCompute(
	key K,
	valueFn func(oldValue V, loaded bool) (V, bool),
	loadIfExists, computeOnly bool,
) (V, bool) {
	var (
		emptyb   *bucket[K, V]
		emptyidx int
	)
	table := m.table.Load()
	hash := m.hasher(key, table.seed)
	h2 := h2(hash)
	h2w := broadcast(h2)
	bidx := uint64(len(table.buckets)-1) & h1(hash)
	b := &table.buckets[bidx]
	for {
		metaw := b.meta.Load()
		markedw := markZeroBytes(metaw^h2w) & metaMask
		for markedw != 0 {
			idx := firstMarkedByteIndex(markedw)
			e := b.entries[idx].Load()
			if e != nil && e.key == key {
				if loadIfExists {
					return e.value, !computeOnly
				}
				oldv := e.value
				newv, del := valueFn(oldv, true)
				if del {
					// Deletion.
					// First we update the meta, then the entry.
					newmetaw := setByte(metaw, emptyMetaSlot, idx)
					b.meta.Store(newmetaw)
					b.entries[idx].Store(nil)
					m.size.Add(-1)
					// Might need to shrink the table if we left bucket empty.
					if newmetaw == defaultMeta {
						m.resize(table, mapShrinkHint)
					}
					return oldv, !computeOnly
				}
				// In-place update: a new entry replaces the old one.
				b.entries[idx].Store(&entry[K, V]{key: key, value: newv})
				if computeOnly {
					// Compute expects the new value to be returned.
					return newv, true
				}
				// LoadAndStore expects the old value to be returned.
				return oldv, true
			}
			markedw &= markedw - 1
		}
		if emptyb == nil {
			// Search for empty entries (up to 5 per bucket).
			if emptyw := metaw & defaultMetaMasked; emptyw != 0 {
				emptyb = b
				emptyidx = firstMarkedByteIndex(emptyw)
			}
		}
		next := b.next.Load()
		if next == nil {
			break
		}
		b = next
	}
	var zeroV V
	newValue, del := valueFn(zeroV, false)
	if del {
		return zeroV, false
	}
	newe := &entry[K, V]{key: key, value: newValue}
	if emptyb != nil {
		// Insertion into an existing bucket.
		// First we update meta, then the entry.
		emptyb.meta.Store(setByte(emptyb.meta.Load(), h2, emptyidx))
		emptyb.entries[emptyidx].Store(newe)
	} else {
		// Create and append a bucket.
		newb := new(bucket[K, V])
		newb.meta.Store(setByte(defaultMeta, h2, 0))
		newb.entries[0].Store(newe)
		b.next.Store(newb)
	}
	size := m.size.Add(1)
	growThreshold := float64(len(table.buckets)) * entriesPerMapBucket * mapLoadFactor
	if size > int64(growThreshold) {
		m.resize(table, mapGrowHint)
	}
	return newValue, computeOnly
}

// resize must be called with the writer lock held. The new table is
// built aside and published with a single pointer store; the old
// table is left intact for readers that still hold it.
func (m *Map[K, V]) resize(table *mapTable[K, V], hint mapResizeHint) {
	tableLen := len(table.buckets)
	var newLen int
	switch hint {
	case mapGrowHint:
		// Grow the table with factor of 2.
		newLen = tableLen << 1
		m.totalGrowths.Add(1)
	case mapShrinkHint:
		shrinkThreshold := int64((tableLen * entriesPerMapBucket) / mapShrinkFraction)
		if m.growOnly || tableLen <= m.minTableLen || m.size.Load() > shrinkThreshold {
			return
		}
		// Shrink the table with factor of 2.
		newLen = tableLen >> 1
		m.totalShrinks.Add(1)
	case mapFitHint:
		newLen = max(m.minTableLen, tableLenFor(int(m.size.Load())))
		if newLen >= tableLen {
			return
		}
		m.totalShrinks.Add(1)
	case mapClearHint:
		newLen = m.minTableLen
	default:
		panic(fmt.Sprintf("unexpected resize hint: %d", hint))
	}
	newTable := newMapTable[K, V](newLen)
	if hint == mapClearHint {
		m.table.Store(newTable)
		m.size.Store(0)
	} else {
		for i := range table.buckets {
			copyBucket(&table.buckets[i], newTable, m.hasher)
		}
		m.table.Store(newTable)
	}
	m.logger.Trace("table resized", "hint", hint, "from", tableLen, "to", newLen, "size", m.size.Load())
}

func copyBucket[K comparable, V any](
	b *bucket[K, V],
	destTable *mapTable[K, V],
	hasher func(K, uint64) uint64,
) {
	for ; b != nil; b = b.next.Load() {
		for i := range b.entries {
			if e := b.entries[i].Load(); e != nil {
				appendToTable(destTable, e, hasher)
			}
		}
	}
}

func appendToTable[K comparable, V any](
	table *mapTable[K, V],
	e *entry[K, V],
	hasher func(K, uint64) uint64,
) {
	hash := hasher(e.key, table.seed)
	bidx := uint64(len(table.buckets)-1) & h1(hash)
	appendToBucket(h2(hash), e, &table.buckets[bidx])
}

func appendToBucket[K comparable, V any](h2 uint8, e *entry[K, V], b *bucket[K, V]) {
	for {
		for i := range b.entries {
			if b.entries[i].Load() == nil {
				b.meta.Store(setByte(b.meta.Load(), h2, i))
				b.entries[i].Store(e)
				return
			}
		}
		next := b.next.Load()
		if next == nil {
			newb := new(bucket[K, V])
			newb.meta.Store(setByte(defaultMeta, h2, 0))
			newb.entries[0].Store(e)
			b.next.Store(newb)
			return
		}
		b = next
	}
}

// replaceLocked publishes a new table holding exactly the entries of
// src. Must be called with the writer lock held.
func (m *Map[K, V]) replaceLocked(src map[K]V) {
	table := newMapTable[K, V](max(m.minTableLen, tableLenFor(len(src))))
	for k, v := range src {
		appendToTable(table, &entry[K, V]{key: k, value: v}, m.hasher)
	}
	m.table.Store(table)
	m.size.Store(int64(len(src)))
}

// GetMut claims the key, locks the map for writing and returns a
// mutable reference to the value stored for the key. The ok result is
// false, and nothing is held, if the key is missing. Otherwise, the
// caller must call Release on the returned Ref; until then all other
// writers of the map are blocked, while readers are not.
//
// GetMut waits while a KeyRef for the key is held.
func (m *Map[K, V]) GetMut(key K) (ref *Ref[V], ok bool) {
	ref, ok, _ = m.GetMutContext(context.Background(), key)
	return
}

// GetMutContext is like GetMut, but gives up waiting for the key
// claim or the writer lock when ctx is done.
func (m *Map[K, V]) GetMutContext(ctx context.Context, key K) (ref *Ref[V], ok bool, err error) {
	kl, err := m.lockKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	v, ok := m.Load(key)
	if !ok {
		m.unlockKey(key, kl)
		return nil, false, nil
	}
	store := func(value V) {
		m.storeLocked(key, value)
	}
	unlock := func() {
		m.unlockKey(key, kl)
	}
	return newRef(v, store, unlock), true, nil
}

// KeyRef is an exclusive claim on a single key of a Map, returned by
// LockKey. Claims on different keys are independent of each other,
// so they may be held concurrently. Writes made through a KeyRef
// still go through the map's writer lock, but only for the duration
// of a single write.
//
// While a KeyRef is held, the per-key writers of the map (Store,
// LoadAndStore, LoadOrStore, LoadOrCompute, Compute, Delete,
// LoadAndDelete and GetMut) wait for it on the same key, so a Load
// followed by a Store through the KeyRef is never interleaved with
// them. The holder must write through the KeyRef: calling those
// methods for the claimed key from the holding goroutine deadlocks.
// Whole-map writers (Clear, RangeMut and decoding) do not consult
// key claims.
type KeyRef[K comparable, V any] struct {
	m    *Map[K, V]
	key  K
	kl   *keyLock
	once sync.Once
}

// LockKey claims the key, waiting until no other KeyRef or GetMut
// reference for the same key is held and no per-key write on it is
// in progress. The caller must call Release on the returned KeyRef.
func (m *Map[K, V]) LockKey(key K) *KeyRef[K, V] {
	r, _ := m.LockKeyContext(context.Background(), key)
	return r
}

// LockKeyContext is like LockKey, but gives up waiting when ctx is
// done.
func (m *Map[K, V]) LockKeyContext(ctx context.Context, key K) (*KeyRef[K, V], error) {
	kl, err := m.keys.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return &KeyRef[K, V]{m: m, key: key, kl: kl}, nil
}

// LockedKeys returns the number of keys that are currently claimed
// or waited for, either via LockKey or by a per-key writer.
func (m *Map[K, V]) LockedKeys() int {
	return m.keys.size()
}

// Key returns the claimed key.
func (r *KeyRef[K, V]) Key() K {
	return r.key
}

// Load returns the value currently stored for the claimed key.
func (r *KeyRef[K, V]) Load() (value V, ok bool) {
	return r.m.Load(r.key)
}

// Store sets the value for the claimed key.
func (r *KeyRef[K, V]) Store(value V) {
	r.m.wlock.lock()
	defer r.m.wlock.unlock()
	r.m.storeLocked(r.key, value)
}

// Delete deletes the value for the claimed key.
func (r *KeyRef[K, V]) Delete() {
	r.m.wlock.lock()
	defer r.m.wlock.unlock()
	r.m.deleteLocked(r.key)
}

// Release gives up the claim. Subsequent calls are no-ops.
func (r *KeyRef[K, V]) Release() {
	r.once.Do(func() {
		r.m.keys.release(r.key, r.kl)
	})
}

// Range calls f sequentially for each key and value present in the
// map. If f returns false, range stops the iteration.
//
// Range takes no locks. It does not necessarily correspond to any
// consistent snapshot of the Map's contents: if the value for any key
// is stored or deleted concurrently, Range may reflect any mapping for
// that key from any point during the Range call, and a key deleted and
// stored again may be visited twice.
//
// It is safe to modify the map while iterating it, including entry
// creation, modification and deletion.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	table := m.table.Load()
	for i := range table.buckets {
		for b := &table.buckets[i]; b != nil; b = b.next.Load() {
			for j := range b.entries {
				if e := b.entries[j].Load(); e != nil {
					if !f(e.key, e.value) {
						return
					}
				}
			}
		}
	}
}

// All returns an iterator over the map's key-value pairs with the
// same visibility rules as Range.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return m.Range
}

// RangeMut calls f sequentially for each key and a pointer to a copy
// of its value while holding the writer lock for the whole iteration.
// The value, possibly modified by f, is stored back after each call.
// If f returns false, range stops the iteration. f must not call
// writer methods of the map.
func (m *Map[K, V]) RangeMut(f func(key K, value *V) bool) {
	_ = m.RangeMutContext(context.Background(), f)
}

// RangeMutContext is like RangeMut, but gives up waiting for the
// writer lock when ctx is done.
func (m *Map[K, V]) RangeMutContext(ctx context.Context, f func(key K, value *V) bool) error {
	if err := m.wlock.lockContext(ctx); err != nil {
		return err
	}
	defer m.wlock.unlock()
	table := m.table.Load()
	for i := range table.buckets {
		for b := &table.buckets[i]; b != nil; b = b.next.Load() {
			for j := range b.entries {
				e := b.entries[j].Load()
				if e == nil {
					continue
				}
				v := e.value
				cont := f(e.key, &v)
				b.entries[j].Store(&entry[K, V]{key: e.key, value: v})
				if !cont {
					return nil
				}
			}
		}
	}
	return nil
}

// Clear deletes all keys and values currently stored in the map.
func (m *Map[K, V]) Clear() {
	_ = m.ClearContext(context.Background())
}

// ClearContext is like Clear, but gives up waiting for the writer
// lock when ctx is done.
func (m *Map[K, V]) ClearContext(ctx context.Context) error {
	if err := m.wlock.lockContext(ctx); err != nil {
		return err
	}
	defer m.wlock.unlock()
	m.resize(m.table.Load(), mapClearHint)
	return nil
}

// Shrink resizes the underlying hash table down to the smallest
// capacity that holds the current entries. It never goes below the
// capacity requested with WithPresize.
func (m *Map[K, V]) Shrink() {
	m.wlock.lock()
	defer m.wlock.unlock()
	m.resize(m.table.Load(), mapFitHint)
}

// Size returns current size of the map.
func (m *Map[K, V]) Size() int {
	return int(m.size.Load())
}

// IsEmpty reports whether the map holds no entries.
func (m *Map[K, V]) IsEmpty() bool {
	return m.Size() == 0
}

// ToMap returns a native map with a copy of the map's contents. The
// copying behavior in presence of concurrent writes is the same as
// in the Range method.
func (m *Map[K, V]) ToMap() map[K]V {
	pm := make(map[K]V, m.Size())
	m.Range(func(key K, value V) bool {
		pm[key] = value
		return true
	})
	return pm
}

// String renders the read-visible contents of the map, e.g.
// map[a:1 b:2]. Like Range, it takes no locks.
func (m *Map[K, V]) String() string {
	return fmt.Sprint(m.ToMap())
}

// MarshalJSON encodes the map as a JSON object. Key types follow the
// encoding/json rules for map keys.
func (m *Map[K, V]) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.ToMap())
}

// UnmarshalJSON replaces the contents of the map with the decoded
// JSON object. A zero Map value is initialized with default options.
func (m *Map[K, V]) UnmarshalJSON(data []byte) error {
	var plain map[K]V
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	m.replace(plain)
	return nil
}

// MarshalYAML encodes the map as a YAML mapping.
func (m *Map[K, V]) MarshalYAML() (interface{}, error) {
	return m.ToMap(), nil
}

// UnmarshalYAML replaces the contents of the map with the decoded
// YAML mapping. A zero Map value is initialized with default options.
func (m *Map[K, V]) UnmarshalYAML(value *yaml.Node) error {
	var plain map[K]V
	if err := value.Decode(&plain); err != nil {
		return err
	}
	m.replace(plain)
	return nil
}

func (m *Map[K, V]) replace(src map[K]V) {
	if m.wlock == nil {
		// A zero value is only reachable by the decoding goroutine.
		m.init(defaultHasher[K](), newConfig(nil))
	}
	m.wlock.lock()
	defer m.wlock.unlock()
	m.replaceLocked(src)
}

// MapStats is Map statistics.
//
// Warning: map statistics are intended to be used for diagnostic
// purposes, not for production code. This means that breaking changes
// may be introduced into this struct even between minor releases.
type MapStats struct {
	// RootBuckets is the number of root buckets in the hash table.
	// Each bucket holds a few entries.
	RootBuckets int
	// TotalBuckets is the total number of buckets in the hash table,
	// including root and their chained buckets. Each bucket holds
	// a few entries.
	TotalBuckets int
	// EmptyBuckets is the number of buckets that hold no entries.
	EmptyBuckets int
	// Capacity is the Map capacity, i.e. the total number of
	// entries that all buckets can physically hold. This number
	// does not consider the load factor.
	Capacity int
	// Size is the exact number of entries stored in the map.
	Size int
	// Counter is the number of entries stored in the map according
	// to the internal atomic counter. In case of concurrent map
	// modifications this number may be different from Size.
	Counter int
	// MinEntries is the minimum number of entries per a chain of
	// buckets, i.e. a root bucket and its chained buckets.
	MinEntries int
	// MaxEntries is the maximum number of entries per a chain of
	// buckets, i.e. a root bucket and its chained buckets.
	MaxEntries int
	// TotalGrowths is the number of times the hash table grew.
	TotalGrowths int64
	// TotalShrinks is the number of times the hash table shrank.
	TotalShrinks int64
	WriterStats
}

// String returns string representation of map stats.
func (s *MapStats) String() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("RootBuckets:  %d\n", s.RootBuckets))
	sb.WriteString(fmt.Sprintf("TotalBuckets: %d\n", s.TotalBuckets))
	sb.WriteString(fmt.Sprintf("EmptyBuckets: %d\n", s.EmptyBuckets))
	sb.WriteString(fmt.Sprintf("Capacity:     %d\n", s.Capacity))
	sb.WriteString(fmt.Sprintf("Size:         %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("Counter:      %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("MinEntries:   %d\n", s.MinEntries))
	sb.WriteString(fmt.Sprintf("MaxEntries:   %d\n", s.MaxEntries))
	sb.WriteString(fmt.Sprintf("TotalGrowths: %d\n", s.TotalGrowths))
	sb.WriteString(fmt.Sprintf("TotalShrinks: %d\n", s.TotalShrinks))
	sb.WriteString(fmt.Sprintf("Writes:       %d\n", s.Writes))
	sb.WriteString(fmt.Sprintf("Contended:    %d\n", s.ContendedWrites))
	sb.WriteString("}\n")
	return sb.String()
}

// Stats returns statistics for the Map. Just like other map
// methods, this one is thread-safe. Yet it's an O(N) operation,
// so it should be used only for diagnostics or debugging purposes.
func (m *Map[K, V]) Stats() MapStats {
	stats := MapStats{
		TotalGrowths: m.totalGrowths.Load(),
		TotalShrinks: m.totalShrinks.Load(),
		MinEntries:   math.MaxInt32,
		WriterStats:  m.wlock.stats(),
	}
	table := m.table.Load()
	stats.RootBuckets = len(table.buckets)
	stats.Counter = int(m.size.Load())
	for i := range table.buckets {
		nentries := 0
		for b := &table.buckets[i]; b != nil; b = b.next.Load() {
			stats.TotalBuckets++
			nentriesLocal := 0
			stats.Capacity += entriesPerMapBucket
			for j := range b.entries {
				if b.entries[j].Load() != nil {
					stats.Size++
					nentriesLocal++
				}
			}
			nentries += nentriesLocal
			if nentriesLocal == 0 {
				stats.EmptyBuckets++
			}
		}
		if nentries < stats.MinEntries {
			stats.MinEntries = nentries
		}
		if nentries > stats.MaxEntries {
			stats.MaxEntries = nentries
		}
	}
	return stats
}

// Package intern implements the open-addressing string table the linker
// uses for its symbol name pool and for smaller string pools.
//
// Keys are stored once, next to their payload, in a chunked arena; buckets
// only carry a cached hash and an arena index. Capacity is always a power
// of two so that a bucket index is hash & (cap-1). Collisions are resolved
// with quadratic (triangular) probing, which visits every bucket of a
// power-of-two table.
package intern

import (
	"github.com/cespare/xxhash/v2"

	"github.com/ksco/mcld/pkg/utils"
)

const (
	// MaxLoadFactor is the occupancy (live entries plus tombstones over
	// capacity) above which the table is rehashed.
	MaxLoadFactor = 0.7

	chunkShift = 8
	chunkSize  = 1 << chunkShift
)

const (
	slotEmpty     int32 = -1
	slotTombstone int32 = -2
)

type Entry[V any] struct {
	Key   string
	Value V
	hash  uint32
	live  bool
}

// Hash returns the cached hash of the entry key.
func (e *Entry[V]) Hash() uint32 {
	return e.hash
}

type bucket struct {
	hash uint32
	slot int32
}

func (b bucket) isEmpty() bool     { return b.slot == slotEmpty }
func (b bucket) isTombstone() bool { return b.slot == slotTombstone }

type Hasher func(key string) uint32

// DefaultHasher folds the 64-bit xxhash of key into 32 bits.
func DefaultHasher(key string) uint32 {
	h := xxhash.Sum64String(key)
	return uint32(h) ^ uint32(h>>32)
}

type Option func(*options)

type options struct {
	hasher Hasher
}

func WithHasher(h Hasher) Option {
	return func(o *options) {
		o.hasher = h
	}
}

/*
 * @buckets: power-of-two sized probe array
 * @chunks: entry arena; a *Entry never moves once handed out
 * @free: arena slots released by Erase, reused by later inserts
 * @numEntries: live entries
 * @numTombstones: buckets marked TOMBSTONE since the last rehash
 */
type Table[V any] struct {
	buckets       []bucket
	chunks        []*[chunkSize]Entry[V]
	numSlots      int32
	free          []int32
	numEntries    int
	numTombstones int
	hasher        Hasher
}

// New creates a table able to hold sizeHint entries before the capacity is
// rounded up to the next power of two.
func New[V any](sizeHint int, opts ...Option) *Table[V] {
	o := options{hasher: DefaultHasher}
	for _, opt := range opts {
		opt(&o)
	}

	if sizeHint < 1 {
		sizeHint = 1
	}
	t := &Table[V]{hasher: o.hasher}
	t.buckets = newBuckets(int(utils.NextPowerOf2(uint64(sizeHint))))
	return t
}

func newBuckets(n int) []bucket {
	bs := make([]bucket, n)
	for i := range bs {
		bs[i].slot = slotEmpty
	}
	return bs
}

func (t *Table[V]) Len() int { return t.numEntries }

func (t *Table[V]) Cap() int { return len(t.buckets) }

func (t *Table[V]) NumTombstones() int { return t.numTombstones }

func (t *Table[V]) entry(slot int32) *Entry[V] {
	return &t.chunks[slot>>chunkShift][slot&(chunkSize-1)]
}

func (t *Table[V]) allocSlot() int32 {
	if n := len(t.free); n > 0 {
		slot := t.free[n-1]
		t.free = t.free[:n-1]
		return slot
	}
	if int(t.numSlots) == len(t.chunks)*chunkSize {
		t.chunks = append(t.chunks, new([chunkSize]Entry[V]))
	}
	slot := t.numSlots
	t.numSlots++
	return slot
}

// lookup walks the probe sequence of key. It returns the bucket index of the
// live entry with that key and true, or the index a new entry should take
// (the first tombstone seen, else the terminating empty bucket) and false.
func (t *Table[V]) lookup(key string, hash uint32) (int, bool) {
	mask := uint32(len(t.buckets) - 1)
	idx := hash & mask
	insertAt := -1

	for probe := uint32(1); probe <= uint32(len(t.buckets)); probe++ {
		b := t.buckets[idx]
		switch {
		case b.isEmpty():
			if insertAt < 0 {
				insertAt = int(idx)
			}
			return insertAt, false
		case b.isTombstone():
			if insertAt < 0 {
				insertAt = int(idx)
			}
		case b.hash == hash && t.entry(b.slot).Key == key:
			return int(idx), true
		}
		idx = (idx + probe) & mask
	}

	// Every bucket was visited; only possible when the table holds no
	// EMPTY bucket, which the load factor keeps from happening.
	return insertAt, false
}

// Insert returns the entry for key, creating it when absent. The second
// result reports whether the entry already existed; an existing entry is
// returned unchanged.
func (t *Table[V]) Insert(key string) (*Entry[V], bool) {
	hash := t.hasher(key)
	idx, found := t.lookup(key, hash)
	if found {
		return t.entry(t.buckets[idx].slot), true
	}

	slot := t.allocSlot()
	e := t.entry(slot)
	*e = Entry[V]{Key: key, hash: hash, live: true}

	if t.buckets[idx].isTombstone() {
		t.numTombstones--
	}
	t.buckets[idx] = bucket{hash: hash, slot: slot}
	t.numEntries++

	if t.overloaded() {
		t.Rehash()
	}
	return e, false
}

func (t *Table[V]) Find(key string) (*Entry[V], bool) {
	idx, found := t.lookup(key, t.hasher(key))
	if !found {
		return nil, false
	}
	return t.entry(t.buckets[idx].slot), true
}

// Erase removes key and reports whether it was present. The capacity is
// left untouched.
func (t *Table[V]) Erase(key string) bool {
	idx, found := t.lookup(key, t.hasher(key))
	if !found {
		return false
	}

	slot := t.buckets[idx].slot
	var zero Entry[V]
	*t.entry(slot) = zero
	t.free = append(t.free, slot)

	t.buckets[idx].slot = slotTombstone
	t.numEntries--
	t.numTombstones++

	if t.overloaded() {
		t.Rehash()
	}
	return true
}

func (t *Table[V]) overloaded() bool {
	used := float64(t.numEntries + t.numTombstones)
	return used > MaxLoadFactor*float64(len(t.buckets))
}

// Rehash rebuilds the bucket array, dropping tombstones. The new capacity
// is the smallest power of two that keeps the live entries under the load
// factor, but never less than the current one.
func (t *Table[V]) Rehash() {
	newCap := len(t.buckets)
	for float64(t.numEntries) >= MaxLoadFactor*float64(newCap) {
		newCap <<= 1
	}

	old := t.buckets
	t.buckets = newBuckets(newCap)
	t.numTombstones = 0

	mask := uint32(newCap - 1)
	for _, b := range old {
		if b.isEmpty() || b.isTombstone() {
			continue
		}
		idx := b.hash & mask
		for probe := uint32(1); !t.buckets[idx].isEmpty(); probe++ {
			idx = (idx + probe) & mask
		}
		t.buckets[idx] = b
	}
}

// Range calls fn for every live entry in bucket order until fn returns
// false.
func (t *Table[V]) Range(fn func(e *Entry[V]) bool) {
	for _, b := range t.buckets {
		if b.isEmpty() || b.isTombstone() {
			continue
		}
		if !fn(t.entry(b.slot)) {
			return
		}
	}
}

// Entries returns the live entries in arena order. The order is stable for
// a given insertion/erase history and independent of capacity.
func (t *Table[V]) Entries() []*Entry[V] {
	res := make([]*Entry[V], 0, t.numEntries)
	for slot := int32(0); slot < t.numSlots; slot++ {
		if e := t.entry(slot); e.live {
			res = append(res, e)
		}
	}
	return res
}

package rmsync

import (
	"hash/maphash"
	"math/rand/v2"
)

// defaultHasher creates a hash function for the given comparable type
// based on hash/maphash.Comparable. The per-table seed is folded into
// the result, so that tables of different generations do not share
// bucket distribution.
//
// As with the built-in map, hashing an interface value that holds a
// non-comparable dynamic type panics.
func defaultHasher[T comparable]() func(T, uint64) uint64 {
	seed := maphash.MakeSeed()
	return func(value T, tseed uint64) uint64 {
		return mix64(maphash.Comparable(seed, value) ^ tseed)
	}
}

// makeSeed creates a random non-zero table seed.
func makeSeed() uint64 {
	for {
		// We use seed 0 to indicate an uninitialized seed/hash,
		// so keep trying until we get a non-zero seed.
		if s := rand.Uint64(); s != 0 {
			return s
		}
	}
}

package rmsync

import "errors"

var (
	// ErrIndexOutOfRange is returned by Sequence writers given an
	// index outside of the sequence bounds.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrNoKeyOrder is returned when decoding into a zero OrderedMap
	// whose key type has no natural order.
	ErrNoKeyOrder = errors.New("key type has no natural order")
)

// Package idgen allocates process-wide monotonically increasing opaque
// identifiers for callbacks and feed objects.
package idgen

import (
	"strconv"
	"sync/atomic"

	"golang.org/x/exp/constraints"
)

// Generator hands out a monotonically increasing sequence of integers of
// type T. It is safe for concurrent use, though the core is single
// threaded and never actually contends on it.
type Generator[T constraints.Integer] struct {
	next atomic.Uint64
}

// New returns a Generator whose first allocated value is 1. Zero is
// reserved so callers can use it as a "no id" sentinel.
func New[T constraints.Integer]() *Generator[T] {
	return &Generator[T]{}
}

// Next returns the next unused id.
func (g *Generator[T]) Next() T {
	return T(g.next.Add(1))
}

// StringGenerator wraps a Generator[uint64] and renders each id as a
// decimal string, the form callback ids and feed object ids take at the
// application boundary (serialized into CallbackId on the wire).
type StringGenerator struct {
	g Generator[uint64]
}

func NewStringGenerator() *StringGenerator {
	return &StringGenerator{}
}

func (g *StringGenerator) Next() string {
	return strconv.FormatUint(g.g.Next(), 10)
}

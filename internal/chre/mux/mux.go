// Package mux implements RequestMultiplexer, the generic aggregator that
// merges N per-nanoapp requests for a shared resource into one maximal
// effective request and reports when that maximal changes.
package mux

import (
	"errors"

	"github.com/ctxhub/chre-runtime/internal/chre/container"
)

// ErrIndexOutOfRange is returned by RemoveRequest/UpdateRequest for an
// index that is not currently occupied.
var ErrIndexOutOfRange = errors.New("mux: index out of range")

// Aggregable is the contract a type must satisfy to be multiplexed.
// IsEquivalentTo must be an equivalence relation and GenerateIntersectionOf
// must be associative and commutative with the zero value of T as
// identity, so that folding over all entries in any order yields the same
// maximal.
type Aggregable[T any] interface {
	IsEquivalentTo(other T) bool
	GenerateIntersectionOf(other T) T
}

// RequestMultiplexer holds an unordered list of requests of type T plus a
// cached maximal, recomputed after every mutation as the left-fold of
// GenerateIntersectionOf over all entries, seeded with the zero value of T.
// Indices are stable only until the next AddRequest/RemoveRequest.
type RequestMultiplexer[T Aggregable[T]] struct {
	requests *container.Vector[T]
	maximal  T
}

// New constructs a RequestMultiplexer with room for exactly capacity
// concurrently outstanding requests. The maximal starts at the zero value
// of T, matching a default-constructed request being the aggregation
// identity.
func New[T Aggregable[T]](capacity int) *RequestMultiplexer[T] {
	return &RequestMultiplexer[T]{requests: container.NewVector[T](capacity)}
}

// Maximal returns the current aggregated request.
func (m *RequestMultiplexer[T]) Maximal() T {
	return m.maximal
}

// Len reports the number of outstanding requests.
func (m *RequestMultiplexer[T]) Len() int {
	return m.requests.Len()
}

// AddRequest appends t and recomputes the maximal, reporting whether it
// changed under IsEquivalentTo.
func (m *RequestMultiplexer[T]) AddRequest(t T) (maximalChanged bool, err error) {
	if err := m.requests.Push(t); err != nil {
		return false, err
	}
	return m.recompute(), nil
}

// RemoveRequest erases the request at index and recomputes the maximal.
func (m *RequestMultiplexer[T]) RemoveRequest(index int) (maximalChanged bool, err error) {
	if err := m.requests.RemoveAt(index); err != nil {
		return false, ErrIndexOutOfRange
	}
	return m.recompute(), nil
}

// UpdateRequest replaces the request at index with t and recomputes the
// maximal.
func (m *RequestMultiplexer[T]) UpdateRequest(index int, t T) (maximalChanged bool, err error) {
	if err := m.requests.Set(index, t); err != nil {
		return false, ErrIndexOutOfRange
	}
	return m.recompute(), nil
}

func (m *RequestMultiplexer[T]) recompute() bool {
	var folded T // zero value: the identity
	m.requests.ForEach(func(_ int, t T) {
		folded = folded.GenerateIntersectionOf(t)
	})
	old := m.maximal
	m.maximal = folded
	return !old.IsEquivalentTo(folded)
}

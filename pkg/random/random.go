// Package random hides every random draw behind Source so callers can inject a fixed
// sequence in tests.
package random

import (
	"math/rand/v2"
	"sync"
)

type Source interface {
	// Float64 returns a number in [0, 1).
	Float64() float64
	// IntN returns a number in [0, n). n must be > 0.
	IntN(n int) int
}

// Global draws from the math/rand/v2 top-level generator, which is safe for concurrent use.
type Global struct{}

func (Global) Float64() float64 { return rand.Float64() }
func (Global) IntN(n int) int   { return rand.IntN(n) }

// Sequence replays a fixed list of floats and wraps around when exhausted. IntN scales the
// next float to [0, n).
type Sequence struct {
	mu     sync.Mutex
	values []float64
	pos    int
}

func NewSequence(values ...float64) *Sequence {
	if len(values) == 0 {
		values = []float64{0}
	}
	return &Sequence{values: values}
}

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.pos%len(s.values)]
	s.pos++
	return v
}

func (s *Sequence) IntN(n int) int {
	i := int(s.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// Draws reports how many values have been consumed.
func (s *Sequence) Draws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Pick returns a uniformly chosen element, or the zero value for an empty slice.
func Pick[T any](src Source, items []T) T {
	var zero T
	if len(items) == 0 {
		return zero
	}
	return items[src.IntN(len(items))]
}

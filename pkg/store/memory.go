package store

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory keeps the encoded document in process. Values handed out are always fresh copies,
// so callers can never mutate the stored state outside Update.
type Memory[T any] struct {
	mu   sync.Mutex
	data []byte
	def  func() T
}

func NewMemory[T any](def func() T) *Memory[T] {
	return &Memory[T]{def: def}
}

func (m *Memory[T]) Load(ctx context.Context) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return m.def(), err
	}
	return m.read(), nil
}

func (m *Memory[T]) Update(ctx context.Context, fn func(*T) error) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return m.def(), err
	}

	v := m.read()
	if err := fn(&v); err != nil {
		return v, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v, err
	}
	m.data = b
	return m.read(), nil
}

func (m *Memory[T]) read() T {
	if m.data == nil {
		return m.def()
	}
	v, _ := decode(m.data, m.def)
	return v
}

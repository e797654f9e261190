// Package flight coalesces concurrent calls for the same key and keeps successful results
// for a while.
package flight

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type Cache[K comparable, V any] struct {
	finished map[K]entry[V]
	fmu      sync.RWMutex

	pending map[K]*job[V]
	pmu     sync.Mutex

	work func(context.Context, K) (V, error)
	now  func() time.Time

	// ttl is in nanoseconds. <= 0 disables caching; calls are still coalesced.
	ttl atomic.Int64
}

type entry[V any] struct {
	val      V
	deadline time.Time
}

type job[V any] struct {
	val  V
	err  error
	done chan struct{}
}

func NewCache[K comparable, V any](ttl time.Duration, work func(context.Context, K) (V, error)) *Cache[K, V] {
	c := &Cache[K, V]{
		finished: make(map[K]entry[V]),
		pending:  make(map[K]*job[V]),
		work:     work,
		now:      time.Now,
	}
	c.Expiry(ttl)
	return c
}

// Expiry sets how long future results are kept.
func (p *Cache[K, V]) Expiry(d time.Duration) {
	p.ttl.Store(int64(d))
}

// Get returns the cached value for k, joins a call already running for k, or runs work.
// The call runs with the context of the caller that started it. Errors are never cached.
func (p *Cache[K, V]) Get(ctx context.Context, k K) (V, error) {
	p.pmu.Lock()

	if v, ok := p.load(k); ok {
		p.pmu.Unlock()
		return v, nil
	}

	if pending, ok := p.pending[k]; ok {
		p.pmu.Unlock()
		select {
		case <-pending.done:
			return pending.val, pending.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	j := &job[V]{done: make(chan struct{})}
	p.pending[k] = j
	p.pmu.Unlock()

	j.val, j.err = p.work(ctx, k)
	if j.err == nil {
		p.store(k, j.val)
	}

	p.pmu.Lock()
	close(j.done)
	delete(p.pending, k)
	p.pmu.Unlock()

	return j.val, j.err
}

// Forget drops the cached value for k.
func (p *Cache[K, V]) Forget(k K) {
	p.fmu.Lock()
	delete(p.finished, k)
	p.fmu.Unlock()
}

// Prune drops expired values and reports how many were removed.
func (p *Cache[K, V]) Prune() int {
	now := p.now()
	p.fmu.Lock()
	defer p.fmu.Unlock()
	n := 0
	for k, e := range p.finished {
		if !now.Before(e.deadline) {
			delete(p.finished, k)
			n++
		}
	}
	return n
}

func (p *Cache[K, V]) Len() int {
	p.fmu.RLock()
	defer p.fmu.RUnlock()
	return len(p.finished)
}

func (p *Cache[K, V]) load(k K) (V, bool) {
	p.fmu.RLock()
	e, ok := p.finished[k]
	p.fmu.RUnlock()
	if !ok || !p.now().Before(e.deadline) {
		var zero V
		return zero, false
	}
	return e.val, true
}

func (p *Cache[K, V]) store(k K, val V) {
	ttl := time.Duration(p.ttl.Load())
	if ttl <= 0 {
		return
	}
	p.fmu.Lock()
	p.finished[k] = entry[V]{val: val, deadline: p.now().Add(ttl)}
	p.fmu.Unlock()
}

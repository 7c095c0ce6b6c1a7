// Package cache stores computed dashboard views. Every record correction
// invalidates all views at once by bumping a generation counter.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ViewCache caches JSON-encodable views by key.
type ViewCache interface {
	// Get decodes the cached value for key into dst and reports whether it was found.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	// Invalidate drops every cached view.
	Invalidate(ctx context.Context) error
	// CurrentGeneration reports how many invalidations the cache has seen.
	CurrentGeneration(ctx context.Context) (uint64, error)
	// SetAt stores v only while the cache is still at generation gen.
	SetAt(ctx context.Context, key string, gen uint64, v any) error
}

// Load returns the cached view for key, computing and storing it on a miss.
// Cache failures fall through to compute. A view computed across an
// invalidation is returned but not stored.
func Load[T any](ctx context.Context, c ViewCache, key string, compute func(context.Context) (T, error)) (T, error) {
	var v T
	if c == nil {
		return compute(ctx)
	}
	gen, err := c.CurrentGeneration(ctx)
	if err != nil {
		return compute(ctx)
	}
	if ok, err := c.Get(ctx, key, &v); err == nil && ok {
		return v, nil
	}
	v, err = compute(ctx)
	if err != nil {
		return v, err
	}
	_ = c.SetAt(ctx, key, gen, v)
	return v, nil
}

// Nop never caches.
type Nop struct{}

func (Nop) Get(context.Context, string, any) (bool, error)    { return false, nil }
func (Nop) Set(context.Context, string, any) error            { return nil }
func (Nop) Invalidate(context.Context) error                  { return nil }
func (Nop) CurrentGeneration(context.Context) (uint64, error) { return 0, nil }
func (Nop) SetAt(context.Context, string, uint64, any) error  { return nil }

type memEntry struct {
	data    []byte
	expires time.Time
}

// Memory is a process-local ViewCache with a per-entry TTL.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memEntry
	gen     uint64
	now     func() time.Time
}

// NewMemory creates a Memory cache. A ttl <= 0 keeps entries until invalidated.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: make(map[string]memEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return false, fmt.Errorf("decode cached view %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, v any) error {
	return m.set(key, v, nil)
}

func (m *Memory) SetAt(_ context.Context, key string, gen uint64, v any) error {
	return m.set(key, v, &gen)
}

func (m *Memory) set(key string, v any, gen *uint64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode view %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != nil && *gen != m.gen {
		return nil
	}
	e := memEntry{data: data}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Invalidate(context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memEntry)
	m.gen++
	m.mu.Unlock()
	return nil
}

// Generation returns how many times the cache has been invalidated.
func (m *Memory) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func (m *Memory) CurrentGeneration(context.Context) (uint64, error) {
	return m.Generation(), nil
}

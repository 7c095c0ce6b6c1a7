package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type view struct {
	Total int `json:"total"`
}

func TestMemory_SetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)

	var v view
	ok, err := c.Get(ctx, "overview", &v)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "overview", view{Total: 7}))
	ok, err = c.Get(ctx, "overview", &v)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, v.Total)

	require.NoError(t, c.Invalidate(ctx))
	ok, _ = c.Get(ctx, "overview", &v)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Generation())
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", view{Total: 1}))
	now = now.Add(2 * time.Minute)

	var v view
	ok, err := c.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	calls := 0
	compute := func(context.Context) (view, error) {
		calls++
		return view{Total: calls}, nil
	}

	v, err := Load(ctx, c, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Total)

	v, err = Load(ctx, c, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Total, "second load should hit the cache")

	require.NoError(t, c.Invalidate(ctx))
	v, _ = Load(ctx, c, "k", compute)
	assert.Equal(t, 2, v.Total)
}

func TestLoad_ComputeErrorNotCached(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	boom := errors.New("boom")

	_, err := Load(ctx, c, "k", func(context.Context) (view, error) { return view{}, boom })
	assert.ErrorIs(t, err, boom)

	var v view
	ok, _ := c.Get(ctx, "k", &v)
	assert.False(t, ok)
}

func TestLoad_InvalidatedDuringCompute(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)

	v, err := Load(ctx, c, "overview", func(ctx context.Context) (view, error) {
		require.NoError(t, c.Invalidate(ctx))
		return view{Total: 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v.Total)

	var cached view
	ok, err := c.Get(ctx, "overview", &cached)
	require.NoError(t, err)
	assert.False(t, ok, "a view computed before the invalidation must not be stored")

	v, err = Load(ctx, c, "overview", func(context.Context) (view, error) { return view{Total: 2}, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v.Total)
	ok, _ = c.Get(ctx, "overview", &cached)
	assert.True(t, ok)
}

func TestMemory_SetAtStaleGeneration(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	require.NoError(t, c.Invalidate(ctx))

	require.NoError(t, c.SetAt(ctx, "k", 0, view{Total: 1}))
	var v view
	ok, _ := c.Get(ctx, "k", &v)
	assert.False(t, ok)

	gen, err := c.CurrentGeneration(ctx)
	require.NoError(t, err)
	require.NoError(t, c.SetAt(ctx, "k", gen, view{Total: 2}))
	ok, _ = c.Get(ctx, "k", &v)
	require.True(t, ok)
	assert.Equal(t, 2, v.Total)
}

func TestLoad_NilAndNop(t *testing.T) {
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (int, error) { calls++; return calls, nil }

	_, _ = Load[int](ctx, nil, "k", compute)
	_, _ = Load[int](ctx, Nop{}, "k", compute)
	_, _ = Load[int](ctx, Nop{}, "k", compute)
	assert.Equal(t, 3, calls)
}

// TestRedis_Integration requires a running Redis.
// We skip if connection fails.
func TestRedis_Integration(t *testing.T) {
	ctx := context.Background()
	c := NewRedis("localhost:6379", "", 0, time.Minute)
	defer c.Close()
	if err := c.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	c.prefix = "enrich:test:" + time.Now().Format("150405.000000")

	require.NoError(t, c.Set(ctx, "overview", view{Total: 3}))
	var v view
	ok, err := c.Get(ctx, "overview", &v)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, v.Total)

	gen, err := c.CurrentGeneration(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx))
	ok, err = c.Get(ctx, "overview", &v)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetAt(ctx, "overview", gen, view{Total: 4}))
	ok, err = c.Get(ctx, "overview", &v)
	require.NoError(t, err)
	assert.False(t, ok, "writes under an old generation stay invisible")
}

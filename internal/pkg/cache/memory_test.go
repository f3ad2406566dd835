package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewMemory("gateway")
	c.now = func() time.Time { return now }

	key := c.GenerateKey("submit", "abc")
	assert.Equal(t, "gateway:submit:abc", key)

	v, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, v)

	ok, err := c.SetNX(ctx, key, "pending", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, key, "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, "ord-1", time.Minute))
	v, _ = c.Get(ctx, key)
	assert.Equal(t, "ord-1", v)

	now = now.Add(2 * time.Minute)
	v, _ = c.Get(ctx, key)
	assert.Empty(t, v, "expired")

	ok, _ = c.SetNX(ctx, key, "pending", 0)
	assert.True(t, ok)
	require.NoError(t, c.Delete(ctx, key))
	v, _ = c.Get(ctx, key)
	assert.Empty(t, v)
}

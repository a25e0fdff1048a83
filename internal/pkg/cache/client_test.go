package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient_GetSetDelete(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	_, err := c.Get(ctx, "site:s1")
	assert.Equal(t, ErrCacheMiss, err)

	require.NoError(t, c.Set(ctx, "site:s1", `{"id":"s1"}`, time.Minute))
	v, err := c.Get(ctx, "site:s1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"s1"}`, v)

	require.NoError(t, c.Delete(ctx, "site:s1"))
	_, err = c.Get(ctx, "site:s1")
	assert.Equal(t, ErrCacheMiss, err)
}

func TestMemoryClient_IncrExpires(t *testing.T) {
	c := NewMemoryClient()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	n, err := c.Incr(ctx, "rate-limit:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, _ = c.Incr(ctx, "rate-limit:1.2.3.4", time.Minute)
	assert.Equal(t, 2, n)

	got, err := c.GetInt(ctx, "rate-limit:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	now = now.Add(time.Minute)
	_, err = c.GetInt(ctx, "rate-limit:1.2.3.4")
	assert.Equal(t, ErrCacheMiss, err)

	n, _ = c.Incr(ctx, "rate-limit:1.2.3.4", time.Minute)
	assert.Equal(t, 1, n, "nova janela após expirar")
}

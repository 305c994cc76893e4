package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(LocalConfig{})

	assert.NoError(t, c.Set(ctx, "k", "v", 0))
	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.True(t, c.Exists(ctx, "k"))

	assert.NoError(t, c.Delete(ctx, "k"))
	assert.False(t, c.Exists(ctx, "k"))
}

func TestLocalCache_Expiration(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(LocalConfig{DefaultExpiration: time.Minute})

	assert.NoError(t, c.Set(ctx, "short", 1, 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get(ctx, "short")
	assert.False(t, ok)
}

func TestLocalCache_MaxSize(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(LocalConfig{MaxSize: 2})

	assert.NoError(t, c.Set(ctx, "a", 1, 0))
	assert.NoError(t, c.Set(ctx, "b", 2, 0))
	assert.NoError(t, c.Set(ctx, "c", 3, 0))
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Exists(ctx, "c"))

	// 已存在的键可以覆盖
	assert.NoError(t, c.Set(ctx, "a", 10, 0))
	v, _ := c.Get(ctx, "a")
	assert.Equal(t, 10, v)
}

func TestLocalCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(LocalConfig{})
	_ = c.Set(ctx, "a", 1, 0)
	_ = c.Set(ctx, "b", 2, 0)

	assert.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
	assert.NoError(t, c.Close())
}

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/xid"
)

func TestNoopReportCacheAlwaysMisses(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", &domain.ReorderReport{GeneratedAt: "now"}, time.Minute))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	require.NoError(t, c.Delete(ctx, "k"))
}

func TestRedisReportCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("SOFALIA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set SOFALIA_TEST_REDIS_ADDR to run redis integration test")
	}
	ctx := context.Background()
	c := NewRedisReportCache(addr, os.Getenv("SOFALIA_TEST_REDIS_PASSWORD"), 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	key := "sofalia:test:" + xid.New("reorder")
	t.Cleanup(func() { _ = c.Delete(ctx, key) })

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	want := &domain.ReorderReport{GeneratedAt: "2026-01-01T00:00:00Z"}
	require.NoError(t, c.Set(ctx, key, want, time.Minute))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.GeneratedAt, got.GeneratedAt)

	require.NoError(t, c.Delete(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

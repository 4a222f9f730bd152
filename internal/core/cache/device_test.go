package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"recipe-resolver/internal/infrastructure/config"
	"recipe-resolver/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolverConfig() *config.ResolverConfig {
	return &config.ResolverConfig{
		SharedPoolTTL:      time.Hour,
		GenerationCacheTTL: 30 * time.Minute,
		GeneratedTTL:       7 * 24 * time.Hour,
		StaticTTL:          time.Minute,
		HalfLifeFraction:   0.5,
		CacheCapacity:      100,
		EvictBatch:         20,
	}
}

func testBundle(name string) common.ResultBundle {
	return common.ResultBundle{
		ExactMatches: []common.MatchResult{
			{Recipe: common.Recipe{ID: name, Name: name, Ingredients: []string{"tomato"}}, MatchingCount: 1, MatchRatio: 1, Priority: 15},
		},
	}
}

func TestDeviceCacheAbsentOnMiss(t *testing.T) {
	store := NewMemoryStore(0)
	dc := NewDeviceCache(store, testResolverConfig())

	entry, state := dc.Get(context.Background(), "no-such-key")
	assert.Nil(t, entry)
	assert.Equal(t, StateAbsent, state)
}

func TestDeviceCacheFreshRoundTrip(t *testing.T) {
	store := NewMemoryStore(0)
	dc := NewDeviceCache(store, testResolverConfig())
	ctx := context.Background()

	bundle := testBundle("omelette")
	require.NoError(t, dc.Put(ctx, "key-1", []string{"tomato"}, bundle, common.SourceSharedPool))

	entry, state := dc.Get(ctx, "key-1")
	require.NotNil(t, entry)
	assert.Equal(t, StateFresh, state)
	assert.Equal(t, "key-1", entry.Key)
	assert.Equal(t, common.SourceSharedPool, entry.Source)
	assert.Equal(t, []string{"tomato"}, entry.Ingredients)
	require.Len(t, entry.Bundle.ExactMatches, 1)
	assert.Equal(t, "omelette", entry.Bundle.ExactMatches[0].Recipe.Name)
}

func TestDeviceCacheStaleAfterHalfLife(t *testing.T) {
	cfg := testResolverConfig()
	cfg.StaticTTL = 200 * time.Millisecond
	store := NewMemoryStore(0)
	dc := NewDeviceCache(store, cfg)
	ctx := context.Background()

	require.NoError(t, dc.Put(ctx, "key-1", []string{"tomato"}, testBundle("a"), common.SourceStatic))

	_, state := dc.Get(ctx, "key-1")
	assert.Equal(t, StateFresh, state)

	time.Sleep(120 * time.Millisecond)
	entry, state := dc.Get(ctx, "key-1")
	require.NotNil(t, entry)
	assert.Equal(t, StateStale, state)
}

func TestDeviceCacheExpiredEntryPurged(t *testing.T) {
	cfg := testResolverConfig()
	cfg.StaticTTL = 50 * time.Millisecond
	store := NewMemoryStore(0)
	dc := NewDeviceCache(store, cfg)
	ctx := context.Background()

	require.NoError(t, dc.Put(ctx, "key-1", []string{"tomato"}, testBundle("a"), common.SourceStatic))
	time.Sleep(80 * time.Millisecond)

	entry, state := dc.Get(ctx, "key-1")
	assert.Nil(t, entry)
	assert.Equal(t, StateAbsent, state)

	keys, err := store.ListKeys(ctx, entryPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDeviceCachePerSourceTTL(t *testing.T) {
	store := NewMemoryStore(0)
	cfg := testResolverConfig()
	dc := NewDeviceCache(store, cfg)
	ctx := context.Background()

	require.NoError(t, dc.Put(ctx, "pool", nil, testBundle("a"), common.SourceSharedPool))
	require.NoError(t, dc.Put(ctx, "gen", nil, testBundle("b"), common.SourceGenerated))

	poolEntry, _ := dc.Get(ctx, "pool")
	genEntry, _ := dc.Get(ctx, "gen")
	require.NotNil(t, poolEntry)
	require.NotNil(t, genEntry)

	assert.InDelta(t, cfg.SharedPoolTTL.Seconds(), poolEntry.ExpiresAt.Sub(poolEntry.CreatedAt).Seconds(), 1)
	assert.InDelta(t, cfg.GeneratedTTL.Seconds(), genEntry.ExpiresAt.Sub(genEntry.CreatedAt).Seconds(), 1)
}

func TestDeviceCacheUnknownSourceUsesStaticTTL(t *testing.T) {
	store := NewMemoryStore(0)
	cfg := testResolverConfig()
	dc := NewDeviceCache(store, cfg)
	ctx := context.Background()

	require.NoError(t, dc.Put(ctx, "odd", nil, testBundle("a"), common.RecipeSource("mystery")))
	entry, _ := dc.Get(ctx, "odd")
	require.NotNil(t, entry)
	assert.InDelta(t, cfg.StaticTTL.Seconds(), entry.ExpiresAt.Sub(entry.CreatedAt).Seconds(), 1)
}

func TestDeviceCacheLastWriteWins(t *testing.T) {
	store := NewMemoryStore(0)
	dc := NewDeviceCache(store, testResolverConfig())
	ctx := context.Background()

	require.NoError(t, dc.Put(ctx, "key-1", nil, testBundle("old"), common.SourceStatic))
	require.NoError(t, dc.Put(ctx, "key-1", nil, testBundle("new"), common.SourceSharedPool))

	entry, _ := dc.Get(ctx, "key-1")
	require.NotNil(t, entry)
	assert.Equal(t, common.SourceSharedPool, entry.Source)
	assert.Equal(t, "new", entry.Bundle.ExactMatches[0].Recipe.Name)
}

func TestDeviceCacheEvictsOldestBatch(t *testing.T) {
	cfg := testResolverConfig()
	cfg.CacheCapacity = 3
	cfg.EvictBatch = 2
	store := NewMemoryStore(0)
	dc := NewDeviceCache(store, cfg)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("key-%d", i)
		require.NoError(t, dc.Put(ctx, key, nil, testBundle(key), common.SourceSharedPool))
		time.Sleep(5 * time.Millisecond) // distinct CreatedAt for eviction ordering
	}

	keys, err := store.ListKeys(ctx, entryPrefix)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	// The two oldest entries are gone, the two newest survive.
	_, state := dc.Get(ctx, "key-0")
	assert.Equal(t, StateAbsent, state)
	_, state = dc.Get(ctx, "key-1")
	assert.Equal(t, StateAbsent, state)
	_, state = dc.Get(ctx, "key-3")
	assert.Equal(t, StateFresh, state)
}

func TestDeviceCacheClear(t *testing.T) {
	store := NewMemoryStore(0)
	dc := NewDeviceCache(store, testResolverConfig())
	ctx := context.Background()

	require.NoError(t, dc.Put(ctx, "a", nil, testBundle("a"), common.SourceStatic))
	require.NoError(t, dc.Put(ctx, "b", nil, testBundle("b"), common.SourceStatic))
	require.NoError(t, dc.Clear(ctx))

	_, state := dc.Get(ctx, "a")
	assert.Equal(t, StateAbsent, state)
	_, state = dc.Get(ctx, "b")
	assert.Equal(t, StateAbsent, state)
}

func TestMemoryStoreMissAndDelete(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrStoreMiss)

	require.NoError(t, store.Put(ctx, "k", []byte("v"), 0))
	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreMiss)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("v"), 30*time.Millisecond))
	time.Sleep(60 * time.Millisecond)

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreMiss)
}

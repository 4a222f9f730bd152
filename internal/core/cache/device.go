package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"recipe-resolver/internal/infrastructure/config"
	"recipe-resolver/internal/pkg/common"

	"go.uber.org/zap"
)

// 裝置快取鍵前綴
const entryPrefix = "resolve:"

// State 裝置快取讀取的三態結果
type State int

const (
	StateAbsent State = iota // 不存在或已過期（過期條目在讀取時清除）
	StateFresh               // 未過半衰期
	StateStale               // 過半衰期但未過期
)

// Entry 裝置快取條目
type Entry struct {
	Key         string              `json:"key"`
	Ingredients []string            `json:"ingredients"`
	Bundle      common.ResultBundle `json:"bundle"`
	Source      common.RecipeSource `json:"source"`
	CreatedAt   time.Time           `json:"created_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

// DeviceCache 裝置端結果快取
// 寫入採 last-write-wins：所有寫入方都從上游權威來源重算，不會寫入部分狀態
type DeviceCache struct {
	store            DeviceStore
	ttls             map[common.RecipeSource]time.Duration
	halfLifeFraction float64
	capacity         int
	evictBatch       int
}

// NewDeviceCache 創建裝置快取
func NewDeviceCache(store DeviceStore, cfg *config.ResolverConfig) *DeviceCache {
	return &DeviceCache{
		store: store,
		ttls: map[common.RecipeSource]time.Duration{
			common.SourceSharedPool:      cfg.SharedPoolTTL,
			common.SourceGenerationCache: cfg.GenerationCacheTTL,
			common.SourceGenerated:       cfg.GeneratedTTL,
			common.SourceStatic:          cfg.StaticTTL,
		},
		halfLifeFraction: cfg.HalfLifeFraction,
		capacity:         cfg.CacheCapacity,
		evictBatch:       cfg.EvictBatch,
	}
}

// Get 讀取快取條目
// 儲存層失敗視為未命中，絕不向上拋出
func (c *DeviceCache) Get(ctx context.Context, key string) (*Entry, State) {
	data, err := c.store.Get(ctx, entryPrefix+key)
	if err != nil {
		if !errors.Is(err, ErrStoreMiss) {
			common.LogWarn("裝置快取讀取失敗，視為未命中",
				zap.String("鍵", key),
				zap.Error(err),
			)
		}
		return nil, StateAbsent
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		common.LogWarn("裝置快取條目解析失敗，清除",
			zap.String("鍵", key),
			zap.Error(err),
		)
		_ = c.store.Delete(ctx, entryPrefix+key)
		return nil, StateAbsent
	}

	now := time.Now()
	if !now.Before(entry.ExpiresAt) {
		// 過期條目在讀取時清除
		_ = c.store.Delete(ctx, entryPrefix+key)
		common.LogCacheMiss("device", key)
		return nil, StateAbsent
	}

	age := now.Sub(entry.CreatedAt)
	ttl := entry.ExpiresAt.Sub(entry.CreatedAt)
	halfLife := time.Duration(float64(ttl) * c.halfLifeFraction)

	common.LogCacheHit("device", key)
	if age < halfLife {
		return &entry, StateFresh
	}
	return &entry, StateStale
}

// Put 寫入快取條目，依來源套用對應 TTL
func (c *DeviceCache) Put(ctx context.Context, key string, ingredients []string, bundle common.ResultBundle, source common.RecipeSource) error {
	ttl, ok := c.ttls[source]
	if !ok {
		ttl = c.ttls[common.SourceStatic]
	}

	now := time.Now()
	entry := Entry{
		Key:         key,
		Ingredients: ingredients,
		Bundle:      bundle,
		Source:      source,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		return err
	}

	if err := c.store.Put(ctx, entryPrefix+key, data, ttl); err != nil {
		common.LogWarn("裝置快取寫入失敗",
			zap.String("鍵", key),
			zap.Error(err),
		)
		return err
	}

	c.enforceCapacity(ctx)
	return nil
}

// Clear 清空裝置快取（使用者主動清除）
func (c *DeviceCache) Clear(ctx context.Context) error {
	keys, err := c.store.ListKeys(ctx, entryPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			return err
		}
	}
	common.LogInfo("裝置快取已清空", zap.Int("數量", len(keys)))
	return nil
}

// enforceCapacity 超出容量時淘汰最舊的一批條目
func (c *DeviceCache) enforceCapacity(ctx context.Context) {
	keys, err := c.store.ListKeys(ctx, entryPrefix)
	if err != nil || len(keys) <= c.capacity {
		return
	}

	type aged struct {
		key       string
		createdAt time.Time
	}
	entries := make([]aged, 0, len(keys))
	for _, k := range keys {
		data, err := c.store.Get(ctx, k)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			// 壞條目直接當最舊處理
			entries = append(entries, aged{key: k})
			continue
		}
		entries = append(entries, aged{key: k, createdAt: entry.CreatedAt})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	evicted := 0
	for _, e := range entries {
		if evicted >= c.evictBatch {
			break
		}
		if err := c.store.Delete(ctx, e.key); err == nil {
			evicted++
		}
	}

	common.LogInfo("裝置快取淘汰",
		zap.Int("淘汰數量", evicted),
		zap.Int("目前容量", len(keys)-evicted),
	)
}

package search

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"recipe-resolver/internal/core/cache"
	"recipe-resolver/internal/pkg/common"

	"go.uber.org/zap"
)

// historyPrefix 搜尋歷史的鍵命名空間
const historyPrefix = "history:"

// historyWriteTimeout 背景寫入逾時
const historyWriteTimeout = 5 * time.Second

// HistoryEntry 搜尋歷史條目
type HistoryEntry struct {
	ID          string              `json:"id"`
	Ingredients []string            `json:"ingredients"`
	Source      common.RecipeSource `json:"source"`
	ExactCount  int                 `json:"exact_count"`
	NearCount   int                 `json:"near_count"`
	LatencyMS   int64               `json:"latency_ms"`
	CreatedAt   time.Time           `json:"created_at"`
}

// HistoryLog 搜尋歷史記錄器
// 寫入為 fire-and-forget，不阻塞也不影響解析結果的回傳
type HistoryLog struct {
	store cache.DeviceStore
	limit int
	ttl   time.Duration
}

// NewHistoryLog 創建搜尋歷史記錄器
func NewHistoryLog(store cache.DeviceStore, limit int, ttl time.Duration) *HistoryLog {
	return &HistoryLog{
		store: store,
		limit: limit,
		ttl:   ttl,
	}
}

// Record 背景記錄一次搜尋
func (h *HistoryLog) Record(ingredients []string, source common.RecipeSource, exactCount, nearCount int, latency time.Duration) {
	entry := HistoryEntry{
		ID:          common.GenerateUUID(),
		Ingredients: ingredients,
		Source:      source,
		ExactCount:  exactCount,
		NearCount:   nearCount,
		LatencyMS:   latency.Milliseconds(),
		CreatedAt:   time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		defer cancel()

		data, err := json.Marshal(&entry)
		if err != nil {
			common.LogWarn("搜尋歷史序列化失敗", zap.Error(err))
			return
		}
		if err := h.store.Put(ctx, historyPrefix+entry.ID, data, h.ttl); err != nil {
			common.LogWarn("搜尋歷史寫入失敗", zap.Error(err))
		}
	}()
}

// List 讀取最近的搜尋歷史，新的在前
func (h *HistoryLog) List(ctx context.Context) ([]HistoryEntry, error) {
	keys, err := h.store.ListKeys(ctx, historyPrefix)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(keys))
	for _, k := range keys {
		data, err := h.store.Get(ctx, k)
		if err != nil {
			continue
		}
		var entry HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if h.limit > 0 && len(entries) > h.limit {
		entries = entries[:h.limit]
	}
	return entries, nil
}

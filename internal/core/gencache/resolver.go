package gencache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"recipe-resolver/internal/pkg/common"

	"github.com/go-redis/redis/v8"
)

// keyPrefix 生成快取的鍵命名空間
const keyPrefix = "gencache:"

// Resolver 生成快取解析器
// 跨用戶共享的短期生成結果，不需授權檢查；壽命由寫入方（協調器）決定
type Resolver struct {
	client   *redis.Client
	writeTTL time.Duration
}

// NewResolver 創建生成快取解析器
func NewResolver(client *redis.Client, writeTTL time.Duration) *Resolver {
	return &Resolver{
		client:   client,
		writeTTL: writeTTL,
	}
}

// Resolve 以組合鍵查詢生成快取
// 未命中回傳空結果，不視為錯誤
func (r *Resolver) Resolve(ctx context.Context, key string) (*common.ResultBundle, error) {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			common.LogCacheMiss("generation", key)
			return &common.ResultBundle{}, nil
		}
		return nil, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
	}

	var bundle common.ResultBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal generation cache entry: %w", err)
	}

	common.LogCacheHit("generation", key)
	return &bundle, nil
}

// Save 寫入生成結果
func (r *Resolver) Save(ctx context.Context, key string, bundle *common.ResultBundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal generation cache entry: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+key, data, r.writeTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
	}
	return nil
}

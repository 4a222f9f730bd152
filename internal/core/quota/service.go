package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"recipe-resolver/internal/infrastructure/config"
	"recipe-resolver/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Service 授權與額度服務
// 有設定外部授權服務時走遠端；否則用 Redis 計數，Redis 也不可用時退回記憶體計數
type Service struct {
	cfg    *config.QuotaConfig
	client *resty.Client
	redis  *redis.Client

	// 同一使用者的並發授權查詢合併為一次遠端呼叫
	group singleflight.Group

	mu      sync.Mutex
	daily   map[string]int // 記憶體退路：userID+日期 → 當日已生成次數
	credits map[string]int // 記憶體退路：userID → 剩餘點數

	// 遠端授權查詢的短期結果快取
	entMu       sync.RWMutex
	entitlement map[string]entitlementEntry
}

type entitlementEntry struct {
	entitled  bool
	expiresAt time.Time
}

// entitlementCacheTTL 授權結果的本地快取壽命
const entitlementCacheTTL = time.Minute

// NewService 創建額度服務
func NewService(cfg *config.QuotaConfig, redisClient *redis.Client) *Service {
	var client *resty.Client
	if cfg.EntitlementBaseURL != "" {
		client = resty.New().
			SetBaseURL(cfg.EntitlementBaseURL).
			SetTimeout(cfg.Timeout)
	}

	return &Service{
		cfg:         cfg,
		client:      client,
		redis:       redisClient,
		daily:       make(map[string]int),
		credits:     make(map[string]int),
		entitlement: make(map[string]entitlementEntry),
	}
}

// IsEntitled 查詢使用者是否為訂閱用戶
// 查詢失敗回傳 false：解析流程只會因此降級，不會中斷
func (s *Service) IsEntitled(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}

	if s.client == nil {
		// 沒有遠端授權服務時視所有已登入使用者為訂閱用戶
		return true, nil
	}

	s.entMu.RLock()
	if entry, ok := s.entitlement[userID]; ok && time.Now().Before(entry.expiresAt) {
		s.entMu.RUnlock()
		return entry.entitled, nil
	}
	s.entMu.RUnlock()

	result, err, _ := s.group.Do("entitled:"+userID, func() (interface{}, error) {
		var out struct {
			Entitled bool `json:"entitled"`
		}
		resp, err := s.client.R().
			SetContext(ctx).
			SetResult(&out).
			Get(fmt.Sprintf("/entitlements/%s", userID))
		if err != nil {
			return false, fmt.Errorf("entitlement lookup failed: %w", err)
		}
		if resp.IsError() {
			return false, fmt.Errorf("entitlement service error (status %d)", resp.StatusCode())
		}

		s.entMu.Lock()
		s.entitlement[userID] = entitlementEntry{
			entitled:  out.Entitled,
			expiresAt: time.Now().Add(entitlementCacheTTL),
		}
		s.entMu.Unlock()
		return out.Entitled, nil
	})
	if err != nil {
		common.LogWarn("授權查詢失敗，視為未授權",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false, err
	}
	return result.(bool), nil
}

// CheckAndConsume 檢查並消耗額度
// 訂閱用戶對照每日生成上限；非訂閱用戶扣點數。超出上限時不消耗
func (s *Service) CheckAndConsume(ctx context.Context, userID string, amount int, entitled bool) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("user id is required for quota consumption")
	}

	if s.client != nil {
		return s.consumeRemote(ctx, userID, amount)
	}
	if s.redis != nil {
		return s.consumeRedis(ctx, userID, amount, entitled)
	}
	return s.consumeLocal(userID, amount, entitled), nil
}

// consumeRemote 透過外部授權服務消耗額度
func (s *Service) consumeRemote(ctx context.Context, userID string, amount int) (bool, error) {
	var out struct {
		Allowed bool `json:"allowed"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"user_id": userID,
			"amount":  amount,
		}).
		SetResult(&out).
		Post("/quota/consume")
	if err != nil {
		return false, fmt.Errorf("quota consume failed: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("quota service error (status %d)", resp.StatusCode())
	}
	return out.Allowed, nil
}

// consumeRedis 以 Redis 計數消耗額度
func (s *Service) consumeRedis(ctx context.Context, userID string, amount int, entitled bool) (bool, error) {
	if entitled {
		key := fmt.Sprintf("quota:daily:%s:%s", userID, time.Now().Format("2006-01-02"))
		used, err := s.redis.IncrBy(ctx, key, int64(amount)).Result()
		if err != nil {
			return false, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
		}
		s.redis.Expire(ctx, key, 24*time.Hour)
		if used > int64(s.cfg.DailyLimit) {
			// 超出上限：本次未成立，回沖計數
			s.redis.DecrBy(ctx, key, int64(amount))
			return false, nil
		}
		return true, nil
	}

	key := "quota:credits:" + userID
	// 首次見到的使用者先寫入初始點數
	s.redis.SetNX(ctx, key, s.cfg.InitialCredits, 0)
	remaining, err := s.redis.DecrBy(ctx, key, int64(amount)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
	}
	if remaining < 0 {
		s.redis.IncrBy(ctx, key, int64(amount))
		return false, nil
	}
	return true, nil
}

// consumeLocal 記憶體計數退路
func (s *Service) consumeLocal(userID string, amount int, entitled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entitled {
		key := userID + ":" + time.Now().Format("2006-01-02")
		if s.daily[key]+amount > s.cfg.DailyLimit {
			return false
		}
		s.daily[key] += amount
		return true
	}

	if _, seen := s.credits[userID]; !seen {
		s.credits[userID] = s.cfg.InitialCredits
	}
	if s.credits[userID] < amount {
		return false
	}
	s.credits[userID] -= amount
	return true
}

package search

import (
	"context"
	"time"

	"recipe-resolver/internal/core/cache"
	"recipe-resolver/internal/core/ingredient"
	"recipe-resolver/internal/pkg/common"

	"go.uber.org/zap"
)

// refreshTimeout 背景刷新的整體逾時
const refreshTimeout = 90 * time.Second

// PoolResolver 共享池解析介面
type PoolResolver interface {
	Resolve(ctx context.Context, key string, ingredients []string, entitled bool) (*common.ResultBundle, error)
}

// GenerationCache 生成快取解析介面
type GenerationCache interface {
	Resolve(ctx context.Context, key string) (*common.ResultBundle, error)
}

// Generator 生成協調介面
type Generator interface {
	Generate(ctx context.Context, ingredients []string, key string, user common.UserContext) (*common.ResultBundle, error)
}

// StaticResolver 靜態備援介面
type StaticResolver interface {
	Resolve(query []string) common.ResultBundle
}

// EntitlementChecker 授權查詢介面
type EntitlementChecker interface {
	IsEntitled(ctx context.Context, userID string) (bool, error)
}

// Reachability 網路可達性介面
type Reachability interface {
	Online() bool
}

// Request 一次解析請求
type Request struct {
	Ingredients   []string `json:"ingredients"`
	UserID        string   `json:"user_id,omitempty"`
	AllowGenerate bool     `json:"allow_generate,omitempty"`
}

// Orchestrator 搜尋協調器
// 依序走訪各解析層，首個成功即終止；所有依賴以介面注入，
// 任一層的失敗都降級到下一層，靜態層保證不失敗
type Orchestrator struct {
	cache        *cache.DeviceCache
	pool         PoolResolver
	gencache     GenerationCache
	generator    Generator
	static       StaticResolver
	entitlements EntitlementChecker
	network      Reachability
	history      *HistoryLog
	revalidator  *Revalidator
}

// NewOrchestrator 創建搜尋協調器
func NewOrchestrator(
	deviceCache *cache.DeviceCache,
	pool PoolResolver,
	genCache GenerationCache,
	generator Generator,
	static StaticResolver,
	entitlements EntitlementChecker,
	network Reachability,
	history *HistoryLog,
) *Orchestrator {
	return &Orchestrator{
		cache:        deviceCache,
		pool:         pool,
		gencache:     genCache,
		generator:    generator,
		static:       static,
		entitlements: entitlements,
		network:      network,
		history:      history,
		revalidator:  NewRevalidator(),
	}
}

// Resolve 解析一次食材查詢
// 唯一會回傳錯誤的情況是 InvalidQuery；其餘失敗都以較舊或較少的結果收場
func (o *Orchestrator) Resolve(ctx context.Context, req Request) (*common.Resolution, error) {
	start := time.Now()

	normalized, key, err := ingredient.NormalizeAndKey(req.Ingredients)
	if err != nil {
		return nil, err
	}

	// 第一層：裝置快取
	if entry, state := o.cache.Get(ctx, key); state != cache.StateAbsent {
		if state == cache.StateStale && o.network.Online() {
			// 陳舊值立即回傳，刷新在背景進行；離線時保留原條目，等恢復連線再刷新
			o.scheduleRefresh(key, normalized, req)
		}
		res := &common.Resolution{
			ResultBundle:   entry.Bundle,
			Source:         common.SourceDeviceCache,
			CombinationKey: key,
			IsCached:       true,
			IsStale:        state == cache.StateStale,
		}
		o.recordHistory(normalized, res, time.Since(start))
		return res, nil
	}

	// 離線且無快取：直接走靜態層
	if !o.network.Online() {
		common.LogTierFallthrough("network", common.ErrNetworkUnavailable)
		res := o.finishStatic(ctx, key, normalized)
		o.recordHistory(normalized, res, time.Since(start))
		return res, nil
	}

	bundle, source := o.resolveTiers(ctx, key, normalized, req)
	o.persist(ctx, key, normalized, bundle, source)

	res := &common.Resolution{
		ResultBundle:   *bundle,
		Source:         source,
		CombinationKey: key,
		IsCached:       false,
	}
	o.recordHistory(normalized, res, time.Since(start))
	return res, nil
}

// resolveTiers 走訪裝置快取以外的解析層（共享池 → 生成快取 → 生成 → 靜態）
// 背景刷新也走這條路徑，藉此繞過裝置快取讀取
func (o *Orchestrator) resolveTiers(ctx context.Context, key string, normalized []string, req Request) (*common.ResultBundle, common.RecipeSource) {
	user := common.UserContext{UserID: req.UserID}
	if user.Authenticated() && o.entitlements != nil {
		entitled, err := o.entitlements.IsEntitled(ctx, req.UserID)
		if err != nil {
			common.LogWarn("授權查詢失敗，以未授權繼續",
				zap.String("user_id", req.UserID),
				zap.Error(err),
			)
		}
		user.Entitled = entitled
	}

	// 第二層：共享池
	if o.pool != nil {
		bundle, err := o.pool.Resolve(ctx, key, normalized, user.Entitled)
		if err != nil {
			common.LogTierFallthrough("shared_pool", err)
		} else if !bundle.Empty() {
			bundle.Tag(common.SourceSharedPool)
			return bundle, common.SourceSharedPool
		}
	}

	// 第三層：生成快取
	if o.gencache != nil {
		bundle, err := o.gencache.Resolve(ctx, key)
		if err != nil {
			common.LogTierFallthrough("generation_cache", err)
		} else if !bundle.Empty() {
			bundle.Tag(common.SourceGenerationCache)
			return bundle, common.SourceGenerationCache
		}
	}

	// 第四層：即時生成，僅限已登入且選擇加入生成的請求
	// 額度用盡與生成失敗同樣只降級，不會穿出到呼叫者
	if o.generator != nil && req.AllowGenerate && user.Authenticated() {
		bundle, err := o.generator.Generate(ctx, normalized, key, user)
		if err != nil {
			common.LogTierFallthrough("generation", err)
		} else if !bundle.Empty() {
			return bundle, common.SourceGenerated
		}
	}

	// 終點：靜態備援，永不失敗
	bundle := o.static.Resolve(normalized)
	return &bundle, common.SourceStatic
}

// finishStatic 離線時的靜態終點
func (o *Orchestrator) finishStatic(ctx context.Context, key string, normalized []string) *common.Resolution {
	bundle := o.static.Resolve(normalized)
	o.persist(ctx, key, normalized, &bundle, common.SourceStatic)
	return &common.Resolution{
		ResultBundle:   bundle,
		Source:         common.SourceStatic,
		CombinationKey: key,
	}
}

// persist 將解析結果寫回裝置快取；寫入失敗只記錄
func (o *Orchestrator) persist(ctx context.Context, key string, normalized []string, bundle *common.ResultBundle, source common.RecipeSource) {
	if err := o.cache.Put(ctx, key, normalized, *bundle, source); err != nil {
		common.LogWarn("解析結果寫入裝置快取失敗",
			zap.String("鍵", key),
			zap.String("來源", string(source)),
			zap.Error(err),
		)
	}
}

// scheduleRefresh 排程一次陳舊條目的背景刷新
// 刷新不綁定請求生命週期；失敗只記錄，不回傳給任何呼叫者
func (o *Orchestrator) scheduleRefresh(key string, normalized []string, req Request) {
	o.revalidator.Trigger(key, func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		bundle, source := o.resolveTiers(ctx, key, normalized, req)
		o.persist(ctx, key, normalized, bundle, source)
		common.LogInfo("陳舊條目刷新完成",
			zap.String("鍵", key),
			zap.String("來源", string(source)),
		)
	})
}

// recordHistory 背景記錄搜尋歷史，不影響回傳路徑
func (o *Orchestrator) recordHistory(normalized []string, res *common.Resolution, latency time.Duration) {
	if o.history == nil {
		return
	}
	o.history.Record(normalized, res.Source, len(res.ExactMatches), len(res.NearMatches), latency)
}

// Close 等待在途的背景刷新完成
func (o *Orchestrator) Close() {
	o.revalidator.Wait()
}

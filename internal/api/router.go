package api

import (
	"context"
	"net/http"
	"time"

	"recipe-resolver/internal/api/handlers/health"
	searchHandler "recipe-resolver/internal/api/handlers/search"
	"recipe-resolver/internal/api/middleware"
	"recipe-resolver/internal/core/cache"
	"recipe-resolver/internal/core/gencache"
	"recipe-resolver/internal/core/generate"
	"recipe-resolver/internal/core/match"
	"recipe-resolver/internal/core/network"
	"recipe-resolver/internal/core/pool"
	"recipe-resolver/internal/core/quota"
	searchCore "recipe-resolver/internal/core/search"
	"recipe-resolver/internal/core/staticdata"
	"recipe-resolver/internal/infrastructure/config"
	"recipe-resolver/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// 請求超時，需涵蓋最壞情況下的生成層呼叫
	timeoutDuration = 90 * time.Second
	// 請求體大小限制 (1MB)，純文字食材清單用不到更多
	maxBodySize = 1 << 20
)

// Services 路由背後的長生命週期服務
// 關閉順序：先等背景刷新收斂，再停掉網路探測
type Services struct {
	Orchestrator *searchCore.Orchestrator
	Monitor      *network.Monitor
}

// Close 關閉所有背景服務
func (s *Services) Close() {
	if s.Orchestrator != nil {
		s.Orchestrator.Close()
	}
	if s.Monitor != nil {
		s.Monitor.Close()
	}
}

// SetupRouter 設置路由並組裝解析層
// store 為裝置快取後端；redisClient 與 poolResolver 可為 nil，對應層級自動停用
func SetupRouter(cfg *config.Config, store cache.DeviceStore, redisClient *redis.Client, poolResolver *pool.Resolver) (*gin.Engine, *Services, error) {
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
		zap.Bool("shared_pool_enabled", poolResolver != nil),
		zap.Bool("generator_enabled", cfg.Generator.Enabled),
	)

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 基礎中間件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(requestid.New())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(middleware.BodySizeLimit(maxBodySize))

	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}

	// 全局超時
	router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeoutDuration)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() {
			common.LogError("Request timeout",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetHeader("X-Request-ID")),
				zap.Duration("timeout", timeoutDuration),
			)
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{
				"error": "Request timeout",
				"code":  common.ErrCodeGatewayTimeout,
			})
		}
	})

	// 組裝解析層
	scorer := match.NewScorer(cfg)
	deviceCache := cache.NewDeviceCache(store, &cfg.Resolver)
	staticResolver := staticdata.NewResolver(scorer)
	monitor := network.NewMonitor(&cfg.Network)
	quotaService := quota.NewService(&cfg.Quota, redisClient)
	historyLog := searchCore.NewHistoryLog(store, cfg.Resolver.HistoryLimit, cfg.Resolver.HistoryTTL)

	// 帶型別的 nil 指標不能直接塞進介面欄位，停用的層必須保持介面為 nil
	var poolTier searchCore.PoolResolver
	var poolWriter generate.PoolWriter
	if poolResolver != nil {
		poolTier = poolResolver
		poolWriter = poolResolver
	}

	var genCacheTier searchCore.GenerationCache
	var genCacheWriter generate.CacheWriter
	if redisClient != nil {
		genCacheResolver := gencache.NewResolver(redisClient, cfg.Resolver.GenCacheWriteTTL)
		genCacheTier = genCacheResolver
		genCacheWriter = genCacheResolver
	}

	var generator searchCore.Generator
	if cfg.Generator.Enabled {
		client := generate.NewCompletionClient(&cfg.Generator)
		generator = generate.NewOrchestrator(client, quotaService, poolWriter, genCacheWriter, scorer, cfg.Generator.Timeout)
	}

	orchestrator := searchCore.NewOrchestrator(
		deviceCache,
		poolTier,
		genCacheTier,
		generator,
		staticResolver,
		quotaService,
		monitor,
		historyLog,
	)

	common.LogInfo("Resolution tiers initialized",
		zap.Bool("shared_pool", poolTier != nil),
		zap.Bool("generation_cache", genCacheTier != nil),
		zap.Bool("generator", generator != nil),
		zap.Int("static_recipes", staticResolver.Count()),
	)

	// 就緒檢查探測
	deps := map[string]health.Pinger{}
	if rs, ok := store.(*cache.RedisStore); ok {
		deps["redis"] = health.PingerFunc(rs.Ping)
	}
	if poolResolver != nil {
		deps["shared_pool"] = health.PingerFunc(poolResolver.Ping)
	}
	checker := health.NewChecker(cfg, deps)

	router.GET("/health", checker.HealthCheck)
	router.GET("/health/ready", checker.ReadinessCheck)
	router.GET("/health/live", checker.LivenessCheck)

	handler := searchHandler.NewHandler(orchestrator, historyLog, deviceCache, monitor)

	api := router.Group("/api/v1")
	{
		recipeGroup := api.Group("/recipes")
		{
			// 搜尋是唯一會觸發生成的入口，套用去重避免重複扣額度
			recipeGroup.POST("/search", middleware.Deduplication(cfg), handler.HandleSearch)
		}

		api.GET("/history", handler.HandleHistory)
		api.DELETE("/cache", handler.HandleClearCache)

		networkGroup := api.Group("/network")
		{
			networkGroup.GET("", handler.HandleNetworkStatus)
			networkGroup.PUT("", handler.HandleNetworkOverride)
		}
	}

	common.LogInfo("Router setup completed successfully",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
		zap.Duration("timeout", timeoutDuration),
		zap.Int64("max_body_size", maxBodySize),
	)

	return router, &Services{Orchestrator: orchestrator, Monitor: monitor}, nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recipe-resolver/internal/api"
	"recipe-resolver/internal/core/cache"
	"recipe-resolver/internal/core/match"
	"recipe-resolver/internal/core/pool"
	"recipe-resolver/internal/infrastructure/config"
	"recipe-resolver/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 載入 .env
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found")
	}

	// 載入設定
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化 logger（需在載入 config 後）
	if err := common.InitLogger(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer common.Sync()

	common.LogInfo("載入設定",
		zap.String("env", cfg.App.Env),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("postgres_enabled", cfg.Postgres.Enabled),
		zap.Bool("generator_enabled", cfg.Generator.Enabled),
		zap.String("generator_api_key", config.MaskAPIKey(cfg.Generator.APIKey)),
	)

	// 裝置快取後端：Redis 優先，失敗時退回記憶體
	var store cache.DeviceStore
	var closeStore func() error
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			common.LogWarn("Redis 連線失敗，改用記憶體快取",
				zap.String("addr", cfg.Redis.Addr),
				zap.Error(err),
			)
		} else {
			store = redisStore
			closeStore = redisStore.Close
			redisClient = redisStore.Client()
		}
	}
	if store == nil {
		memStore := cache.NewMemoryStore(5 * time.Minute)
		store = memStore
		closeStore = memStore.Close
	}
	defer closeStore()

	// 共享池
	var poolResolver *pool.Resolver
	if cfg.Postgres.Enabled {
		scorer := match.NewScorer(cfg)
		poolResolver, err = pool.NewResolver(cfg.Postgres.DSN, scorer, cfg.Resolver.PoolOverlapRatio)
		if err != nil {
			common.LogError("共享池初始化失敗，該層將停用", zap.Error(err))
			poolResolver = nil
		} else {
			defer poolResolver.Close()
		}
	}

	// 設置路由
	router, services, err := api.SetupRouter(cfg, store, redisClient, poolResolver)
	if err != nil {
		common.LogError("Failed to setup router", zap.Error(err))
		os.Exit(1)
	}
	defer services.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 啟動服務器
	go func() {
		common.LogInfo("啟動應用",
			zap.String("version", cfg.App.Version),
			zap.String("env", cfg.App.Env),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("debug", cfg.App.Debug),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.LogError("Failed to start server",
				zap.Error(err),
			)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	common.LogInfo("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		common.LogError("Server forced to shutdown",
			zap.Error(err),
		)
		os.Exit(1)
	}

	common.LogInfo("Server exited")
}

package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"recipe-resolver/internal/infrastructure/config"
	"recipe-resolver/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger 可被探測的後端依賴
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc 讓任意函式充當 Pinger
type PingerFunc func(ctx context.Context) error

// Ping 實現 Pinger 介面
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthResponse 健康檢查響應
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime"`
}

// Checker 健康檢查處理程序
// deps 中的探測僅用於就緒檢查；存活與基本健康不碰外部依賴
type Checker struct {
	cfg  *config.Config
	deps map[string]Pinger
}

// NewChecker 創建健康檢查處理程序
func NewChecker(cfg *config.Config, deps map[string]Pinger) *Checker {
	return &Checker{cfg: cfg, deps: deps}
}

// HealthCheck 健康檢查處理器
func (ck *Checker) HealthCheck(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   ck.cfg.App.Version,
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":       m.Alloc,
				"total_alloc": m.TotalAlloc,
				"sys":         m.Sys,
				"num_gc":      m.NumGC,
			},
		},
	}

	common.LogDebug("Health check request",
		zap.String("client_ip", c.ClientIP()),
		zap.String("path", c.Request.URL.Path),
	)

	c.JSON(http.StatusOK, response)
}

// ReadinessCheck 就緒檢查處理器，逐一探測後端依賴
func (ck *Checker) ReadinessCheck(c *gin.Context) {
	checks := gin.H{}
	ready := true
	for name, dep := range ck.deps {
		if err := dep.Ping(c.Request.Context()); err != nil {
			common.LogWarn("依賴探測失敗",
				zap.String("dependency", name),
				zap.Error(err),
			)
			checks[name] = "unavailable"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
	})
}

// LivenessCheck 存活檢查處理器
func (ck *Checker) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}

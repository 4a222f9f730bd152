package search

import (
	"errors"
	"net/http"

	"recipe-resolver/internal/core/cache"
	"recipe-resolver/internal/core/network"
	searchCore "recipe-resolver/internal/core/search"
	"recipe-resolver/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SearchRequest 食材搜尋請求
type SearchRequest struct {
	Ingredients   []string `json:"ingredients" binding:"required"` // 手上的食材
	UserID        string   `json:"user_id,omitempty"`              // 使用者識別，留空視為訪客
	AllowGenerate bool     `json:"allow_generate,omitempty"`       // 是否允許走到即時生成層
}

// SearchResponse 搜尋響應
type SearchResponse struct {
	Source         common.RecipeSource  `json:"source"`
	CombinationKey string               `json:"combination_key"`
	IsCached       bool                 `json:"is_cached"`
	IsStale        bool                 `json:"is_stale"`
	ExactMatches   []common.MatchResult `json:"exact_matches"`
	NearMatches    []common.MatchResult `json:"near_matches"`
}

// NetworkRequest 手動網路狀態覆寫請求
type NetworkRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// Handler 搜尋處理程序
type Handler struct {
	orchestrator *searchCore.Orchestrator
	history      *searchCore.HistoryLog
	deviceCache  *cache.DeviceCache
	monitor      *network.Monitor
}

// NewHandler 創建新的搜尋處理程序
func NewHandler(orchestrator *searchCore.Orchestrator, history *searchCore.HistoryLog, deviceCache *cache.DeviceCache, monitor *network.Monitor) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		history:      history,
		deviceCache:  deviceCache,
		monitor:      monitor,
	}
}

// HandleSearch 解析食材查詢，回傳分層解析結果
func (h *Handler) HandleSearch(c *gin.Context) {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
		c.Header("X-Request-ID", requestID)
	}

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.LogError("請求格式無效",
			zap.Error(err),
			zap.String("request_id", requestID),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}

	common.LogInfo("開始處理食材搜尋請求",
		zap.String("request_id", requestID),
		zap.Int("ingredient_count", len(req.Ingredients)),
		zap.Bool("allow_generate", req.AllowGenerate),
	)

	res, err := h.orchestrator.Resolve(c.Request.Context(), searchCore.Request{
		Ingredients:   req.Ingredients,
		UserID:        req.UserID,
		AllowGenerate: req.AllowGenerate,
	})
	if err != nil {
		status := http.StatusInternalServerError
		code := common.ErrCodeInternalError
		var ce *common.CustomError
		if errors.As(err, &ce) {
			status = ce.Status
			code = ce.Code
		}
		common.LogError("食材搜尋失敗",
			zap.Error(err),
			zap.String("request_id", requestID),
		)
		c.JSON(status, gin.H{
			"error": err.Error(),
			"code":  code,
		})
		return
	}

	c.JSON(http.StatusOK, SearchResponse{
		Source:         res.Source,
		CombinationKey: res.CombinationKey,
		IsCached:       res.IsCached,
		IsStale:        res.IsStale,
		ExactMatches:   res.ExactMatches,
		NearMatches:    res.NearMatches,
	})
}

// HandleHistory 回傳最近的搜尋歷史
func (h *Handler) HandleHistory(c *gin.Context) {
	entries, err := h.history.List(c.Request.Context())
	if err != nil {
		common.LogError("搜尋歷史讀取失敗", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "History unavailable",
			"code":  common.ErrCodeStorageUnavailable,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleClearCache 清除裝置快取的所有解析條目
func (h *Handler) HandleClearCache(c *gin.Context) {
	if err := h.deviceCache.Clear(c.Request.Context()); err != nil {
		common.LogError("裝置快取清除失敗", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Cache unavailable",
			"code":  common.ErrCodeStorageUnavailable,
		})
		return
	}

	common.LogInfo("裝置快取已清除", zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{
		"status": "cleared",
	})
}

// HandleNetworkStatus 回傳目前的網路可達性判定
func (h *Handler) HandleNetworkStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online": h.monitor.Online(),
	})
}

// HandleNetworkOverride 手動覆寫網路狀態，覆寫後探測不再改寫
func (h *Handler) HandleNetworkOverride(c *gin.Context) {
	var req NetworkRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}

	h.monitor.SetOnline(*req.Online)
	common.LogInfo("網路狀態已手動覆寫",
		zap.Bool("online", *req.Online),
		zap.String("client_ip", c.ClientIP()),
	)
	c.JSON(http.StatusOK, gin.H{
		"online": *req.Online,
	})
}

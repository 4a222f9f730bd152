package generate

import (
	"context"
	"fmt"
	"strings"

	"recipe-resolver/internal/infrastructure/config"
	"recipe-resolver/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// CompletionClient 生成式補全服務客戶端（OpenRouter 相容介面）
type CompletionClient struct {
	config *config.GeneratorConfig
	client *resty.Client
}

// NewCompletionClient 創建補全客戶端
func NewCompletionClient(cfg *config.GeneratorConfig) *CompletionClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.APIKey)).
		SetHeader("HTTP-Referer", "https://recipe-resolver.app").
		SetHeader("X-Title", "Recipe Resolver")

	return &CompletionClient{
		config: cfg,
		client: client,
	}
}

// completionResponse 補全 API 響應結構
type completionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete 送出提示詞並取得模型輸出
func (c *CompletionClient) Complete(ctx context.Context, prompt string) (string, error) {
	// 簡化 prompt：去除多餘換行、前後空白，確保輸入一致
	simplePrompt := strings.TrimSpace(prompt)
	simplePrompt = strings.Join(strings.Fields(simplePrompt), " ")

	body := map[string]interface{}{
		"model": c.config.Model,
		"messages": []map[string]string{
			{
				"role":    "user",
				"content": simplePrompt,
			},
		},
		"max_tokens":  c.config.MaxTokens,
		"temperature": 0.7,
	}

	var result completionResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		common.LogError("補全請求送出失敗",
			zap.String("model", c.config.Model),
			zap.Error(err),
		)
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	if resp.IsError() {
		common.LogError("補全服務回傳錯誤狀態",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("model", c.config.Model),
			zap.String("response", resp.String()),
		)
		return "", fmt.Errorf("completion service error (status %d)", resp.StatusCode())
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty choices in completion response")
	}
	content := result.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty content in completion response")
	}

	common.LogInfo("補全成功",
		zap.String("model", c.config.Model),
		zap.Int("content_length", len(content)),
		zap.Int("total_tokens", result.Usage.TotalTokens),
	)
	return content, nil
}

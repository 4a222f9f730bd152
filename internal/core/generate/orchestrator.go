package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"recipe-resolver/internal/core/match"
	"recipe-resolver/internal/pkg/common"

	"go.uber.org/zap"
)

// Completer 補全服務介面
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// QuotaConsumer 額度消耗介面
type QuotaConsumer interface {
	CheckAndConsume(ctx context.Context, userID string, amount int, entitled bool) (bool, error)
}

// PoolWriter 共享池寫入介面
type PoolWriter interface {
	Save(ctx context.Context, recipes []common.Recipe, queryIngredients []string, key string) error
}

// CacheWriter 生成快取寫入介面
type CacheWriter interface {
	Save(ctx context.Context, key string, bundle *common.ResultBundle) error
}

// Orchestrator 生成協調器
// 在呼叫生成服務之前先消耗額度，失敗不退款（成本歸屬於嘗試本身）
type Orchestrator struct {
	completer Completer
	quota     QuotaConsumer
	pool      PoolWriter
	gencache  CacheWriter
	scorer    *match.Scorer
	timeout   time.Duration
}

// NewOrchestrator 創建生成協調器
func NewOrchestrator(completer Completer, quota QuotaConsumer, pool PoolWriter, gencache CacheWriter, scorer *match.Scorer, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		completer: completer,
		quota:     quota,
		pool:      pool,
		gencache:  gencache,
		scorer:    scorer,
		timeout:   timeout,
	}
}

// looseRecipe 寬鬆版中繼結構，容忍模型輸出的欄位雜訊
type looseRecipe struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Ingredients     []string `json:"ingredients"`
	Instructions    []string `json:"instructions"`
	PrepTimeMinutes int      `json:"prep_time_minutes"`
	Servings        int      `json:"servings"`
	Difficulty      string   `json:"difficulty"`
	Category        string   `json:"category"`
}

type looseResponse struct {
	Recipes []looseRecipe `json:"recipes"`
}

// Generate 消耗額度並呼叫生成服務
// 成功後回寫共享池（初始人氣 1、記錄原始查詢）與生成快取
func (o *Orchestrator) Generate(ctx context.Context, ingredients []string, key string, user common.UserContext) (*common.ResultBundle, error) {
	// 額度必須在呼叫之前消耗；額度不足直接中止，不觸發生成服務
	allowed, err := o.quota.CheckAndConsume(ctx, user.UserID, 1, user.Entitled)
	if err != nil {
		return nil, fmt.Errorf("%w: quota check failed: %v", common.ErrQuotaExceeded, err)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: user %s", common.ErrQuotaExceeded, user.UserID)
	}

	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	raw, err := o.completer.Complete(genCtx, buildPrompt(ingredients))
	common.LogGenerationCall(time.Since(start), err)
	if err != nil {
		// 超時或上游失敗一律視為 GenerationFailed；已消耗的額度不退款
		return nil, fmt.Errorf("%w: %v", common.ErrGenerationFailed, err)
	}

	recipes, err := parseRecipes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrGenerationFailed, err)
	}

	bundle := o.scorer.Partition(recipes, ingredients)
	bundle.Tag(common.SourceGenerated)

	// 持久化失敗不影響本次結果；儲存層錯誤永不致命
	if o.pool != nil {
		if err := o.pool.Save(ctx, recipes, ingredients, key); err != nil {
			common.LogWarn("共享池寫入失敗", zap.Error(err))
		}
	}
	if o.gencache != nil {
		if err := o.gencache.Save(ctx, key, &bundle); err != nil {
			common.LogWarn("生成快取寫入失敗", zap.Error(err))
		}
	}

	return &bundle, nil
}

// buildPrompt 組裝生成提示詞
func buildPrompt(ingredients []string) string {
	return fmt.Sprintf(`請根據以下可用食材，生成 3 到 5 道適合的食譜（並且用繁體中文回答）。

可用食材：
%s
要求：
1. 只根據提供的食材設計食譜，基礎調味料（鹽、油、水、糖、胡椒）可以假設存在
2. 每道食譜都要列出完整食材與逐步料理說明
3. 所有字段都必須使用雙引號
4. prep_time_minutes 與 servings 必須是整數
5. difficulty 只能是 easy、medium、hard 其中之一
6. 不需要考慮可讀性，請省略所有空格和換行，返回最緊湊的 JSON 格式
7. 只回傳一個獨立的 json，不要回傳多個 json
8. 所有欄位都必須要有不能漏掉，如果不知道填什麼請留空 "" or 0

請以以下 JSON 格式返回（僅作為範例，請勿直接複製內容）：
{"recipes":[{"name":"菜名","description":"描述","ingredients":["食材"],"instructions":["步驟"],"prep_time_minutes":10,"servings":2,"difficulty":"easy","category":"主菜"}]}`,
		common.FormatIngredientList(ingredients))
}

// parseRecipes 解析模型輸出並補齊缺漏欄位
func parseRecipes(raw string) ([]common.Recipe, error) {
	content := common.ExtractJSONObject(raw)

	var loose looseResponse
	if err := common.ParseJSON(content, &loose); err != nil {
		common.LogError("生成回應解析失敗",
			zap.Error(err),
			zap.Int("response_length", len(content)),
		)
		return nil, fmt.Errorf("failed to parse generation response: %w", err)
	}
	if len(loose.Recipes) == 0 {
		return nil, fmt.Errorf("generation response contains no recipes")
	}

	recipes := make([]common.Recipe, 0, len(loose.Recipes))
	for _, lr := range loose.Recipes {
		if strings.TrimSpace(lr.Name) == "" || len(lr.Ingredients) == 0 {
			continue
		}
		recipe := common.Recipe{
			ID:              common.GenerateUUID(),
			Name:            strings.TrimSpace(lr.Name),
			Description:     strings.TrimSpace(lr.Description),
			Ingredients:     lr.Ingredients,
			Instructions:    lr.Instructions,
			PrepTimeMinutes: lr.PrepTimeMinutes,
			Servings:        lr.Servings,
			Difficulty:      strings.ToLower(strings.TrimSpace(lr.Difficulty)),
			Category:        strings.TrimSpace(lr.Category),
			Popularity:      1,
			Generated:       true,
		}
		if len(recipe.Instructions) == 0 {
			recipe.Instructions = []string{"無步驟說明"}
		}
		recipes = append(recipes, recipe)
	}
	if len(recipes) == 0 {
		return nil, fmt.Errorf("generation response contains no usable recipes")
	}
	return recipes, nil
}

package common

import (
	"fmt"
	"strings"
)

// RecipeSource 食譜來源標記
type RecipeSource string

const (
	SourceDeviceCache     RecipeSource = "device_cache"
	SourceSharedPool      RecipeSource = "shared_pool"
	SourceGenerationCache RecipeSource = "generation_cache"
	SourceGenerated       RecipeSource = "generated"
	SourceStatic          RecipeSource = "static"
)

// Recipe 食譜
// 欄位名稱、型別需與儲存層（device store / shared pool）一致，
// 驗證只在協作者邊界做一次，內部呼叫點不重複驗證
type Recipe struct {
	ID                 string       `json:"id" db:"id"`
	Name               string       `json:"name" db:"name"`
	Description        string       `json:"description,omitempty" db:"description"`
	Ingredients        []string     `json:"ingredients"`
	Instructions       []string     `json:"instructions"`
	PrepTimeMinutes    int          `json:"prep_time_minutes,omitempty" db:"prep_time_minutes"`
	Servings           int          `json:"servings,omitempty" db:"servings"`
	Difficulty         string       `json:"difficulty,omitempty" db:"difficulty"`
	Category           string       `json:"category,omitempty" db:"category"`
	ImageURL           string       `json:"image_url,omitempty" db:"image_url"`
	MissingIngredients []string     `json:"missing_ingredients,omitempty"`
	Popularity         float64      `json:"popularity,omitempty" db:"popularity"`
	Source             RecipeSource `json:"source,omitempty"`
	Generated          bool         `json:"generated,omitempty"`
}

// Validate 在協作者邊界驗證食譜結構
func (r *Recipe) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return NewValidationError("recipe id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError("recipe name is required")
	}
	if len(r.Ingredients) == 0 {
		return NewValidationError(fmt.Sprintf("recipe %s has no ingredients", r.ID))
	}
	return nil
}

// MatchResult 食譜與查詢食材的比對結果
type MatchResult struct {
	Recipe        Recipe  `json:"recipe"`
	MatchingCount int     `json:"matching_count"`
	MissingCount  int     `json:"missing_count"`
	MatchRatio    float64 `json:"match_ratio"`
	Priority      float64 `json:"priority"`
}

// ResultBundle 完全匹配與近似匹配的分組結果
type ResultBundle struct {
	ExactMatches []MatchResult `json:"exact_matches"`
	NearMatches  []MatchResult `json:"near_matches"`
}

// Empty 分組結果是否為空
func (b *ResultBundle) Empty() bool {
	return b == nil || (len(b.ExactMatches) == 0 && len(b.NearMatches) == 0)
}

// Tag 標記所有食譜的來源
func (b *ResultBundle) Tag(src RecipeSource) {
	if b == nil {
		return
	}
	for i := range b.ExactMatches {
		b.ExactMatches[i].Recipe.Source = src
	}
	for i := range b.NearMatches {
		b.NearMatches[i].Recipe.Source = src
	}
}

// Resolution 一次解析的最終結果
type Resolution struct {
	ResultBundle
	Source         RecipeSource `json:"source"`
	CombinationKey string       `json:"combination_key"`
	IsCached       bool         `json:"is_cached"`
	IsStale        bool         `json:"is_stale"`
}

// UserContext 請求中的使用者資訊
type UserContext struct {
	UserID   string `json:"user_id"`
	Entitled bool   `json:"entitled"`
}

// Authenticated 是否帶有使用者身份
func (u UserContext) Authenticated() bool {
	return strings.TrimSpace(u.UserID) != ""
}

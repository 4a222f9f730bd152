package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"recipe-resolver/internal/core/match"
	"recipe-resolver/internal/pkg/common"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// popularityTimeout 人氣回寫的背景逾時
const popularityTimeout = 5 * time.Second

// Resolver 共享食譜池解析器
// 跨用戶的既有生成結果，需通過授權檢查才會查詢
type Resolver struct {
	db           *sqlx.DB
	scorer       *match.Scorer
	overlapRatio float64
}

// NewResolver 創建共享池解析器
func NewResolver(dsn string, scorer *match.Scorer, overlapRatio float64) (*Resolver, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS shared_recipes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		ingredients JSONB NOT NULL,
		instructions JSONB NOT NULL,
		prep_time_minutes INT,
		servings INT,
		difficulty TEXT,
		category TEXT,
		image_url TEXT,
		popularity NUMERIC NOT NULL DEFAULT 1,
		combination_key TEXT NOT NULL,
		query_ingredients JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_shared_recipes_combination_key ON shared_recipes (combination_key);
	CREATE INDEX IF NOT EXISTS idx_shared_recipes_ingredients ON shared_recipes USING gin (ingredients);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create shared_recipes table: %w", err)
	}

	return &Resolver{
		db:           db,
		scorer:       scorer,
		overlapRatio: overlapRatio,
	}, nil
}

// sharedRecipeRow 資料庫列結構
type sharedRecipeRow struct {
	ID              string  `db:"id"`
	Name            string  `db:"name"`
	Description     string  `db:"description"`
	Ingredients     []byte  `db:"ingredients"`
	Instructions    []byte  `db:"instructions"`
	PrepTimeMinutes int     `db:"prep_time_minutes"`
	Servings        int     `db:"servings"`
	Difficulty      string  `db:"difficulty"`
	Category        string  `db:"category"`
	ImageURL        string  `db:"image_url"`
	Popularity      float64 `db:"popularity"`
}

// toRecipe 將資料庫列轉為食譜並在邊界驗證
func (row *sharedRecipeRow) toRecipe() (common.Recipe, error) {
	recipe := common.Recipe{
		ID:              row.ID,
		Name:            row.Name,
		Description:     row.Description,
		PrepTimeMinutes: row.PrepTimeMinutes,
		Servings:        row.Servings,
		Difficulty:      row.Difficulty,
		Category:        row.Category,
		ImageURL:        row.ImageURL,
		Popularity:      row.Popularity,
		Generated:       true,
	}
	if err := json.Unmarshal(row.Ingredients, &recipe.Ingredients); err != nil {
		return recipe, fmt.Errorf("failed to unmarshal ingredients for %s: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.Instructions, &recipe.Instructions); err != nil {
		return recipe, fmt.Errorf("failed to unmarshal instructions for %s: %w", row.ID, err)
	}
	if err := recipe.Validate(); err != nil {
		return recipe, err
	}
	return recipe, nil
}

// Resolve 以組合鍵與食材重疊查詢共享池
// 未授權的呼叫者直接回空結果，不觸發任何網路成本
func (r *Resolver) Resolve(ctx context.Context, key string, ingredients []string, entitled bool) (*common.ResultBundle, error) {
	if !entitled {
		common.LogDebug("未授權使用者，略過共享池", zap.String("鍵", key))
		return &common.ResultBundle{}, nil
	}

	// 召回：組合鍵完全一致，或食材任一重疊；精度由評分器把關
	query := `
	SELECT id, name, description, ingredients, instructions,
	       COALESCE(prep_time_minutes, 0) AS prep_time_minutes,
	       COALESCE(servings, 0) AS servings,
	       COALESCE(difficulty, '') AS difficulty,
	       COALESCE(category, '') AS category,
	       COALESCE(image_url, '') AS image_url,
	       popularity
	FROM shared_recipes
	WHERE combination_key = $1 OR ingredients ?| $2
	ORDER BY popularity DESC
	LIMIT 200`

	var rows []sharedRecipeRow
	if err := r.db.SelectContext(ctx, &rows, query, key, pq.Array(ingredients)); err != nil {
		return nil, fmt.Errorf("shared pool query failed: %w", err)
	}

	recipes := make([]common.Recipe, 0, len(rows))
	for i := range rows {
		recipe, err := rows[i].toRecipe()
		if err != nil {
			common.LogWarn("共享池食譜解析失敗，略過", zap.Error(err))
			continue
		}
		recipes = append(recipes, recipe)
	}

	bundle := r.scorer.Partition(recipes, ingredients)

	// 池側重疊門檻：近似匹配還需達到最低重疊比例
	if r.overlapRatio > 0 {
		filtered := bundle.NearMatches[:0]
		for _, m := range bundle.NearMatches {
			if m.MatchRatio >= r.overlapRatio {
				filtered = append(filtered, m)
			}
		}
		bundle.NearMatches = filtered
	}

	if !bundle.Empty() {
		r.bumpPopularity(&bundle)
	}

	return &bundle, nil
}

// bumpPopularity 命中時回寫人氣分數
// fire-and-forget：完全匹配 +1、近似匹配 +0.5，失敗只記錄不影響讀取路徑
func (r *Resolver) bumpPopularity(bundle *common.ResultBundle) {
	exactIDs := make([]string, 0, len(bundle.ExactMatches))
	for _, m := range bundle.ExactMatches {
		exactIDs = append(exactIDs, m.Recipe.ID)
	}
	nearIDs := make([]string, 0, len(bundle.NearMatches))
	for _, m := range bundle.NearMatches {
		nearIDs = append(nearIDs, m.Recipe.ID)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), popularityTimeout)
		defer cancel()

		bump := func(ids []string, delta float64) {
			if len(ids) == 0 {
				return
			}
			_, err := r.db.ExecContext(ctx,
				`UPDATE shared_recipes SET popularity = popularity + $1 WHERE id = ANY($2)`,
				delta, pq.Array(ids),
			)
			if err != nil {
				common.LogWarn("人氣回寫失敗",
					zap.Float64("增量", delta),
					zap.Error(err),
				)
			}
		}
		bump(exactIDs, 1.0)
		bump(nearIDs, 0.5)
	}()
}

// Save 將生成結果寫入共享池
// 初始人氣為 1，並記錄原始查詢食材供後續組合比對
func (r *Resolver) Save(ctx context.Context, recipes []common.Recipe, queryIngredients []string, key string) error {
	queryJSON, err := json.Marshal(queryIngredients)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := `
	INSERT INTO shared_recipes
		(id, name, description, ingredients, instructions, prep_time_minutes,
		 servings, difficulty, category, image_url, popularity, combination_key, query_ingredients)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)
	ON CONFLICT (id) DO NOTHING`

	for i := range recipes {
		recipe := &recipes[i]
		if err := recipe.Validate(); err != nil {
			common.LogWarn("略過無效食譜", zap.Error(err))
			continue
		}
		ingredientsJSON, err := json.Marshal(recipe.Ingredients)
		if err != nil {
			return err
		}
		instructionsJSON, err := json.Marshal(recipe.Instructions)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt,
			recipe.ID, recipe.Name, recipe.Description,
			ingredientsJSON, instructionsJSON,
			recipe.PrepTimeMinutes, recipe.Servings,
			recipe.Difficulty, recipe.Category, recipe.ImageURL,
			key, queryJSON,
		); err != nil {
			return fmt.Errorf("failed to insert recipe %s: %w", recipe.ID, err)
		}
	}

	return tx.Commit()
}

// Ping 檢查連線
func (r *Resolver) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close 關閉資料庫連線
func (r *Resolver) Close() error {
	return r.db.Close()
}

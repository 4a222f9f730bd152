package staticdata

import (
	_ "embed"

	"recipe-resolver/internal/core/match"
	"recipe-resolver/internal/pkg/common"

	"go.uber.org/zap"
)

//go:embed recipes.json
var bundledData []byte

// Resolver 靜態備援解析器
// 其他層全部失敗或裝置離線時的終點，永不回傳錯誤
type Resolver struct {
	recipes []common.Recipe
	scorer  *match.Scorer
}

// NewResolver 創建靜態備援解析器
func NewResolver(scorer *match.Scorer) *Resolver {
	var data struct {
		Recipes []common.Recipe `json:"recipes"`
	}
	// 內嵌資料在建置期就固定，解析失敗只會發生在資料檔壞掉時
	if err := common.ParseJSONBytes(bundledData, &data); err != nil {
		common.LogError("內建食譜資料解析失敗", zap.Error(err))
	}

	recipes := make([]common.Recipe, 0, len(data.Recipes))
	for i := range data.Recipes {
		if err := data.Recipes[i].Validate(); err != nil {
			common.LogWarn("略過無效內建食譜", zap.Error(err))
			continue
		}
		recipes = append(recipes, data.Recipes[i])
	}

	common.LogInfo("靜態備援資料已載入", zap.Int("食譜數", len(recipes)))
	return &Resolver{
		recipes: recipes,
		scorer:  scorer,
	}
}

// Resolve 用同一套評分邏輯比對內建資料
// 沒有匹配時回傳空分組而不是錯誤
func (r *Resolver) Resolve(query []string) common.ResultBundle {
	bundle := r.scorer.Partition(r.recipes, query)
	bundle.Tag(common.SourceStatic)
	return bundle
}

// Count 內建食譜數量
func (r *Resolver) Count() int {
	return len(r.recipes)
}

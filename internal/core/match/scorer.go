package match

import (
	"sort"
	"strings"

	"recipe-resolver/internal/infrastructure/config"
	"recipe-resolver/internal/pkg/common"
)

// Scorer 食材比對評分器
// 同義詞與基礎食材清單來自設定，演算法本身資料驅動
type Scorer struct {
	synonyms   map[string]map[string]struct{}
	basics     map[string]struct{}
	basicBonus float64

	exactCap        int
	nearCap         int
	nearMinRatio    float64
	nearMinMatching int
	nearMaxMissing  int
}

// NewScorer 創建新的評分器
func NewScorer(cfg *config.Config) *Scorer {
	s := &Scorer{
		synonyms:        make(map[string]map[string]struct{}),
		basics:          make(map[string]struct{}),
		basicBonus:      cfg.Vocabulary.BasicBonus,
		exactCap:        cfg.Resolver.ExactCap,
		nearCap:         cfg.Resolver.NearCap,
		nearMinRatio:    cfg.Resolver.NearMinRatio,
		nearMinMatching: cfg.Resolver.NearMinMatching,
		nearMaxMissing:  cfg.Resolver.NearMaxMissing,
	}

	// 同義詞雙向展開，查詢時只需單向查表
	for word, alts := range cfg.Vocabulary.Synonyms {
		word = strings.ToLower(strings.TrimSpace(word))
		for _, alt := range alts {
			alt = strings.ToLower(strings.TrimSpace(alt))
			if word == "" || alt == "" {
				continue
			}
			s.addSynonym(word, alt)
			s.addSynonym(alt, word)
		}
	}

	for _, b := range cfg.Vocabulary.Basics {
		b = strings.ToLower(strings.TrimSpace(b))
		if b != "" {
			s.basics[b] = struct{}{}
		}
	}

	return s
}

func (s *Scorer) addSynonym(from, to string) {
	if s.synonyms[from] == nil {
		s.synonyms[from] = make(map[string]struct{})
	}
	s.synonyms[from][to] = struct{}{}
}

// matches 判斷食譜食材是否被查詢食材滿足
// 規則：包含、被包含、或是已知同義詞
func (s *Scorer) matches(recipeIng, queryIng string) bool {
	if recipeIng == queryIng {
		return true
	}
	if strings.Contains(recipeIng, queryIng) || strings.Contains(queryIng, recipeIng) {
		return true
	}
	if alts, ok := s.synonyms[recipeIng]; ok {
		if _, hit := alts[queryIng]; hit {
			return true
		}
	}
	return false
}

// Evaluate 對單一食譜評分
// 回傳比對結果與是否通過收錄門檻（完全匹配或近似匹配）
func (s *Scorer) Evaluate(recipe common.Recipe, query []string) (common.MatchResult, bool) {
	matching := 0
	matchedBasic := false
	var missing []string

	for _, rawIng := range recipe.Ingredients {
		ing := strings.ToLower(strings.TrimSpace(rawIng))
		if ing == "" {
			continue
		}
		hit := false
		for _, q := range query {
			if s.matches(ing, q) {
				hit = true
				break
			}
		}
		if hit {
			matching++
			if _, basic := s.basics[ing]; basic {
				matchedBasic = true
			}
		} else {
			missing = append(missing, rawIng)
		}
	}

	total := len(recipe.Ingredients)
	if total == 0 || matching == 0 {
		return common.MatchResult{}, false
	}

	missingCount := total - matching
	ratio := float64(matching) / float64(total)
	priority := float64(matching)*10 + ratio*5 - float64(missingCount)*0.5
	// 基礎食材只給小幅加分，避免鹽、油這類萬用食材主導排序
	if matchedBasic {
		priority += s.basicBonus
	}

	result := common.MatchResult{
		Recipe:        recipe,
		MatchingCount: matching,
		MissingCount:  missingCount,
		MatchRatio:    ratio,
		Priority:      priority,
	}
	result.Recipe.MissingIngredients = missing

	if missingCount == 0 {
		return result, true
	}

	// 近似匹配收錄門檻
	admitted := ratio >= s.nearMinRatio ||
		matching >= s.nearMinMatching ||
		missingCount <= s.nearMaxMissing
	return result, admitted
}

// Partition 對候選食譜評分、排序並分組
// 完全匹配與近似匹配各有上限，維持優先度排序
func (s *Scorer) Partition(recipes []common.Recipe, query []string) common.ResultBundle {
	candidates := make([]common.MatchResult, 0, len(recipes))
	for _, r := range recipes {
		if result, ok := s.Evaluate(r, query); ok {
			candidates = append(candidates, result)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Recipe.Name < candidates[j].Recipe.Name
	})

	var bundle common.ResultBundle
	for _, c := range candidates {
		if c.MissingCount == 0 {
			if len(bundle.ExactMatches) < s.exactCap {
				bundle.ExactMatches = append(bundle.ExactMatches, c)
			}
			continue
		}
		if len(bundle.NearMatches) < s.nearCap {
			bundle.NearMatches = append(bundle.NearMatches, c)
		}
	}
	return bundle
}

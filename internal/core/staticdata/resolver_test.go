package staticdata

import (
	"testing"

	"recipe-resolver/internal/core/match"
	"recipe-resolver/internal/infrastructure/config"
	"recipe-resolver/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() *Resolver {
	cfg := &config.Config{}
	cfg.Resolver.ExactCap = 15
	cfg.Resolver.NearCap = 25
	cfg.Resolver.NearMinRatio = 0.3
	cfg.Resolver.NearMinMatching = 2
	cfg.Resolver.NearMaxMissing = 3
	cfg.Vocabulary.Basics = []string{"salt", "oil", "water", "sugar", "pepper"}
	cfg.Vocabulary.BasicBonus = 2.0
	cfg.Vocabulary.Synonyms = map[string][]string{
		"scallion": {"green onion", "spring onion"},
	}
	return NewResolver(match.NewScorer(cfg))
}

func TestBundledRecipesLoad(t *testing.T) {
	r := newTestResolver()
	assert.Equal(t, 10, r.Count())
}

func TestResolveExactMatchFromBundledData(t *testing.T) {
	r := newTestResolver()

	bundle := r.Resolve([]string{"tomato", "onion", "egg"})
	require.NotEmpty(t, bundle.ExactMatches)

	top := bundle.ExactMatches[0]
	assert.Equal(t, "static-001", top.Recipe.ID)
	assert.Equal(t, 3, top.MatchingCount)
	assert.Equal(t, 0, top.MissingCount)
	assert.Equal(t, common.SourceStatic, top.Recipe.Source)
}

func TestResolveNearMatchListsMissing(t *testing.T) {
	r := newTestResolver()

	bundle := r.Resolve([]string{"rice", "egg"})
	require.NotEmpty(t, bundle.NearMatches)

	for _, m := range bundle.NearMatches {
		assert.Greater(t, m.MatchingCount, 0)
		assert.Greater(t, m.MissingCount, 0)
		assert.NotEmpty(t, m.Recipe.MissingIngredients)
		assert.Equal(t, common.SourceStatic, m.Recipe.Source)
	}
}

func TestResolveSynonymAgainstBundledData(t *testing.T) {
	r := newTestResolver()

	// "green onion" satisfies "scallion" in the fried rice entries.
	bundle := r.Resolve([]string{"rice", "egg", "green onion", "soy sauce", "oil"})
	require.NotEmpty(t, bundle.ExactMatches)
	assert.Equal(t, "static-004", bundle.ExactMatches[0].Recipe.ID)
}

func TestResolveNeverErrorsOnNoMatch(t *testing.T) {
	r := newTestResolver()

	bundle := r.Resolve([]string{"durian", "dragonfruit"})
	assert.Empty(t, bundle.ExactMatches)
	assert.Empty(t, bundle.NearMatches)
}

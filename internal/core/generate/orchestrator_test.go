package generate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"recipe-resolver/internal/core/match"
	"recipe-resolver/internal/infrastructure/config"
	"recipe-resolver/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCompletion = `{"recipes":[` +
	`{"name":"番茄炒蛋","description":"經典家常菜","ingredients":["tomato","egg","salt"],"instructions":["打蛋","下鍋拌炒"],"prep_time_minutes":10,"servings":2,"difficulty":"easy","category":"主菜"},` +
	`{"name":"洋蔥蛋花湯","description":"","ingredients":["onion","egg","stock"],"instructions":["慢煮"],"prep_time_minutes":30,"servings":4,"difficulty":"Medium","category":"湯品"}]}`

type fakeCompleter struct {
	calls    int32
	response string
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakeQuota struct {
	calls   int32
	refunds int32
	allowed bool
	err     error
}

func (f *fakeQuota) CheckAndConsume(ctx context.Context, userID string, amount int, entitled bool) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return false, f.err
	}
	return f.allowed, nil
}

type fakePoolWriter struct {
	calls   int32
	recipes []common.Recipe
	err     error
}

func (f *fakePoolWriter) Save(ctx context.Context, recipes []common.Recipe, queryIngredients []string, key string) error {
	atomic.AddInt32(&f.calls, 1)
	f.recipes = recipes
	return f.err
}

type fakeCacheWriter struct {
	calls int32
	err   error
}

func (f *fakeCacheWriter) Save(ctx context.Context, key string, bundle *common.ResultBundle) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func testScorer() *match.Scorer {
	cfg := &config.Config{}
	cfg.Resolver.ExactCap = 15
	cfg.Resolver.NearCap = 25
	cfg.Resolver.NearMinRatio = 0.3
	cfg.Resolver.NearMinMatching = 2
	cfg.Resolver.NearMaxMissing = 3
	cfg.Vocabulary.Basics = []string{"salt", "oil", "water"}
	cfg.Vocabulary.BasicBonus = 2.0
	return match.NewScorer(cfg)
}

func TestGenerateConsumesQuotaBeforeCall(t *testing.T) {
	completer := &fakeCompleter{response: validCompletion}
	quota := &fakeQuota{allowed: false}
	o := NewOrchestrator(completer, quota, nil, nil, testScorer(), time.Second)

	_, err := o.Generate(context.Background(), []string{"tomato", "egg"}, "key-1", common.UserContext{UserID: "u1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)

	// Quota was checked but the upstream service never ran.
	assert.EqualValues(t, 1, atomic.LoadInt32(&quota.calls))
	assert.EqualValues(t, 0, atomic.LoadInt32(&completer.calls))
}

func TestGenerateQuotaServiceErrorBlocksGeneration(t *testing.T) {
	completer := &fakeCompleter{response: validCompletion}
	quota := &fakeQuota{err: errors.New("quota backend down")}
	o := NewOrchestrator(completer, quota, nil, nil, testScorer(), time.Second)

	_, err := o.Generate(context.Background(), []string{"tomato"}, "key-1", common.UserContext{UserID: "u1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)
	assert.EqualValues(t, 0, atomic.LoadInt32(&completer.calls))
}

func TestGenerateNoRefundOnUpstreamFailure(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("upstream 500")}
	quota := &fakeQuota{allowed: true}
	o := NewOrchestrator(completer, quota, nil, nil, testScorer(), time.Second)

	_, err := o.Generate(context.Background(), []string{"tomato"}, "key-1", common.UserContext{UserID: "u1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrGenerationFailed)

	// The consumed unit stays consumed: exactly one quota call, no compensating call.
	assert.EqualValues(t, 1, atomic.LoadInt32(&quota.calls))
	assert.EqualValues(t, 0, atomic.LoadInt32(&quota.refunds))
}

func TestGenerateUnparseableOutputFails(t *testing.T) {
	completer := &fakeCompleter{response: "sorry, I cannot help with that"}
	quota := &fakeQuota{allowed: true}
	o := NewOrchestrator(completer, quota, nil, nil, testScorer(), time.Second)

	_, err := o.Generate(context.Background(), []string{"tomato"}, "key-1", common.UserContext{UserID: "u1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrGenerationFailed)
	assert.EqualValues(t, 1, atomic.LoadInt32(&quota.calls))
}

func TestGenerateSuccessPersistsAndTags(t *testing.T) {
	completer := &fakeCompleter{response: validCompletion}
	quota := &fakeQuota{allowed: true}
	pool := &fakePoolWriter{}
	gencache := &fakeCacheWriter{}
	o := NewOrchestrator(completer, quota, pool, gencache, testScorer(), time.Second)

	bundle, err := o.Generate(context.Background(), []string{"tomato", "egg", "salt"}, "key-1", common.UserContext{UserID: "u1", Entitled: true})
	require.NoError(t, err)
	require.NotNil(t, bundle)

	total := len(bundle.ExactMatches) + len(bundle.NearMatches)
	assert.Equal(t, 2, total)
	for _, m := range append(bundle.ExactMatches, bundle.NearMatches...) {
		assert.Equal(t, common.SourceGenerated, m.Recipe.Source)
		assert.True(t, m.Recipe.Generated)
		assert.NotEmpty(t, m.Recipe.ID)
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&pool.calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&gencache.calls))
	require.Len(t, pool.recipes, 2)
	assert.Equal(t, "medium", pool.recipes[1].Difficulty)
}

func TestGeneratePersistFailureIsNotFatal(t *testing.T) {
	completer := &fakeCompleter{response: validCompletion}
	quota := &fakeQuota{allowed: true}
	pool := &fakePoolWriter{err: errors.New("pool down")}
	gencache := &fakeCacheWriter{err: errors.New("redis down")}
	o := NewOrchestrator(completer, quota, pool, gencache, testScorer(), time.Second)

	bundle, err := o.Generate(context.Background(), []string{"tomato"}, "key-1", common.UserContext{UserID: "u1"})
	require.NoError(t, err)
	assert.NotNil(t, bundle)
}

func TestGenerateWrapsFencedJSON(t *testing.T) {
	completer := &fakeCompleter{response: "```json\n" + validCompletion + "\n```"}
	quota := &fakeQuota{allowed: true}
	o := NewOrchestrator(completer, quota, nil, nil, testScorer(), time.Second)

	bundle, err := o.Generate(context.Background(), []string{"tomato", "egg"}, "key-1", common.UserContext{UserID: "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, append(bundle.ExactMatches, bundle.NearMatches...))
}

func TestParseRecipesSkipsUnusableEntries(t *testing.T) {
	raw := `{"recipes":[` +
		`{"name":"","ingredients":["tomato"]},` +
		`{"name":"no ingredients","ingredients":[]},` +
		`{"name":"ok","ingredients":["tomato"]}]}`

	recipes, err := parseRecipes(raw)
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "ok", recipes[0].Name)
	// Missing instructions are backfilled so downstream rendering never breaks.
	assert.Equal(t, []string{"無步驟說明"}, recipes[0].Instructions)
	assert.True(t, recipes[0].Generated)
}

func TestParseRecipesAllUnusableFails(t *testing.T) {
	_, err := parseRecipes(`{"recipes":[{"name":"","ingredients":[]}]}`)
	assert.Error(t, err)
}

func TestBuildPromptListsIngredients(t *testing.T) {
	prompt := buildPrompt([]string{"tomato", "egg"})
	assert.Contains(t, prompt, "tomato")
	assert.Contains(t, prompt, "egg")
	assert.Contains(t, prompt, `"recipes"`)
}

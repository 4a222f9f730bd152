package ingredient

import (
	"errors"
	"testing"

	"recipe-resolver/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want []string
	}{
		{
			name: "trims and lowercases",
			raw:  []string{"  Tomato ", "ONION", "egg"},
			want: []string{"tomato", "onion", "egg"},
		},
		{
			name: "drops duplicates after normalization",
			raw:  []string{"tomato", "Tomato", " TOMATO "},
			want: []string{"tomato"},
		},
		{
			name: "drops blank entries",
			raw:  []string{"", "   ", "egg"},
			want: []string{"egg"},
		},
		{
			name: "preserves first-seen order",
			raw:  []string{"onion", "egg", "onion", "tomato"},
			want: []string{"onion", "egg", "tomato"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRejectsEmptyQuery(t *testing.T) {
	for _, raw := range [][]string{nil, {}, {"", "  ", "\t"}} {
		_, err := Normalize(raw)
		require.Error(t, err)
		assert.True(t, errors.Is(err, common.ErrInvalidQuery))
	}
}

func TestCombinationKeyOrderIndependent(t *testing.T) {
	a, keyA, err := NormalizeAndKey([]string{"tomato", "onion", "egg"})
	require.NoError(t, err)
	b, keyB, err := NormalizeAndKey([]string{"Egg", "TOMATO", " onion "})
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
	assert.ElementsMatch(t, a, b)
	assert.Len(t, keyA, 64) // sha256 hex
}

func TestCombinationKeyDistinguishesSets(t *testing.T) {
	keyA := CombinationKey([]string{"tomato", "onion"})
	keyB := CombinationKey([]string{"tomato", "onion", "egg"})
	assert.NotEqual(t, keyA, keyB)
}

func TestCombinationKeyDeterministic(t *testing.T) {
	normalized := []string{"beef", "carrot", "potato"}
	assert.Equal(t, CombinationKey(normalized), CombinationKey(normalized))
}

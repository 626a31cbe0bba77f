package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/sgpm/internal/criteria"
	"github.com/stagegate/sgpm/internal/models"
)

func twoCriteriaCatalog(t *testing.T) *criteria.Catalog {
	t.Helper()
	c, err := criteria.New([]models.Criterion{
		{ID: "fit", Name: "Strategic Fit", Weight: 60},
		{ID: "cost", Name: "Cost", Weight: 40},
	})
	require.NoError(t, err)
	return c
}

// evenSplitCatalog weighs both criteria equally so integer scores land on
// half-point totals.
func evenSplitCatalog(t *testing.T) *criteria.Catalog {
	t.Helper()
	c, err := criteria.New([]models.Criterion{
		{ID: "fit", Name: "Strategic Fit", Weight: 50},
		{ID: "cost", Name: "Cost", Weight: 50},
	})
	require.NoError(t, err)
	return c
}

func TestMatrix_WeightedScore(t *testing.T) {
	m := NewMatrix(twoCriteriaCatalog(t), &models.Evaluation{})

	require.NoError(t, m.SetScore("fit", 5))
	require.NoError(t, m.SetScore("cost", 3))

	// (5*60 + 3*40) / 100 = 4.20
	assert.Equal(t, 4.20, m.WeightedScore())
	assert.Equal(t, m.WeightedScore(), m.TotalScore())
}

func TestMatrix_WeightedScore_Bounds(t *testing.T) {
	catalog := criteria.Default()

	m := NewMatrix(catalog, &models.Evaluation{})
	for _, cr := range catalog.List() {
		require.NoError(t, m.SetScore(cr.ID, models.MaxScore))
	}
	assert.Equal(t, 5.00, m.WeightedScore())

	m = NewMatrix(catalog, &models.Evaluation{})
	for _, cr := range catalog.List() {
		require.NoError(t, m.SetScore(cr.ID, models.MinScore))
	}
	assert.Equal(t, 1.00, m.WeightedScore())
}

func TestMatrix_WeightedScore_EmptyIsZero(t *testing.T) {
	m := NewMatrix(criteria.Default(), &models.Evaluation{})
	assert.Equal(t, 0.0, m.WeightedScore())
}

func TestMatrix_SetScore_OrderInvariant(t *testing.T) {
	catalog := twoCriteriaCatalog(t)

	a := NewMatrix(catalog, &models.Evaluation{})
	require.NoError(t, a.SetScore("fit", 5))
	require.NoError(t, a.SetScore("cost", 3))

	b := NewMatrix(catalog, &models.Evaluation{})
	require.NoError(t, b.SetScore("cost", 3))
	require.NoError(t, b.SetScore("fit", 5))

	assert.Equal(t, a.WeightedScore(), b.WeightedScore())

	// Re-scoring a criterion keeps one entry; only the last value counts.
	require.NoError(t, a.SetScore("fit", 2))
	require.NoError(t, a.SetScore("fit", 4))
	assert.Equal(t, 4, a.Evaluation().ScoreFor("fit"))
	assert.Len(t, a.Evaluation().Scores, 2)
}

func TestMatrix_SetScore_RejectsWithoutMutation(t *testing.T) {
	m := NewMatrix(twoCriteriaCatalog(t), &models.Evaluation{})
	require.NoError(t, m.SetScore("fit", 4))

	tests := []struct {
		name  string
		id    string
		score int
	}{
		{"score too low", "fit", 0},
		{"score too high", "fit", 6},
		{"negative score", "cost", -1},
		{"unknown criterion", "vibes", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.SetScore(tt.id, tt.score)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	// Rejections left state untouched.
	assert.Equal(t, 4, m.Evaluation().ScoreFor("fit"))
	assert.Equal(t, 0, m.Evaluation().ScoreFor("cost"))
	assert.Len(t, m.Evaluation().Scores, 1)
}

func TestMatrix_SetCommentsAndDecision(t *testing.T) {
	eval := &models.Evaluation{}
	m := NewMatrix(twoCriteriaCatalog(t), eval)

	m.SetComments("ok") // no constraint at this layer
	m.SetDecision(models.DecisionHold)

	assert.Equal(t, "ok", eval.Comments)
	assert.Equal(t, models.DecisionHold, eval.Decision)
}

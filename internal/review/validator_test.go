package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/sgpm/internal/models"
)

func TestValidate_AllRulesHold(t *testing.T) {
	catalog := twoCriteriaCatalog(t)
	eval := &models.Evaluation{
		Scores: []models.ScoredCriterion{
			{CriterionID: "fit", Score: 5},
			{CriterionID: "cost", Score: 3},
		},
		Comments: "Looks solid enough",
		Decision: models.DecisionGo,
	}

	result := Validate(catalog, eval)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
}

func TestValidate_ReportsAllViolationsTogether(t *testing.T) {
	catalog := twoCriteriaCatalog(t)
	eval := &models.Evaluation{} // nothing scored, no comments, no decision

	result := Validate(catalog, eval)
	assert.False(t, result.IsValid)
	// Two unscored criteria + short comments + missing decision.
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "Strategic Fit")
	assert.Contains(t, result.Errors[1], "Cost")
	assert.Contains(t, result.Errors[2], "at least 10 characters")
	assert.Contains(t, result.Errors[3], "decision")
}

func TestValidate_CommentLength(t *testing.T) {
	catalog := twoCriteriaCatalog(t)
	eval := &models.Evaluation{
		Scores: []models.ScoredCriterion{
			{CriterionID: "fit", Score: 5},
			{CriterionID: "cost", Score: 3},
		},
		Comments: "ok",
		Decision: models.DecisionGo,
	}

	result := Validate(catalog, eval)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "at least 10 characters")

	// Whitespace does not count toward the minimum.
	eval.Comments = "   padded   "
	result = Validate(catalog, eval)
	assert.False(t, result.IsValid)

	eval.Comments = "Looks solid enough"
	result = Validate(catalog, eval)
	assert.True(t, result.IsValid)
}

func TestValidate_MissingSingleCriterion(t *testing.T) {
	catalog := twoCriteriaCatalog(t)
	eval := &models.Evaluation{
		Scores:   []models.ScoredCriterion{{CriterionID: "fit", Score: 4}},
		Comments: "Detailed review comments",
		Decision: models.DecisionRecycle,
	}

	result := Validate(catalog, eval)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Cost")
}

func TestValidate_InvalidDecision(t *testing.T) {
	catalog := twoCriteriaCatalog(t)
	eval := &models.Evaluation{
		Scores: []models.ScoredCriterion{
			{CriterionID: "fit", Score: 4},
			{CriterionID: "cost", Score: 4},
		},
		Comments: "Detailed review comments",
		Decision: models.Decision("PROBABLY"),
	}

	result := Validate(catalog, eval)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "decision")
}

func TestValidate_Deterministic(t *testing.T) {
	catalog := twoCriteriaCatalog(t)
	eval := &models.Evaluation{Comments: "ok"}

	first := Validate(catalog, eval)
	second := Validate(catalog, eval)
	assert.Equal(t, first, second)
}

package review

import (
	"fmt"
	"math"

	"github.com/stagegate/sgpm/internal/criteria"
	"github.com/stagegate/sgpm/internal/models"
)

// Matrix wraps a draft evaluation with the catalog it is scored against.
// All mutations are in-memory; nothing is persisted until the caller saves
// or submits the evaluation.
type Matrix struct {
	catalog *criteria.Catalog
	eval    *models.Evaluation
}

// NewMatrix returns a matrix over the given draft evaluation.
func NewMatrix(catalog *criteria.Catalog, eval *models.Evaluation) *Matrix {
	return &Matrix{catalog: catalog, eval: eval}
}

// Evaluation returns the underlying evaluation.
func (m *Matrix) Evaluation() *models.Evaluation { return m.eval }

// SetScore records a score for a criterion. Out-of-range scores and unknown
// criteria are rejected without mutating state; scores are never clamped.
// The final state depends only on the last score set per criterion.
func (m *Matrix) SetScore(criterionID string, score int) error {
	if _, ok := m.catalog.Get(criterionID); !ok {
		return fmt.Errorf("%w: unknown criterion %q", ErrInvalidInput, criterionID)
	}
	if score < models.MinScore || score > models.MaxScore {
		return fmt.Errorf("%w: score %d out of range [%d,%d]", ErrInvalidInput, score, models.MinScore, models.MaxScore)
	}

	for i, sc := range m.eval.Scores {
		if sc.CriterionID == criterionID {
			m.eval.Scores[i].Score = score
			return nil
		}
	}
	m.eval.Scores = append(m.eval.Scores, models.ScoredCriterion{CriterionID: criterionID, Score: score})
	return nil
}

// SetComments replaces the free-text comments. Length constraints are
// enforced by the validator, not here.
func (m *Matrix) SetComments(text string) {
	m.eval.Comments = text
}

// SetDecision records the decision category. Enum membership is enforced
// by the validator.
func (m *Matrix) SetDecision(d models.Decision) {
	m.eval.Decision = d
}

// WeightedScore recomputes the weighted aggregate on every call:
// sum of score*weight/100 across all criteria, rounded to 2 decimals.
// Unscored criteria contribute 0, so an empty matrix scores 0.
func (m *Matrix) WeightedScore() float64 {
	return WeightedScore(m.catalog, m.eval)
}

// TotalScore equals WeightedScore. Weights sum to 100 and scores run 1-5,
// so the weighted aggregate is already on the 0-5 display scale; the
// separate accessor exists for display naming compatibility.
func (m *Matrix) TotalScore() float64 {
	return m.WeightedScore()
}

// WeightedScore computes the weighted aggregate of an evaluation against
// a catalog. Exposed as a function so the service can recompute derived
// fields before persisting.
func WeightedScore(catalog *criteria.Catalog, eval *models.Evaluation) float64 {
	sum := 0.0
	for _, cr := range catalog.List() {
		sum += float64(eval.ScoreFor(cr.ID) * cr.Weight)
	}
	return math.Round(sum) / 100
}

package models

import "time"

// Decision is the recommendation a reviewer attaches to a completed evaluation.
type Decision string

const (
	DecisionGo      Decision = "GO"
	DecisionRecycle Decision = "RECYCLE"
	DecisionHold    Decision = "HOLD"
	DecisionStop    Decision = "STOP"
)

// Valid reports whether d is one of the four enumerated decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionGo, DecisionRecycle, DecisionHold, DecisionStop:
		return true
	}
	return false
}

// decisionSeverity orders decisions from least to most severe. A session's
// aggregate decision is the most severe decision among submitted evaluations.
var decisionSeverity = map[Decision]int{
	DecisionGo:      0,
	DecisionRecycle: 1,
	DecisionHold:    2,
	DecisionStop:    3,
}

// MoreSevere returns the more severe of a and b.
func MoreSevere(a, b Decision) Decision {
	if decisionSeverity[b] > decisionSeverity[a] {
		return b
	}
	return a
}

// Score bounds for a single criterion.
const (
	MinScore = 1
	MaxScore = 5
)

// ScoredCriterion pairs a criterion with a reviewer's integer score.
type ScoredCriterion struct {
	CriterionID string
	Score       int // MinScore..MaxScore
}

// Evaluation is one reviewer's scoring matrix for a (project, stage).
// It starts as a mutable draft and becomes immutable once submitted.
type Evaluation struct {
	ID            string
	ProjectID     string
	Stage         int
	ReviewerID    string
	Scores        []ScoredCriterion
	Comments      string
	Decision      Decision
	WeightedScore float64 // sum of score*weight/100, rounded to 2 decimals
	TotalScore    float64 // same value on the 0-5 display scale
	IsCompleted   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SubmittedAt   *time.Time
}

// ScoreFor returns the score recorded for a criterion, or 0 if unscored.
func (e *Evaluation) ScoreFor(criterionID string) int {
	for _, sc := range e.Scores {
		if sc.CriterionID == criterionID {
			return sc.Score
		}
	}
	return 0
}

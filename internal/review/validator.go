package review

import (
	"fmt"
	"strings"

	"github.com/stagegate/sgpm/internal/criteria"
	"github.com/stagegate/sgpm/internal/models"
)

// MinCommentLength is the minimum trimmed length of evaluation comments.
const MinCommentLength = 10

// ValidationResult reports whether an evaluation is complete enough to
// submit, with every violation listed so a client can render the full
// checklist.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// Validate checks an evaluation against the submission rules. It is pure
// and deterministic: callers re-run it on every edit for live feedback,
// and the service re-runs it server-side before persisting a submission.
func Validate(catalog *criteria.Catalog, eval *models.Evaluation) ValidationResult {
	var errs []string

	for _, cr := range catalog.List() {
		score := eval.ScoreFor(cr.ID)
		if score < models.MinScore || score > models.MaxScore {
			errs = append(errs, fmt.Sprintf("criterion %q is not scored", cr.Name))
		}
	}

	if len(strings.TrimSpace(eval.Comments)) < MinCommentLength {
		errs = append(errs, fmt.Sprintf("comments must be at least %d characters", MinCommentLength))
	}

	if !eval.Decision.Valid() {
		errs = append(errs, "a decision (GO, RECYCLE, HOLD, or STOP) is required")
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

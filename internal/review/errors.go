package review

import (
	"errors"
	"fmt"
)

// Sentinel errors for the gate-review workflow. Callers distinguish them
// with errors.Is; the API layer maps them onto HTTP statuses.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrForbidden              = errors.New("forbidden")
	ErrRoleIneligible         = errors.New("role not eligible for review")
	ErrAlreadyAssigned        = errors.New("reviewer already assigned")
	ErrIncompleteReviews      = errors.New("reviews incomplete")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrValidationFailed       = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
)

// IncompleteReviewsError reports how many reviewers have not yet submitted.
type IncompleteReviewsError struct {
	Missing int
}

func (e *IncompleteReviewsError) Error() string {
	return fmt.Sprintf("reviews incomplete: %d reviewer(s) pending", e.Missing)
}

func (e *IncompleteReviewsError) Unwrap() error { return ErrIncompleteReviews }

// ValidationError carries the full list of business-rule violations so the
// caller can display a complete checklist, not just the first failure.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d error(s)", len(e.Result.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stagegate/sgpm/internal/auth"
	"github.com/stagegate/sgpm/internal/criteria"
	"github.com/stagegate/sgpm/internal/models"
	"github.com/stagegate/sgpm/internal/notify"
	"github.com/stagegate/sgpm/internal/store"
)

// Service orchestrates the gate-review workflow: reviewer assignment,
// evaluation drafts and submission, and session approval. All derived
// session state is re-queried from the store at call time.
type Service struct {
	store    store.Store
	auth     *auth.Service
	catalog  *criteria.Catalog
	notifier notify.Notifier
}

// NewService creates a review service.
func NewService(s store.Store, a *auth.Service, catalog *criteria.Catalog, n notify.Notifier) *Service {
	if n == nil {
		n = notify.Discard{}
	}
	return &Service{store: s, auth: a, catalog: catalog, notifier: n}
}

// Catalog returns the criteria catalog the service scores against.
func (s *Service) Catalog() *criteria.Catalog { return s.catalog }

// AssignOptions carries optional assignment metadata.
type AssignOptions struct {
	DueDate      *time.Time
	Instructions string
}

// AssignReviewers assigns the given reviewers to a (project, stage) gate
// review. The whole call is validated up front: an empty reviewer set,
// an ineligible role, an existing assignment, or an already-approved
// session rejects the entire batch before any row is created. Each
// created assignment schedules one best-effort notification.
func (s *Service) AssignReviewers(ctx context.Context, actorID, projectID string, stage int, reviewerIDs []string, opts AssignOptions) ([]*models.ReviewAssignment, error) {
	if len(reviewerIDs) == 0 {
		return nil, fmt.Errorf("%w: reviewer list is empty", ErrInvalidInput)
	}
	if stage < 0 || stage > models.MaxStage {
		return nil, fmt.Errorf("%w: stage %d out of range [0,%d]", ErrInvalidInput, stage, models.MaxStage)
	}

	actorRole, err := s.auth.RoleOf(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown actor %s", ErrForbidden, actorID)
	}
	if !auth.CanAssignReviewers(actorRole) {
		slog.Warn("assignment denied", "actor", actorID, "role", actorRole, "project", projectID, "stage", stage)
		return nil, fmt.Errorf("%w: role %s cannot assign reviewers", ErrForbidden, actorRole)
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	if project.Terminal() {
		slog.Warn("assignment attempted on terminal project", "project", projectID, "status", project.Status)
		return nil, fmt.Errorf("%w: project is %s, no further reviews permitted", ErrInvalidStateTransition, project.Status)
	}
	if _, err := s.store.GetGateApproval(ctx, projectID, stage); err == nil {
		return nil, fmt.Errorf("%w: stage %d review session is already approved", ErrInvalidStateTransition, stage)
	}

	// Validate every target before creating anything.
	for _, id := range reviewerIDs {
		reviewer, err := s.store.GetUser(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown reviewer %s", ErrInvalidInput, id)
		}
		if !auth.EligibleReviewer(reviewer.Role) {
			return nil, fmt.Errorf("%w: %s has role %s", ErrRoleIneligible, reviewer.Name, reviewer.Role)
		}
		if _, err := s.store.GetReviewAssignment(ctx, projectID, stage, id); err == nil {
			return nil, fmt.Errorf("%w: %s on project %s stage %d", ErrAlreadyAssigned, reviewer.Name, projectID, stage)
		}
	}

	assignments := make([]*models.ReviewAssignment, 0, len(reviewerIDs))
	for _, id := range reviewerIDs {
		assignments = append(assignments, &models.ReviewAssignment{
			ProjectID:    projectID,
			Stage:        stage,
			ReviewerID:   id,
			AssignedBy:   actorID,
			Instructions: opts.Instructions,
			DueDate:      opts.DueDate,
		})
	}
	if err := s.store.CreateReviewAssignments(ctx, assignments); err != nil {
		// UNIQUE backstop for a concurrent duplicate assignment; the
		// transaction leaves no partial batch behind.
		if errors.Is(err, store.ErrDuplicateAssignment) {
			return nil, fmt.Errorf("%w: %v", ErrAlreadyAssigned, err)
		}
		return nil, err
	}

	// Best-effort: delivery failure never rolls back an assignment.
	for _, a := range assignments {
		_ = s.notifier.Notify(ctx, a.ReviewerID, models.EventReviewerAssigned, map[string]any{
			"project_id":   projectID,
			"project_name": project.Name,
			"stage":        stage,
			"assigned_by":  actorID,
			"instructions": opts.Instructions,
		})
	}
	return assignments, nil
}

// ListAssignments returns all assignments for a (project, stage) ordered
// by creation time, with completion status derived from evaluations.
func (s *Service) ListAssignments(ctx context.Context, projectID string, stage int) ([]*models.ReviewAssignment, error) {
	return s.store.ListReviewAssignments(ctx, projectID, stage)
}

// OpenEvaluation returns the reviewer's draft evaluation for a (project,
// stage), creating it on first open. Only an assigned reviewer may open one.
func (s *Service) OpenEvaluation(ctx context.Context, reviewerID, projectID string, stage int) (*models.Evaluation, error) {
	if _, err := s.store.GetReviewAssignment(ctx, projectID, stage, reviewerID); err != nil {
		return nil, fmt.Errorf("%w: %s is not assigned to project %s stage %d", ErrForbidden, reviewerID, projectID, stage)
	}

	eval, err := s.store.GetEvaluation(ctx, projectID, stage, reviewerID)
	if err == nil {
		return eval, nil
	}

	eval = &models.Evaluation{
		ProjectID:  projectID,
		Stage:      stage,
		ReviewerID: reviewerID,
	}
	if err := s.store.CreateEvaluation(ctx, eval); err != nil {
		return nil, err
	}
	return eval, nil
}

// DraftUpdate carries the fields of an autosave. Nil/absent fields are
// left untouched.
type DraftUpdate struct {
	Scores   map[string]int
	Comments *string
	Decision *models.Decision
}

// SaveDraft applies an autosave to the reviewer's draft, recomputes the
// derived scores, persists, and returns the draft with a live validation
// result for the client. Submitted evaluations are immutable.
func (s *Service) SaveDraft(ctx context.Context, reviewerID, projectID string, stage int, update DraftUpdate) (*models.Evaluation, ValidationResult, error) {
	eval, err := s.OpenEvaluation(ctx, reviewerID, projectID, stage)
	if err != nil {
		return nil, ValidationResult{}, err
	}
	if eval.IsCompleted {
		return nil, ValidationResult{}, fmt.Errorf("%w: evaluation already submitted", ErrInvalidStateTransition)
	}

	m := NewMatrix(s.catalog, eval)
	for id, score := range update.Scores {
		if err := m.SetScore(id, score); err != nil {
			return nil, ValidationResult{}, err
		}
	}
	if update.Comments != nil {
		m.SetComments(*update.Comments)
	}
	if update.Decision != nil {
		m.SetDecision(*update.Decision)
	}

	eval.WeightedScore = m.WeightedScore()
	eval.TotalScore = m.TotalScore()

	if err := s.store.SaveEvaluation(ctx, eval); err != nil {
		if errors.Is(err, store.ErrAlreadySubmitted) {
			return nil, ValidationResult{}, fmt.Errorf("%w: evaluation already submitted", ErrInvalidStateTransition)
		}
		return nil, ValidationResult{}, err
	}
	return eval, Validate(s.catalog, eval), nil
}

// SubmitEvaluation re-validates the reviewer's draft server-side and marks
// it completed. Validation failures carry the full error checklist.
func (s *Service) SubmitEvaluation(ctx context.Context, reviewerID, projectID string, stage int) (*models.Evaluation, error) {
	eval, err := s.store.GetEvaluation(ctx, projectID, stage, reviewerID)
	if err != nil {
		return nil, fmt.Errorf("%w: no evaluation for reviewer %s on project %s stage %d", ErrNotFound, reviewerID, projectID, stage)
	}
	if eval.IsCompleted {
		return nil, fmt.Errorf("%w: evaluation already submitted", ErrInvalidStateTransition)
	}
	if _, err := s.store.GetGateApproval(ctx, projectID, stage); err == nil {
		return nil, fmt.Errorf("%w: stage %d review session is already approved", ErrInvalidStateTransition, stage)
	}

	// Never trust client-side validation.
	if result := Validate(s.catalog, eval); !result.IsValid {
		return nil, &ValidationError{Result: result}
	}

	m := NewMatrix(s.catalog, eval)
	eval.WeightedScore = m.WeightedScore()
	eval.TotalScore = m.TotalScore()

	if err := s.store.SubmitEvaluation(ctx, eval); err != nil {
		if errors.Is(err, store.ErrAlreadySubmitted) {
			return nil, fmt.Errorf("%w: evaluation already submitted", ErrInvalidStateTransition)
		}
		return nil, err
	}

	if project, perr := s.store.GetProject(ctx, projectID); perr == nil && project.LeadID != "" {
		_ = s.notifier.Notify(ctx, project.LeadID, models.EventEvaluationSubmitted, map[string]any{
			"project_id":  projectID,
			"stage":       stage,
			"reviewer_id": reviewerID,
			"total_score": eval.TotalScore,
			"decision":    eval.Decision,
		})
	}
	return eval, nil
}

// SessionProgress is the live aggregate over a (project, stage) review
// session.
type SessionProgress struct {
	ProjectID         string              `json:"project_id"`
	Stage             int                 `json:"stage"`
	State             models.SessionState `json:"state"`
	Total             int                 `json:"total_reviewers"`
	Completed         int                 `json:"completed_reviews"`
	CompletionRate    float64             `json:"completion_rate"`
	AverageScore      float64             `json:"average_score"`
	AggregateDecision models.Decision     `json:"aggregate_decision,omitempty"`
}

// SessionProgress recomputes the session aggregate from current rows.
func (s *Service) SessionProgress(ctx context.Context, projectID string, stage int) (*SessionProgress, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}

	stats, err := s.store.SessionStats(ctx, projectID, stage)
	if err != nil {
		return nil, err
	}

	p := &SessionProgress{
		ProjectID:      projectID,
		Stage:          stage,
		State:          stats.State(),
		Total:          stats.Total,
		Completed:      stats.Completed,
		CompletionRate: stats.CompletionRate(),
		AverageScore:   stats.AverageScore,
	}
	if len(stats.Decisions) > 0 {
		aggregate := models.DecisionGo
		for _, d := range stats.Decisions {
			aggregate = models.MoreSevere(aggregate, d)
		}
		p.AggregateDecision = aggregate
	}
	if _, err := s.store.GetGateApproval(ctx, projectID, stage); err == nil {
		p.State = models.SessionApproved
	}
	return p, nil
}

// ApproveSession approves the review session for a (project, stage) and
// applies the aggregate decision to the project. The completion check and
// stage transition run atomically in the store; approving an already
// approved session is a no-op that returns the recorded approval.
func (s *Service) ApproveSession(ctx context.Context, actorID, projectID string, stage int) (*models.GateApproval, error) {
	actorRole, err := s.auth.RoleOf(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown actor %s", ErrForbidden, actorID)
	}
	if !auth.CanApproveSession(actorRole) {
		slog.Warn("approval denied", "actor", actorID, "role", actorRole, "project", projectID, "stage", stage)
		return nil, fmt.Errorf("%w: role %s cannot approve review sessions", ErrForbidden, actorRole)
	}

	approval, created, err := s.store.ApproveGate(ctx, projectID, stage, actorID)
	if err != nil {
		var incomplete *store.IncompleteError
		switch {
		case errors.As(err, &incomplete):
			return nil, &IncompleteReviewsError{Missing: incomplete.Missing}
		case errors.Is(err, store.ErrNoReviewers):
			return nil, fmt.Errorf("%w: no reviewers assigned to project %s stage %d", ErrInvalidStateTransition, projectID, stage)
		case errors.Is(err, models.ErrTerminalState):
			slog.Warn("approval on terminal project", "actor", actorID, "project", projectID, "stage", stage, "error", err)
			return nil, fmt.Errorf("%w: %s", ErrInvalidStateTransition, err)
		case strings.Contains(err.Error(), "not found"):
			return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
		}
		return nil, err
	}
	if !created {
		slog.Info("session already approved", "project", projectID, "stage", stage, "actor", actorID)
		return approval, nil
	}

	if project, perr := s.store.GetProject(ctx, projectID); perr == nil && project.LeadID != "" {
		_ = s.notifier.Notify(ctx, project.LeadID, models.EventSessionApproved, map[string]any{
			"project_id":    projectID,
			"stage":         stage,
			"decision":      approval.Decision,
			"average_score": approval.AverageScore,
		})
		_ = s.notifier.Notify(ctx, project.LeadID, models.EventStatusChanged, map[string]any{
			"project_id": projectID,
			"stage":      project.Stage,
			"status":     project.Status,
		})
	}
	return approval, nil
}

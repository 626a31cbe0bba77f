package store

import (
	"context"
	"errors"

	"github.com/stagegate/sgpm/internal/models"
)

// Conflict and precondition errors surfaced by store operations. The
// review service maps these onto its own error taxonomy.
var (
	ErrDuplicateAssignment = errors.New("duplicate review assignment")
	ErrAlreadySubmitted    = errors.New("evaluation already submitted")
	ErrNoReviewers         = errors.New("no reviewers assigned")
)

// IncompleteError reports an approval attempted before all assigned
// reviewers submitted their evaluations.
type IncompleteError struct {
	Missing int
}

func (e *IncompleteError) Error() string {
	return "incomplete reviews"
}

// SessionStats is the derived aggregate over one (project, stage) review
// session, computed by COUNT/AVG queries at call time.
type SessionStats struct {
	Total        int
	Completed    int
	AverageScore float64           // mean of completed evaluations' total score, 0 when none
	Decisions    []models.Decision // decisions of completed evaluations
}

// CompletionRate returns completed/total in [0,1], 0 when no reviewers.
func (s *SessionStats) CompletionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}

// State derives the session state from the counts.
func (s *SessionStats) State() models.SessionState {
	switch {
	case s.Total == 0:
		return models.SessionNoReviewers
	case s.Completed < s.Total:
		return models.SessionInProgress
	default:
		return models.SessionAllComplete
	}
}

// ProjectListFilter specifies filters for listing projects.
type ProjectListFilter struct {
	Status models.ProjectStatus
	Stage  *int
	LeadID string
}

// Store defines the persistence interface for sgpm.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, role models.Role) ([]*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id string) error

	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context, filter ProjectListFilter) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Review assignments
	CreateReviewAssignment(ctx context.Context, a *models.ReviewAssignment) error
	CreateReviewAssignments(ctx context.Context, assignments []*models.ReviewAssignment) error
	GetReviewAssignment(ctx context.Context, projectID string, stage int, reviewerID string) (*models.ReviewAssignment, error)
	ListReviewAssignments(ctx context.Context, projectID string, stage int) ([]*models.ReviewAssignment, error)

	// Evaluations
	CreateEvaluation(ctx context.Context, e *models.Evaluation) error
	GetEvaluation(ctx context.Context, projectID string, stage int, reviewerID string) (*models.Evaluation, error)
	SaveEvaluation(ctx context.Context, e *models.Evaluation) error
	SubmitEvaluation(ctx context.Context, e *models.Evaluation) error

	// Review session
	SessionStats(ctx context.Context, projectID string, stage int) (*SessionStats, error)
	GetGateApproval(ctx context.Context, projectID string, stage int) (*models.GateApproval, error)
	ApproveGate(ctx context.Context, projectID string, stage int, approvedBy string) (*models.GateApproval, bool, error)

	// Notifications
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, recipientID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

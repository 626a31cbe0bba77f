package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stagegate/sgpm/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// which also makes the approve-gate transaction an atomic
	// check-and-transition against concurrent late submissions.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// round2 rounds to 2 decimal places for derived score fields.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = newULID()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = models.RoleUser
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, string(u.Role), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u := &models.User{}
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, role, created_at, updated_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = models.Role(role)
	return u, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u := &models.User{}
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, role, created_at, updated_at FROM users WHERE email = ?`, email,
	).Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	u.Role = models.Role(role)
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context, role models.Role) ([]*models.User, error) {
	var rows *sql.Rows
	var err error
	if role != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, email, role, created_at, updated_at FROM users WHERE role = ? ORDER BY name`, string(role))
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, email, role, created_at, updated_at FROM users ORDER BY name`)
	}
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*models.User
	for rows.Next() {
		u := &models.User{}
		var r string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &r, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = models.Role(r)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u *models.User) error {
	u.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET name=?, email=?, role=?, updated_at=? WHERE id=?`,
		u.Name, u.Email, string(u.Role), u.UpdatedAt, u.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user not found: %s", u.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = models.ProjectStatusActive
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, lead_id, stage, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.LeadID, p.Stage, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p := &models.Project{}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, lead_id, stage, status, created_at, updated_at
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.LeadID, &p.Stage, &status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	p.Status = models.ProjectStatus(status)
	return p, nil
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	p := &models.Project{}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, lead_id, stage, status, created_at, updated_at
		FROM projects WHERE name = ?`, name,
	).Scan(&p.ID, &p.Name, &p.Description, &p.LeadID, &p.Stage, &status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	p.Status = models.ProjectStatus(status)
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context, filter ProjectListFilter) ([]*models.Project, error) {
	query := `SELECT id, name, description, lead_id, stage, status, created_at, updated_at FROM projects`
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Stage != nil {
		conditions = append(conditions, "stage = ?")
		args = append(args, *filter.Stage)
	}
	if filter.LeadID != "" {
		conditions = append(conditions, "lead_id = ?")
		args = append(args, filter.LeadID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		var status string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.LeadID, &p.Stage, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Status = models.ProjectStatus(status)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name=?, description=?, lead_id=?, stage=?, status=?, updated_at=? WHERE id=?`,
		p.Name, p.Description, p.LeadID, p.Stage, string(p.Status), p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", p.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", id)
	}
	return nil
}

// --- Review Assignments ---

func (s *SQLiteStore) CreateReviewAssignment(ctx context.Context, a *models.ReviewAssignment) error {
	return s.CreateReviewAssignments(ctx, []*models.ReviewAssignment{a})
}

// CreateReviewAssignments inserts the whole batch in one transaction so a
// duplicate rejected by the UNIQUE constraint leaves no partial batch.
func (s *SQLiteStore) CreateReviewAssignments(ctx context.Context, assignments []*models.ReviewAssignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, a := range assignments {
		if a.ID == "" {
			a.ID = newULID()
		}
		a.CreatedAt = now
		a.Status = models.AssignmentStatusPending

		_, err := tx.ExecContext(ctx,
			`INSERT INTO review_assignments (id, project_id, stage, reviewer_id, assigned_by, instructions, due_date, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.ProjectID, a.Stage, a.ReviewerID, a.AssignedBy, a.Instructions, a.DueDate, a.CreatedAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: reviewer %s on project %s stage %d", ErrDuplicateAssignment, a.ReviewerID, a.ProjectID, a.Stage)
		}
		if err != nil {
			return fmt.Errorf("create review assignment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// assignmentQuery joins evaluations so the PENDING/COMPLETED status is
// derived from submission state, never stored.
const assignmentQuery = `SELECT a.id, a.project_id, a.stage, a.reviewer_id, a.assigned_by, a.instructions, a.due_date, a.created_at,
	COALESCE(e.is_completed, 0)
	FROM review_assignments a
	LEFT JOIN evaluations e ON e.project_id = a.project_id AND e.stage = a.stage AND e.reviewer_id = a.reviewer_id`

func scanAssignment(row interface{ Scan(...any) error }) (*models.ReviewAssignment, error) {
	a := &models.ReviewAssignment{}
	var dueDate sql.NullTime
	var completed int
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Stage, &a.ReviewerID, &a.AssignedBy, &a.Instructions, &dueDate, &a.CreatedAt, &completed); err != nil {
		return nil, err
	}
	if dueDate.Valid {
		a.DueDate = &dueDate.Time
	}
	a.Status = models.AssignmentStatusPending
	if completed == 1 {
		a.Status = models.AssignmentStatusCompleted
	}
	return a, nil
}

func (s *SQLiteStore) GetReviewAssignment(ctx context.Context, projectID string, stage int, reviewerID string) (*models.ReviewAssignment, error) {
	row := s.db.QueryRowContext(ctx,
		assignmentQuery+` WHERE a.project_id = ? AND a.stage = ? AND a.reviewer_id = ?`,
		projectID, stage, reviewerID)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("assignment not found: reviewer %s on project %s stage %d", reviewerID, projectID, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("get review assignment: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListReviewAssignments(ctx context.Context, projectID string, stage int) ([]*models.ReviewAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		assignmentQuery+` WHERE a.project_id = ? AND a.stage = ? ORDER BY a.created_at, a.id`,
		projectID, stage)
	if err != nil {
		return nil, fmt.Errorf("list review assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assignments []*models.ReviewAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// --- Evaluations ---

func (s *SQLiteStore) CreateEvaluation(ctx context.Context, e *models.Evaluation) error {
	if e.ID == "" {
		e.ID = newULID()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluations (id, project_id, stage, reviewer_id, comments, decision, weighted_score, total_score, is_completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		e.ID, e.ProjectID, e.Stage, e.ReviewerID, e.Comments, string(e.Decision),
		e.WeightedScore, e.TotalScore, e.CreatedAt, e.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("evaluation already exists: reviewer %s on project %s stage %d", e.ReviewerID, e.ProjectID, e.Stage)
	}
	if err != nil {
		return fmt.Errorf("create evaluation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEvaluation(ctx context.Context, projectID string, stage int, reviewerID string) (*models.Evaluation, error) {
	e := &models.Evaluation{}
	var decision string
	var completed int
	var submittedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, stage, reviewer_id, comments, decision, weighted_score, total_score, is_completed, created_at, updated_at, submitted_at
		FROM evaluations WHERE project_id = ? AND stage = ? AND reviewer_id = ?`,
		projectID, stage, reviewerID,
	).Scan(&e.ID, &e.ProjectID, &e.Stage, &e.ReviewerID, &e.Comments, &decision,
		&e.WeightedScore, &e.TotalScore, &completed, &e.CreatedAt, &e.UpdatedAt, &submittedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("evaluation not found: reviewer %s on project %s stage %d", reviewerID, projectID, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("get evaluation: %w", err)
	}

	e.Decision = models.Decision(decision)
	e.IsCompleted = completed == 1
	if submittedAt.Valid {
		e.SubmittedAt = &submittedAt.Time
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT criterion_id, score FROM evaluation_scores WHERE evaluation_id = ? ORDER BY criterion_id`, e.ID)
	if err != nil {
		return nil, fmt.Errorf("get evaluation scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var sc models.ScoredCriterion
		if err := rows.Scan(&sc.CriterionID, &sc.Score); err != nil {
			return nil, fmt.Errorf("scan evaluation score: %w", err)
		}
		e.Scores = append(e.Scores, sc)
	}
	return e, rows.Err()
}

// saveEvaluationTx writes the evaluation's mutable fields and scores inside
// tx. The conditional WHERE is_completed = 0 makes submitted evaluations
// immutable at the persistence layer.
func (s *SQLiteStore) saveEvaluationTx(ctx context.Context, tx *sql.Tx, e *models.Evaluation) error {
	e.UpdatedAt = time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE evaluations SET comments=?, decision=?, weighted_score=?, total_score=?, updated_at=?
		WHERE id=? AND is_completed=0`,
		e.Comments, string(e.Decision), round2(e.WeightedScore), round2(e.TotalScore), e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update evaluation: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		var completed int
		err := tx.QueryRowContext(ctx, "SELECT is_completed FROM evaluations WHERE id = ?", e.ID).Scan(&completed)
		if err == sql.ErrNoRows {
			return fmt.Errorf("evaluation not found: %s", e.ID)
		}
		if err != nil {
			return fmt.Errorf("check evaluation: %w", err)
		}
		return fmt.Errorf("%w: evaluation %s", ErrAlreadySubmitted, e.ID)
	}

	for _, sc := range e.Scores {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO evaluation_scores (evaluation_id, criterion_id, score) VALUES (?, ?, ?)
			ON CONFLICT(evaluation_id, criterion_id) DO UPDATE SET score = excluded.score`,
			e.ID, sc.CriterionID, sc.Score,
		); err != nil {
			return fmt.Errorf("save score %s: %w", sc.CriterionID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveEvaluation(ctx context.Context, e *models.Evaluation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveEvaluationTx(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SubmitEvaluation persists the final state and marks the evaluation
// completed in one transaction. A second submission fails with
// ErrAlreadySubmitted.
func (s *SQLiteStore) SubmitEvaluation(ctx context.Context, e *models.Evaluation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveEvaluationTx(ctx, tx, e); err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE evaluations SET is_completed=1, submitted_at=? WHERE id=?`, now, e.ID,
	); err != nil {
		return fmt.Errorf("mark evaluation completed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	e.IsCompleted = true
	e.SubmittedAt = &now
	return nil
}

// --- Review Session ---

// sessionStatsTx computes the aggregate with COUNT/AVG queries so the
// completion rate is always re-derived from current rows, never from a
// client-supplied counter.
func sessionStatsTx(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, projectID string, stage int) (*SessionStats, error) {
	stats := &SessionStats{}

	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_assignments WHERE project_id = ? AND stage = ?`,
		projectID, stage).Scan(&stats.Total)
	if err != nil {
		return nil, fmt.Errorf("count assignments: %w", err)
	}

	err = q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(total_score), 0)
		FROM evaluations WHERE project_id = ? AND stage = ? AND is_completed = 1`,
		projectID, stage).Scan(&stats.Completed, &stats.AverageScore)
	if err != nil {
		return nil, fmt.Errorf("aggregate evaluations: %w", err)
	}
	stats.AverageScore = round2(stats.AverageScore)

	rows, err := q.QueryContext(ctx,
		`SELECT decision FROM evaluations
		WHERE project_id = ? AND stage = ? AND is_completed = 1 ORDER BY submitted_at, id`,
		projectID, stage)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		stats.Decisions = append(stats.Decisions, models.Decision(d))
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) SessionStats(ctx context.Context, projectID string, stage int) (*SessionStats, error) {
	return sessionStatsTx(ctx, s.db, projectID, stage)
}

func (s *SQLiteStore) GetGateApproval(ctx context.Context, projectID string, stage int) (*models.GateApproval, error) {
	g := &models.GateApproval{}
	var decision string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, stage, approved_by, decision, average_score, approved_at
		FROM gate_approvals WHERE project_id = ? AND stage = ?`,
		projectID, stage,
	).Scan(&g.ID, &g.ProjectID, &g.Stage, &g.ApprovedBy, &decision, &g.AverageScore, &g.ApprovedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("gate approval not found: project %s stage %d", projectID, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("get gate approval: %w", err)
	}
	g.Decision = models.Decision(decision)
	return g, nil
}

// ApproveGate records the approval of a review session and applies the
// aggregate decision to the project, all in one transaction. The 100%
// completion check runs inside the same transaction to close the race
// between a stale UI snapshot and a concurrent late submission.
//
// Approving an already-approved session returns the recorded approval
// with created=false and does not touch the project again.
func (s *SQLiteStore) ApproveGate(ctx context.Context, projectID string, stage int, approvedBy string) (*models.GateApproval, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotency guard: an existing approval row means the transition
	// already happened.
	existing := &models.GateApproval{}
	var decision string
	err = tx.QueryRowContext(ctx,
		`SELECT id, project_id, stage, approved_by, decision, average_score, approved_at
		FROM gate_approvals WHERE project_id = ? AND stage = ?`,
		projectID, stage,
	).Scan(&existing.ID, &existing.ProjectID, &existing.Stage, &existing.ApprovedBy, &decision, &existing.AverageScore, &existing.ApprovedAt)
	if err == nil {
		existing.Decision = models.Decision(decision)
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("check existing approval: %w", err)
	}

	stats, err := sessionStatsTx(ctx, tx, projectID, stage)
	if err != nil {
		return nil, false, err
	}
	if stats.Total == 0 {
		return nil, false, fmt.Errorf("%w: project %s stage %d", ErrNoReviewers, projectID, stage)
	}
	if stats.Completed < stats.Total {
		return nil, false, &IncompleteError{Missing: stats.Total - stats.Completed}
	}

	// Aggregate decision: most severe among submitted evaluations.
	aggregate := models.DecisionGo
	for _, d := range stats.Decisions {
		aggregate = models.MoreSevere(aggregate, d)
	}

	var pStage int
	var pStatus string
	err = tx.QueryRowContext(ctx, `SELECT stage, status FROM projects WHERE id = ?`, projectID).Scan(&pStage, &pStatus)
	if err == sql.ErrNoRows {
		return nil, false, fmt.Errorf("project not found: %s", projectID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("get project state: %w", err)
	}

	newStage, newStatus, err := models.ApplyDecision(pStage, models.ProjectStatus(pStatus), aggregate)
	if err != nil {
		return nil, false, err
	}

	approval := &models.GateApproval{
		ID:           newULID(),
		ProjectID:    projectID,
		Stage:        stage,
		ApprovedBy:   approvedBy,
		Decision:     aggregate,
		AverageScore: stats.AverageScore,
		ApprovedAt:   time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gate_approvals (id, project_id, stage, approved_by, decision, average_score, approved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		approval.ID, approval.ProjectID, approval.Stage, approval.ApprovedBy,
		string(approval.Decision), approval.AverageScore, approval.ApprovedAt,
	); err != nil {
		return nil, false, fmt.Errorf("record approval: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET stage=?, status=?, updated_at=? WHERE id=?`,
		newStage, string(newStatus), time.Now().UTC(), projectID,
	); err != nil {
		return nil, false, fmt.Errorf("apply stage transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}
	return approval, true, nil
}

// --- Notifications ---

func (s *SQLiteStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = newULID()
	}
	n.CreatedAt = time.Now().UTC()
	if n.Payload == "" {
		n.Payload = "{}"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, recipient_id, event_type, payload, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, string(n.EventType), n.Payload, boolToInt(n.Read), n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]*models.Notification, error) {
	query := `SELECT id, recipient_id, event_type, payload, is_read, created_at
		FROM notifications WHERE recipient_id = ?`
	if unreadOnly {
		query += " AND is_read = 0"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var eventType string
		var isRead int
		if err := rows.Scan(&n.ID, &n.RecipientID, &eventType, &n.Payload, &isRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.EventType = models.EventType(eventType)
		n.Read = isRead == 1
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead flags a notification as read. The update is scoped
// to the recipient so one user cannot touch another's inbox.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id, recipientID string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ? AND recipient_id = ?", id, recipientID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("notification not found: %s", id)
	}
	return nil
}

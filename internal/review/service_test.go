package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/sgpm/internal/auth"
	"github.com/stagegate/sgpm/internal/models"
	"github.com/stagegate/sgpm/internal/notify"
	"github.com/stagegate/sgpm/internal/store"
)

type fixture struct {
	svc     *Service
	store   store.Store
	project *models.Project

	admin      *models.User
	gatekeeper *models.User
	lead       *models.User
	researcher *models.User
	reviewer1  *models.User
	reviewer2  *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLiteStore(t.TempDir() + "/test.db")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s}
	users := []struct {
		target **models.User
		name   string
		role   models.Role
	}{
		{&f.admin, "Ada Admin", models.RoleAdmin},
		{&f.gatekeeper, "Gail Gatekeeper", models.RoleGatekeeper},
		{&f.lead, "Lena Lead", models.RoleProjectLead},
		{&f.researcher, "Ravi Researcher", models.RoleResearcher},
		{&f.reviewer1, "Rita Reviewer", models.RoleReviewer},
		{&f.reviewer2, "Rob Reviewer", models.RoleReviewer},
	}
	for _, u := range users {
		user := &models.User{Name: u.name, Email: u.name + "@example.org", Role: u.role}
		require.NoError(t, s.CreateUser(ctx, user))
		*u.target = user
	}

	f.project = &models.Project{Name: "fusion-pilot", LeadID: f.lead.ID, Stage: 1, Status: models.ProjectStatusActive}
	require.NoError(t, s.CreateProject(ctx, f.project))

	f.svc = NewService(s, auth.NewService(s), twoCriteriaCatalog(t), notify.NewStoreNotifier(s))
	return f
}

// completeEvaluation opens, fills, and submits a valid evaluation.
func (f *fixture) completeEvaluation(t *testing.T, reviewerID string, stage int, scores map[string]int, decision models.Decision) *models.Evaluation {
	t.Helper()
	ctx := context.Background()

	comments := "Looks solid enough"
	_, result, err := f.svc.SaveDraft(ctx, reviewerID, f.project.ID, stage, DraftUpdate{
		Scores:   scores,
		Comments: &comments,
		Decision: &decision,
	})
	require.NoError(t, err)
	require.True(t, result.IsValid)

	eval, err := f.svc.SubmitEvaluation(ctx, reviewerID, f.project.ID, stage)
	require.NoError(t, err)
	return eval
}

// --- Reviewer Assignment ---

func TestAssignReviewers_EmptyListFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, nil, AssignOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assignments, err := f.svc.ListAssignments(ctx, f.project.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, assignments, "no assignment rows may be created")
}

func TestAssignReviewers_Forbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, actor := range []*models.User{f.researcher, f.lead, f.reviewer1} {
		_, err := f.svc.AssignReviewers(ctx, actor.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
		assert.ErrorIs(t, err, ErrForbidden, "role %s", actor.Role)
	}

	_, err := f.svc.AssignReviewers(ctx, "nonexistent", f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAssignReviewers_RoleIneligible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID, f.researcher.ID}, AssignOptions{})
	assert.ErrorIs(t, err, ErrRoleIneligible)

	// Batch is all-or-nothing: the eligible reviewer was not assigned either.
	assignments, err := f.svc.ListAssignments(ctx, f.project.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, assignments)
}

func TestAssignReviewers_DuplicateRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	require.NoError(t, err)

	_, err = f.svc.AssignReviewers(ctx, f.gatekeeper.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	assert.ErrorIs(t, err, ErrAlreadyAssigned)

	assignments, err := f.svc.ListAssignments(ctx, f.project.ID, 1)
	require.NoError(t, err)
	assert.Len(t, assignments, 1, "never two active assignments for one reviewer")

	// Same reviewer on a different stage is a fresh assignment.
	_, err = f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 2, []string{f.reviewer1.ID}, AssignOptions{})
	assert.NoError(t, err)
}

func TestAssignReviewers_NotifiesEachReviewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assignments, err := f.svc.AssignReviewers(ctx, f.gatekeeper.ID, f.project.ID, 1,
		[]string{f.reviewer1.ID, f.reviewer2.ID}, AssignOptions{Instructions: "Focus on the budget"})
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, models.AssignmentStatusPending, assignments[0].Status)
	assert.Equal(t, f.gatekeeper.ID, assignments[0].AssignedBy)

	for _, r := range []*models.User{f.reviewer1, f.reviewer2} {
		notifications, err := f.store.ListNotifications(ctx, r.ID, false)
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, models.EventReviewerAssigned, notifications[0].EventType)
	}
}

func TestAssignReviewers_TerminalProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.project.Status = models.ProjectStatusTerminated
	require.NoError(t, f.store.UpdateProject(ctx, f.project))

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

// --- Evaluations ---

func TestOpenEvaluation_RequiresAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OpenEvaluation(ctx, f.reviewer1.ID, f.project.ID, 1)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestOpenEvaluation_CreatesDraftOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	require.NoError(t, err)

	eval, err := f.svc.OpenEvaluation(ctx, f.reviewer1.ID, f.project.ID, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, eval.ID)
	assert.False(t, eval.IsCompleted)

	again, err := f.svc.OpenEvaluation(ctx, f.reviewer1.ID, f.project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, eval.ID, again.ID)
}

func TestSaveDraft_LiveScoresAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	require.NoError(t, err)

	// Scenario B: scores complete, comments too short. The weighted score
	// is computable even though validation blocks submission.
	comments := "ok"
	decision := models.DecisionGo
	eval, result, err := f.svc.SaveDraft(ctx, f.reviewer1.ID, f.project.ID, 1, DraftUpdate{
		Scores:   map[string]int{"fit": 5, "cost": 3},
		Comments: &comments,
		Decision: &decision,
	})
	require.NoError(t, err)
	assert.Equal(t, 4.20, eval.WeightedScore)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "at least 10 characters")

	_, err = f.svc.SubmitEvaluation(ctx, f.reviewer1.ID, f.project.ID, 1)
	assert.ErrorIs(t, err, ErrValidationFailed)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Result.Errors, 1)
}

func TestSaveDraft_RejectsInvalidScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	require.NoError(t, err)

	_, _, err = f.svc.SaveDraft(ctx, f.reviewer1.ID, f.project.ID, 1, DraftUpdate{
		Scores: map[string]int{"fit": 6},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	eval, err := f.svc.OpenEvaluation(ctx, f.reviewer1.ID, f.project.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, eval.Scores, "rejected input must not mutate state")
}

func TestSubmitEvaluation_ScenarioA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	require.NoError(t, err)

	eval := f.completeEvaluation(t, f.reviewer1.ID, 1, map[string]int{"fit": 5, "cost": 3}, models.DecisionGo)
	assert.Equal(t, 4.20, eval.WeightedScore)
	assert.Equal(t, 4.20, eval.TotalScore)
	assert.True(t, eval.IsCompleted)
	require.NotNil(t, eval.SubmittedAt)

	// Project lead is notified of the submission.
	notifications, err := f.store.ListNotifications(ctx, f.lead.ID, false)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.EventEvaluationSubmitted, notifications[0].EventType)
}

func TestSubmitEvaluation_ImmutableAfterSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	require.NoError(t, err)
	f.completeEvaluation(t, f.reviewer1.ID, 1, map[string]int{"fit": 5, "cost": 3}, models.DecisionGo)

	_, err = f.svc.SubmitEvaluation(ctx, f.reviewer1.ID, f.project.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	comments := "trying to edit after submit"
	_, _, err = f.svc.SaveDraft(ctx, f.reviewer1.ID, f.project.ID, 1, DraftUpdate{Comments: &comments})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

// --- Session Aggregation & Approval ---

func TestSessionProgress_States(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.SessionProgress(ctx, f.project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SessionNoReviewers, p.State)
	assert.Equal(t, 0.0, p.CompletionRate)
	assert.Equal(t, 0.0, p.AverageScore, "no completed reviews must not divide by zero")

	_, err = f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID, f.reviewer2.ID}, AssignOptions{})
	require.NoError(t, err)

	p, err = f.svc.SessionProgress(ctx, f.project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, p.State)
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 0, p.Completed)
}

func TestApproveSession_ScenarioC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Equal weights make the expected totals land exactly on 4.5 and 2.0.
	f.svc = NewService(f.store, auth.NewService(f.store), evenSplitCatalog(t), notify.NewStoreNotifier(f.store))

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID, f.reviewer2.ID}, AssignOptions{})
	require.NoError(t, err)

	// Reviewer 1 submits GO with total (5*50 + 4*50) / 100 = 4.5.
	f.completeEvaluation(t, f.reviewer1.ID, 1, map[string]int{"fit": 5, "cost": 4}, models.DecisionGo)

	p, err := f.svc.SessionProgress(ctx, f.project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.CompletionRate)
	assert.Equal(t, models.SessionInProgress, p.State)

	// Approval before 100% completion is rejected with the missing count
	// and must not touch the project.
	_, err = f.svc.ApproveSession(ctx, f.gatekeeper.ID, f.project.ID, 1)
	assert.ErrorIs(t, err, ErrIncompleteReviews)
	var incomplete *IncompleteReviewsError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 1, incomplete.Missing)

	project, err := f.store.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, project.Stage)
	assert.Equal(t, models.ProjectStatusActive, project.Status)

	// Reviewer 2 submits RECYCLE with total 2.0.
	f.completeEvaluation(t, f.reviewer2.ID, 1, map[string]int{"fit": 2, "cost": 2}, models.DecisionRecycle)

	p, err = f.svc.SessionProgress(ctx, f.project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.CompletionRate)
	assert.Equal(t, models.SessionAllComplete, p.State)
	assert.Equal(t, 3.25, p.AverageScore)
	assert.Equal(t, models.DecisionRecycle, p.AggregateDecision)

	approval, err := f.svc.ApproveSession(ctx, f.gatekeeper.ID, f.project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRecycle, approval.Decision)
	assert.Equal(t, 3.25, approval.AverageScore)

	// RECYCLE keeps the project at Stage 1 for rework.
	project, err = f.store.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, project.Stage)
	assert.Equal(t, models.ProjectStatusActive, project.Status)

	p, err = f.svc.SessionProgress(ctx, f.project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SessionApproved, p.State)
}

func TestApproveSession_GoAdvancesStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	require.NoError(t, err)
	f.completeEvaluation(t, f.reviewer1.ID, 1, map[string]int{"fit": 5, "cost": 5}, models.DecisionGo)

	approval, err := f.svc.ApproveSession(ctx, f.admin.ID, f.project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionGo, approval.Decision)

	project, err := f.store.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, project.Stage)
	assert.Equal(t, models.ProjectStatusActive, project.Status)
}

func TestApproveSession_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	require.NoError(t, err)
	f.completeEvaluation(t, f.reviewer1.ID, 1, map[string]int{"fit": 5, "cost": 5}, models.DecisionGo)

	first, err := f.svc.ApproveSession(ctx, f.admin.ID, f.project.ID, 1)
	require.NoError(t, err)

	second, err := f.svc.ApproveSession(ctx, f.admin.ID, f.project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// No double advancement.
	project, err := f.store.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, project.Stage)
}

func TestApproveSession_Forbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	require.NoError(t, err)
	f.completeEvaluation(t, f.reviewer1.ID, 1, map[string]int{"fit": 5, "cost": 5}, models.DecisionGo)

	_, err = f.svc.ApproveSession(ctx, f.reviewer1.ID, f.project.ID, 1)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestApproveSession_NoReviewers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ApproveSession(ctx, f.admin.ID, f.project.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestApproveSession_MostSevereDecisionWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID, f.reviewer2.ID}, AssignOptions{})
	require.NoError(t, err)

	f.completeEvaluation(t, f.reviewer1.ID, 1, map[string]int{"fit": 5, "cost": 5}, models.DecisionGo)
	f.completeEvaluation(t, f.reviewer2.ID, 1, map[string]int{"fit": 1, "cost": 1}, models.DecisionStop)

	approval, err := f.svc.ApproveSession(ctx, f.admin.ID, f.project.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionStop, approval.Decision)

	project, err := f.store.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, project.Stage)
	assert.Equal(t, models.ProjectStatusTerminated, project.Status)

	// A terminated project accepts no further reviews.
	_, err = f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 2, []string{f.reviewer1.ID}, AssignOptions{})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestApproveSession_FinalStageCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.project.Stage = models.MaxStage
	require.NoError(t, f.store.UpdateProject(ctx, f.project))

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, models.MaxStage, []string{f.reviewer1.ID}, AssignOptions{})
	require.NoError(t, err)
	f.completeEvaluation(t, f.reviewer1.ID, models.MaxStage, map[string]int{"fit": 5, "cost": 5}, models.DecisionGo)

	_, err = f.svc.ApproveSession(ctx, f.admin.ID, f.project.ID, models.MaxStage)
	require.NoError(t, err)

	project, err := f.store.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MaxStage, project.Stage)
	assert.Equal(t, models.ProjectStatusCompleted, project.Status)
}

func TestAssignReviewers_SessionApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	require.NoError(t, err)
	f.completeEvaluation(t, f.reviewer1.ID, 1, map[string]int{"fit": 5, "cost": 5}, models.DecisionGo)
	_, err = f.svc.ApproveSession(ctx, f.gatekeeper.ID, f.project.ID, 1)
	require.NoError(t, err)

	// The approved stage 1 session is closed even though the project
	// itself remains active at stage 2.
	_, err = f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer2.ID}, AssignOptions{})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	assignments, err := f.svc.ListAssignments(ctx, f.project.ID, 1)
	require.NoError(t, err)
	assert.Len(t, assignments, 1)
}

func TestSubmitEvaluation_SessionApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssignReviewers(ctx, f.admin.ID, f.project.ID, 1, []string{f.reviewer1.ID}, AssignOptions{})
	require.NoError(t, err)
	f.completeEvaluation(t, f.reviewer1.ID, 1, map[string]int{"fit": 4, "cost": 4}, models.DecisionGo)
	_, err = f.svc.ApproveSession(ctx, f.gatekeeper.ID, f.project.ID, 1)
	require.NoError(t, err)

	// An assignment that raced the approval still cannot submit into the
	// closed session.
	require.NoError(t, f.store.CreateReviewAssignment(ctx, &models.ReviewAssignment{
		ProjectID: f.project.ID, Stage: 1, ReviewerID: f.reviewer2.ID, AssignedBy: f.admin.ID,
	}))
	comments := "Looks solid enough"
	decision := models.DecisionGo
	_, result, err := f.svc.SaveDraft(ctx, f.reviewer2.ID, f.project.ID, 1, DraftUpdate{
		Scores:   map[string]int{"fit": 3, "cost": 3},
		Comments: &comments,
		Decision: &decision,
	})
	require.NoError(t, err)
	require.True(t, result.IsValid)

	_, err = f.svc.SubmitEvaluation(ctx, f.reviewer2.ID, f.project.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

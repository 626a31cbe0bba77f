package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stagegate/sgpm/internal/models"
	"github.com/stagegate/sgpm/internal/output"
	"github.com/stagegate/sgpm/internal/review"
	"github.com/stagegate/sgpm/internal/store"
)

var (
	reviewStage        int
	reviewDueDate      string
	reviewInstructions string
	reviewDecision     string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run gate reviews",
	Long: `Assign reviewers, fill in weighted evaluations, and approve review
sessions to move projects between stages.

Commands that act on behalf of a user read the actor from --actor,
SGPM_ACTOR, or the config file.`,
}

var reviewAssignCmd = &cobra.Command{
	Use:   "assign <project> <reviewer>...",
	Short: "Assign reviewers to the project's current stage",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewAssignRun(args[0], args[1:])
	},
}

var reviewStatusCmd = &cobra.Command{
	Use:   "status <project>",
	Short: "Show the review session for the project's current stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewStatusRun(args[0])
	},
}

var reviewScoreCmd = &cobra.Command{
	Use:   "score <project> <criterion>=<score>...",
	Short: "Score criteria on your draft evaluation",
	Long: `Score one or more criteria on your draft evaluation, for example:

  sgpm review score fusion-pilot strategic_alignment=4 financial_viability=3

Scores are 1-5. The weighted score is recomputed on every save.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewScoreRun(args[0], args[1:])
	},
}

var reviewCommentCmd = &cobra.Command{
	Use:   "comment <project> <text>",
	Short: "Set the comments on your draft evaluation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewCommentRun(args[0], args[1])
	},
}

var reviewDecideCmd = &cobra.Command{
	Use:   "decide <project> <GO|RECYCLE|HOLD|STOP>",
	Short: "Set the decision on your draft evaluation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewDecideRun(args[0], args[1])
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <project>",
	Short: "Show your evaluation with its validation checklist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewShowRun(args[0])
	},
}

var reviewSubmitCmd = &cobra.Command{
	Use:   "submit <project>",
	Short: "Submit your evaluation",
	Long:  "Validate and submit your evaluation. Submitted evaluations cannot be changed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewSubmitRun(args[0])
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <project>",
	Short: "Approve the review session and apply the gate decision",
	Long: `Approve the review session for the project's current stage. All
assigned reviewers must have submitted. The aggregate decision is
applied to the project: GO advances the stage, RECYCLE keeps it for
rework, HOLD pauses it, STOP terminates it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewApproveRun(args[0])
	},
}

func init() {
	reviewCmd.PersistentFlags().IntVar(&reviewStage, "stage", -1, "Stage to act on (default: the project's current stage)")

	reviewAssignCmd.Flags().StringVar(&reviewDueDate, "due", "", "Due date (YYYY-MM-DD)")
	reviewAssignCmd.Flags().StringVar(&reviewInstructions, "instructions", "", "Instructions for the reviewers")

	reviewCmd.AddCommand(reviewAssignCmd)
	reviewCmd.AddCommand(reviewStatusCmd)
	reviewCmd.AddCommand(reviewScoreCmd)
	reviewCmd.AddCommand(reviewCommentCmd)
	reviewCmd.AddCommand(reviewDecideCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewSubmitCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	rootCmd.AddCommand(reviewCmd)
}

// resolveActor returns the acting user from --actor / SGPM_ACTOR / config.
func resolveActor(ctx context.Context, s store.Store) (*models.User, error) {
	actor := viper.GetString("actor")
	if actor == "" {
		return nil, fmt.Errorf("no actor configured: set --actor, SGPM_ACTOR, or 'actor' in the config file")
	}
	return resolveUser(ctx, s, actor)
}

// reviewTarget resolves the project and the stage the command acts on.
func reviewTarget(ctx context.Context, s store.Store, nameOrID string) (*models.Project, int, error) {
	p, err := resolveProject(ctx, s, nameOrID)
	if err != nil {
		return nil, 0, err
	}
	stage := reviewStage
	if stage < 0 {
		stage = p.Stage
	}
	return p, stage, nil
}

func reviewAssignRun(project string, reviewers []string) error {
	svc, err := getReviewService()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	actor, err := resolveActor(ctx, s)
	if err != nil {
		return err
	}
	p, stage, err := reviewTarget(ctx, s, project)
	if err != nil {
		return err
	}

	reviewerIDs := make([]string, 0, len(reviewers))
	for _, r := range reviewers {
		u, err := resolveUser(ctx, s, r)
		if err != nil {
			return err
		}
		reviewerIDs = append(reviewerIDs, u.ID)
	}

	opts := review.AssignOptions{Instructions: reviewInstructions}
	if reviewDueDate != "" {
		due, err := time.Parse("2006-01-02", reviewDueDate)
		if err != nil {
			return fmt.Errorf("invalid due date %q (want YYYY-MM-DD)", reviewDueDate)
		}
		opts.DueDate = &due
	}

	if dryRun {
		ui.DryRunMsg("Would assign %d reviewer(s) to %s stage %d", len(reviewerIDs), p.Name, stage)
		return nil
	}

	assignments, err := svc.AssignReviewers(ctx, actor.ID, p.ID, stage, reviewerIDs, opts)
	if err != nil {
		return err
	}

	ui.Success("Assigned %d reviewer(s) to %s stage %d", len(assignments), output.Cyan(p.Name), stage)
	return nil
}

func reviewStatusRun(project string) error {
	svc, err := getReviewService()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	p, stage, err := reviewTarget(ctx, s, project)
	if err != nil {
		return err
	}

	progress, err := svc.SessionProgress(ctx, p.ID, stage)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s stage %d: %s\n", output.Cyan(p.Name), stage, string(progress.State))
	if progress.State == models.SessionNoReviewers {
		ui.Info("No reviewers assigned. Use 'sgpm review assign %s <reviewer>...'", p.Name)
		return nil
	}

	fmt.Fprintf(ui.Out, "  Reviews:  %d/%d complete (%.0f%%)\n", progress.Completed, progress.Total, progress.CompletionRate*100)
	if progress.Completed > 0 {
		fmt.Fprintf(ui.Out, "  Average:  %s\n", output.ScoreColor(progress.AverageScore))
		fmt.Fprintf(ui.Out, "  Decision: %s\n", output.DecisionColor(string(progress.AggregateDecision)))
	}
	fmt.Fprintln(ui.Out)

	assignments, err := svc.ListAssignments(ctx, p.ID, stage)
	if err != nil {
		return err
	}
	table := ui.Table([]string{"Reviewer", "Status", "Due"})
	for _, a := range assignments {
		name := a.ReviewerID
		if u, err := s.GetUser(ctx, a.ReviewerID); err == nil {
			name = u.Name
		}
		due := ""
		if a.DueDate != nil {
			due = a.DueDate.Format("2006-01-02")
		}
		table.Append([]string{output.Cyan(name), string(a.Status), due})
	}
	table.Render()
	return nil
}

func reviewScoreRun(project string, pairs []string) error {
	svc, err := getReviewService()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	actor, err := resolveActor(ctx, s)
	if err != nil {
		return err
	}
	p, stage, err := reviewTarget(ctx, s, project)
	if err != nil {
		return err
	}

	scores := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		id, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid score %q (want criterion=score)", pair)
		}
		score, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid score %q (want criterion=score)", pair)
		}
		scores[id] = score
	}

	if dryRun {
		ui.DryRunMsg("Would score %d criteria on %s stage %d", len(scores), p.Name, stage)
		return nil
	}

	eval, result, err := svc.SaveDraft(ctx, actor.ID, p.ID, stage, review.DraftUpdate{Scores: scores})
	if err != nil {
		return err
	}

	ui.Success("Saved %d score(s). Weighted score: %s", len(scores), output.ScoreColor(eval.WeightedScore))
	printValidation(result)
	return nil
}

func reviewCommentRun(project, text string) error {
	svc, err := getReviewService()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	actor, err := resolveActor(ctx, s)
	if err != nil {
		return err
	}
	p, stage, err := reviewTarget(ctx, s, project)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would set comments on %s stage %d", p.Name, stage)
		return nil
	}

	_, result, err := svc.SaveDraft(ctx, actor.ID, p.ID, stage, review.DraftUpdate{Comments: &text})
	if err != nil {
		return err
	}

	ui.Success("Saved comments")
	printValidation(result)
	return nil
}

func reviewDecideRun(project, decision string) error {
	svc, err := getReviewService()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	actor, err := resolveActor(ctx, s)
	if err != nil {
		return err
	}
	p, stage, err := reviewTarget(ctx, s, project)
	if err != nil {
		return err
	}

	d := models.Decision(strings.ToUpper(decision))
	if !d.Valid() {
		return fmt.Errorf("invalid decision %q (want GO, RECYCLE, HOLD, or STOP)", decision)
	}

	if dryRun {
		ui.DryRunMsg("Would set decision %s on %s stage %d", d, p.Name, stage)
		return nil
	}

	_, result, err := svc.SaveDraft(ctx, actor.ID, p.ID, stage, review.DraftUpdate{Decision: &d})
	if err != nil {
		return err
	}

	ui.Success("Saved decision: %s", output.DecisionColor(string(d)))
	printValidation(result)
	return nil
}

func reviewShowRun(project string) error {
	svc, err := getReviewService()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	actor, err := resolveActor(ctx, s)
	if err != nil {
		return err
	}
	p, stage, err := reviewTarget(ctx, s, project)
	if err != nil {
		return err
	}

	eval, err := svc.OpenEvaluation(ctx, actor.ID, p.ID, stage)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s stage %d, reviewer %s\n", output.Cyan(p.Name), stage, actor.Name)
	status := "draft"
	if eval.IsCompleted {
		status = "submitted " + timeAgo(*eval.SubmittedAt)
	}
	fmt.Fprintf(ui.Out, "  Status:   %s\n", status)
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Criterion", "Weight", "Score"})
	for _, c := range svc.Catalog().List() {
		score := "-"
		if v := eval.ScoreFor(c.ID); v > 0 {
			score = strconv.Itoa(v)
		}
		table.Append([]string{c.Name, strconv.Itoa(c.Weight) + "%", score})
	}
	table.Render()
	fmt.Fprintln(ui.Out)

	fmt.Fprintf(ui.Out, "  Weighted: %s\n", output.ScoreColor(eval.WeightedScore))
	if eval.Decision != "" {
		fmt.Fprintf(ui.Out, "  Decision: %s\n", output.DecisionColor(string(eval.Decision)))
	}
	if eval.Comments != "" {
		fmt.Fprintf(ui.Out, "  Comments: %s\n", eval.Comments)
	}

	if !eval.IsCompleted {
		printValidation(review.Validate(svc.Catalog(), eval))
	}
	return nil
}

func reviewSubmitRun(project string) error {
	svc, err := getReviewService()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	actor, err := resolveActor(ctx, s)
	if err != nil {
		return err
	}
	p, stage, err := reviewTarget(ctx, s, project)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would submit evaluation for %s stage %d", p.Name, stage)
		return nil
	}

	eval, err := svc.SubmitEvaluation(ctx, actor.ID, p.ID, stage)
	if err != nil {
		var verr *review.ValidationError
		if errors.As(err, &verr) {
			ui.Error("Evaluation is not ready to submit:")
			for _, msg := range verr.Result.Errors {
				fmt.Fprintf(ui.ErrOut, "  - %s\n", msg)
			}
			return fmt.Errorf("validation failed")
		}
		return err
	}

	ui.Success("Submitted evaluation: %s, decision %s",
		output.ScoreColor(eval.TotalScore), output.DecisionColor(string(eval.Decision)))
	return nil
}

func reviewApproveRun(project string) error {
	svc, err := getReviewService()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	actor, err := resolveActor(ctx, s)
	if err != nil {
		return err
	}
	p, stage, err := reviewTarget(ctx, s, project)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would approve review session for %s stage %d", p.Name, stage)
		return nil
	}

	approval, err := svc.ApproveSession(ctx, actor.ID, p.ID, stage)
	if err != nil {
		var incomplete *review.IncompleteReviewsError
		if errors.As(err, &incomplete) {
			return fmt.Errorf("%d review(s) still outstanding on %s stage %d", incomplete.Missing, p.Name, stage)
		}
		return err
	}

	ui.Success("Approved %s stage %d: %s (average %s)",
		output.Cyan(p.Name), stage,
		output.DecisionColor(string(approval.Decision)),
		output.ScoreColor(approval.AverageScore))

	if updated, err := s.GetProject(ctx, p.ID); err == nil {
		ui.Info("Project is now at stage %d, %s", updated.Stage, output.StatusColor(string(updated.Status)))
	}
	return nil
}

// printValidation reports outstanding validation errors on a draft.
func printValidation(result review.ValidationResult) {
	if result.IsValid {
		ui.Info("Evaluation is ready to submit")
		return
	}
	for _, msg := range result.Errors {
		ui.VerboseLog("outstanding: %s", msg)
	}
}

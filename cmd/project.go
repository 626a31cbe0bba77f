package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagegate/sgpm/internal/models"
	"github.com/stagegate/sgpm/internal/output"
	"github.com/stagegate/sgpm/internal/store"
)

var (
	projectDescription string
	projectLead        string
	projectStatus      string
	projectStage       int
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage research projects",
	Long:  "Add, remove, list, and show research projects in the stage-gate pipeline.",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a project to the pipeline",
	Long:  "Add a research project. New projects start at stage 0 with ACTIVE status.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args[0])
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove <name-or-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a project",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectRemoveRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <name-or-id>",
	Short: "Show detailed project information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectShowRun(args[0])
	},
}

func init() {
	projectAddCmd.Flags().StringVar(&projectDescription, "description", "", "Project description")
	projectAddCmd.Flags().StringVar(&projectLead, "lead", "", "Project lead (user ID or email)")

	projectListCmd.Flags().StringVar(&projectStatus, "status", "", "Filter by status (ACTIVE, ON_HOLD, ...)")
	projectListCmd.Flags().IntVar(&projectStage, "stage", -1, "Filter by stage")
	projectListCmd.Flags().StringVar(&projectLead, "lead", "", "Filter by lead (user ID or email)")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var leadID string
	if projectLead != "" {
		lead, err := resolveUser(ctx, s, projectLead)
		if err != nil {
			return err
		}
		leadID = lead.ID
	}

	p := &models.Project{
		Name:        name,
		Description: projectDescription,
		LeadID:      leadID,
		Stage:       0,
		Status:      models.ProjectStatusActive,
	}

	if dryRun {
		ui.DryRunMsg("Would add project: %s", name)
		return nil
	}

	if err := s.CreateProject(ctx, p); err != nil {
		return fmt.Errorf("add project: %w", err)
	}

	ui.Success("Added project: %s (stage 0, %s)", output.Cyan(name), output.StatusColor(string(p.Status)))
	ui.VerboseLog("ID: %s", p.ID)
	return nil
}

func projectRemoveRun(nameOrID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, nameOrID)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove project: %s", p.Name)
		return nil
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		return fmt.Errorf("remove project: %w", err)
	}

	ui.Success("Removed project: %s", output.Cyan(p.Name))
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.ProjectListFilter{Status: models.ProjectStatus(projectStatus)}
	if projectStage >= 0 {
		stage := projectStage
		filter.Stage = &stage
	}
	if projectLead != "" {
		lead, err := resolveUser(ctx, s, projectLead)
		if err != nil {
			return err
		}
		filter.LeadID = lead.ID
	}

	projects, err := s.ListProjects(ctx, filter)
	if err != nil {
		return err
	}

	if len(projects) == 0 {
		ui.Info("No projects found. Use 'sgpm project add <name>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Name", "Stage", "Status", "Lead", "Updated"})
	for _, p := range projects {
		lead := ""
		if p.LeadID != "" {
			if u, err := s.GetUser(ctx, p.LeadID); err == nil {
				lead = u.Name
			}
		}
		table.Append([]string{
			output.Cyan(p.Name),
			strconv.Itoa(p.Stage),
			output.StatusColor(string(p.Status)),
			lead,
			timeAgo(p.UpdatedAt),
		})
	}
	table.Render()
	return nil
}

func projectShowRun(nameOrID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	svc, err := getReviewService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, nameOrID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(p.Name))
	if p.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", p.Description)
	}
	fmt.Fprintf(ui.Out, "  Stage:      %d of %d\n", p.Stage, models.MaxStage)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(p.Status)))
	if p.LeadID != "" {
		if u, err := s.GetUser(ctx, p.LeadID); err == nil {
			fmt.Fprintf(ui.Out, "  Lead:       %s <%s>\n", u.Name, u.Email)
		}
	}
	fmt.Fprintf(ui.Out, "  Updated:    %s\n", timeAgo(p.UpdatedAt))

	// Per-stage review history up to the current stage.
	for stage := 0; stage <= p.Stage && stage <= models.MaxStage; stage++ {
		progress, err := svc.SessionProgress(ctx, p.ID, stage)
		if err != nil || progress.State == models.SessionNoReviewers {
			continue
		}
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  Stage %d review: %s\n", stage, string(progress.State))
		fmt.Fprintf(ui.Out, "    Reviews:  %d/%d complete\n", progress.Completed, progress.Total)
		if progress.Completed > 0 {
			fmt.Fprintf(ui.Out, "    Average:  %s\n", output.ScoreColor(progress.AverageScore))
			fmt.Fprintf(ui.Out, "    Decision: %s\n", output.DecisionColor(string(progress.AggregateDecision)))
		}
	}

	return nil
}

// resolveProject finds a project by name or ID.
func resolveProject(ctx context.Context, s store.Store, nameOrID string) (*models.Project, error) {
	if p, err := s.GetProjectByName(ctx, nameOrID); err == nil {
		return p, nil
	}
	if p, err := s.GetProject(ctx, nameOrID); err == nil {
		return p, nil
	}
	return nil, fmt.Errorf("project not found: %s", nameOrID)
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}

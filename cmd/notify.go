package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stagegate/sgpm/internal/output"
)

var notifyAll bool

var notifyCmd = &cobra.Command{
	Use:     "inbox",
	Aliases: []string{"notifications"},
	Short:   "Show your notifications",
	Long:    "Show unread notifications for the acting user. Use --all to include read ones.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return notifyListRun()
	},
}

var notifyReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return notifyReadRun(args[0])
	},
}

func init() {
	notifyCmd.Flags().BoolVar(&notifyAll, "all", false, "Include read notifications")
	notifyCmd.AddCommand(notifyReadCmd)
	rootCmd.AddCommand(notifyCmd)
}

func notifyListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := resolveActor(ctx, s)
	if err != nil {
		return err
	}

	notifications, err := s.ListNotifications(ctx, actor.ID, !notifyAll)
	if err != nil {
		return err
	}

	if len(notifications) == 0 {
		ui.Info("No notifications")
		return nil
	}

	table := ui.Table([]string{"When", "Event", "Read", "ID"})
	for _, n := range notifications {
		read := ""
		if n.Read {
			read = "✓"
		}
		table.Append([]string{timeAgo(n.CreatedAt), output.Cyan(string(n.EventType)), read, n.ID})
	}
	table.Render()
	return nil
}

func notifyReadRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := resolveActor(ctx, s)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would mark notification %s as read", id)
		return nil
	}

	if err := s.MarkNotificationRead(ctx, id, actor.ID); err != nil {
		return err
	}
	ui.Success("Marked as read")
	return nil
}

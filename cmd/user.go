package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagegate/sgpm/internal/models"
	"github.com/stagegate/sgpm/internal/output"
	"github.com/stagegate/sgpm/internal/store"
)

var (
	userEmail string
	userRole  string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
	Long:  "Add, list, and update users and their roles.",
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun(args[0])
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userRoleCmd = &cobra.Command{
	Use:   "role <id-or-email> <role>",
	Short: "Change a user's role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userRoleRun(args[0], args[1])
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address (required)")
	userAddCmd.Flags().StringVar(&userRole, "role", "USER", "Role (ADMIN, GATEKEEPER, PROJECT_LEAD, RESEARCHER, REVIEWER, USER, CUSTOM)")
	_ = userAddCmd.MarkFlagRequired("email")

	userListCmd.Flags().StringVar(&userRole, "role", "", "Filter by role")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userRoleCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	role := models.Role(strings.ToUpper(userRole))
	if !role.Valid() {
		return fmt.Errorf("invalid role: %s", userRole)
	}

	u := &models.User{Name: name, Email: userEmail, Role: role}

	if dryRun {
		ui.DryRunMsg("Would add user: %s <%s> (%s)", name, userEmail, role)
		return nil
	}

	if err := s.CreateUser(context.Background(), u); err != nil {
		return fmt.Errorf("add user: %w", err)
	}

	ui.Success("Added user: %s <%s> (%s)", output.Cyan(name), userEmail, role)
	ui.VerboseLog("ID: %s", u.ID)
	return nil
}

func userListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	role := models.Role(strings.ToUpper(userRole))
	if userRole != "" && !role.Valid() {
		return fmt.Errorf("invalid role: %s", userRole)
	}

	users, err := s.ListUsers(context.Background(), role)
	if err != nil {
		return err
	}

	if len(users) == 0 {
		ui.Info("No users found. Use 'sgpm user add <name> --email <email>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Name", "Email", "Role", "ID"})
	for _, u := range users {
		table.Append([]string{output.Cyan(u.Name), u.Email, string(u.Role), u.ID})
	}
	table.Render()
	return nil
}

func userRoleRun(idOrEmail, newRole string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	u, err := resolveUser(ctx, s, idOrEmail)
	if err != nil {
		return err
	}

	role := models.Role(strings.ToUpper(newRole))
	if !role.Valid() {
		return fmt.Errorf("invalid role: %s", newRole)
	}

	if dryRun {
		ui.DryRunMsg("Would change role of %s: %s -> %s", u.Name, u.Role, role)
		return nil
	}

	u.Role = role
	if err := s.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	ui.Success("Changed role of %s to %s", output.Cyan(u.Name), role)
	return nil
}

// resolveUser finds a user by ID or email.
func resolveUser(ctx context.Context, s store.Store, idOrEmail string) (*models.User, error) {
	if u, err := s.GetUser(ctx, idOrEmail); err == nil {
		return u, nil
	}
	if u, err := s.GetUserByEmail(ctx, idOrEmail); err == nil {
		return u, nil
	}
	return nil, fmt.Errorf("user not found: %s", idOrEmail)
}

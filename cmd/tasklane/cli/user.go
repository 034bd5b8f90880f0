package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tasklane/tasklane/internal/model"
	"github.com/tasklane/tasklane/internal/service"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserPlanCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		name     string
		plan     string
		password string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Example: `  tasklane user create --email alice@example.com --name Alice --plan pro
  tasklane user create --email bob@example.com --plan business --password -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(email, name, plan, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&plan, "plan", "free", "Plan tier: free, pro, business, enterprise")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted interactively when omitted)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(email, name, plan, password string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}
	tier := model.PlanTier(plan)
	if !model.ValidPlan(tier) {
		return fmt.Errorf("unknown plan %q", plan)
	}

	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := service.HashPassword(password)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Plan:         tier,
		IsActive:     true,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created user %s (id %d, plan %s)\n", user.Email, user.ID, user.Plan)
	if !tier.HasAPIAccess() {
		fmt.Println("Note: the free plan has no API access; upgrade with 'tasklane user plan'.")
	}
	return nil
}

// ---------- user plan ----------

func newUserPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <email> <tier>",
		Short: "Change a user's plan tier",
		Long:  "Change a user's plan. Entitlement and rate limits follow the new tier immediately; existing API keys are untouched.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserPlan(args[0], args[1])
		},
	}
	return cmd
}

func runUserPlan(email, plan string) error {
	tier := model.PlanTier(plan)
	if !model.ValidPlan(tier) {
		return fmt.Errorf("unknown plan %q", plan)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	user, err := findUserByEmail(ctx, st, email)
	if err != nil {
		return err
	}
	if err := st.UpdateUserPlan(ctx, user.ID, tier); err != nil {
		return fmt.Errorf("update plan: %w", err)
	}

	limits := model.LimitsForTier(tier)
	fmt.Printf("Updated %s to plan %s", email, tier)
	if tier.HasAPIAccess() {
		fmt.Printf(" (%d/min, %d/hr, %d/day)", limits.PerMinute, limits.PerHour, limits.PerDay)
	} else {
		fmt.Print(" (no API access)")
	}
	fmt.Println()
	return nil
}

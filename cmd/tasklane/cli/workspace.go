package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tasklane/tasklane/internal/model"
)

func newWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws"},
		Short:   "Manage workspaces and memberships",
	}

	cmd.AddCommand(newWorkspaceCreateCmd())
	cmd.AddCommand(newMemberAddCmd())
	cmd.AddCommand(newMemberRemoveCmd())

	return cmd
}

// ---------- workspace create ----------

func newWorkspaceCreateCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workspace",
		Long:  "Create a workspace owned by a user. The owner is added as a member with the owner role.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkspaceCreate(args[0], owner)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Email of the workspace owner (required)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runWorkspaceCreate(name, ownerEmail string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	owner, err := findUserByEmail(ctx, st, ownerEmail)
	if err != nil {
		return err
	}

	ws := &model.Workspace{Name: name, OwnerID: owner.ID}
	if err := st.CreateWorkspace(ctx, ws); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := st.SetMembership(ctx, &model.Membership{
		UserID: owner.ID, WorkspaceID: ws.ID, Role: model.RoleOwner,
	}); err != nil {
		return fmt.Errorf("set owner membership: %w", err)
	}

	fmt.Printf("Created workspace %q (id %d), owner %s\n", ws.Name, ws.ID, owner.Email)
	return nil
}

// ---------- workspace member-add ----------

func newMemberAddCmd() *cobra.Command {
	var (
		workspaceID int64
		role        string
	)

	cmd := &cobra.Command{
		Use:   "member-add <email>",
		Short: "Add a member to a workspace or change their role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemberAdd(workspaceID, args[0], role)
		},
	}

	cmd.Flags().Int64Var(&workspaceID, "workspace", 0, "Workspace id (required)")
	cmd.Flags().StringVar(&role, "role", "viewer", "Role: viewer, editor, admin, owner")
	cmd.MarkFlagRequired("workspace")

	return cmd
}

func runMemberAdd(workspaceID int64, email, roleName string) error {
	role := model.Role(roleName)
	if !model.ValidRole(role) {
		return fmt.Errorf("unknown role %q", roleName)
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
	if _, err := st.GetWorkspace(ctx, workspaceID); err != nil {
		return fmt.Errorf("workspace %d not found", workspaceID)
	}

	if err := st.SetMembership(ctx, &model.Membership{
		UserID: user.ID, WorkspaceID: workspaceID, Role: role,
	}); err != nil {
		return fmt.Errorf("set membership: %w", err)
	}

	fmt.Printf("Set %s as %s in workspace %d\n", email, role, workspaceID)
	return nil
}

// ---------- workspace member-remove ----------

func newMemberRemoveCmd() *cobra.Command {
	var workspaceID int64

	cmd := &cobra.Command{
		Use:   "member-remove <email>",
		Short: "Remove a member from a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemberRemove(workspaceID, args[0])
		},
	}

	cmd.Flags().Int64Var(&workspaceID, "workspace", 0, "Workspace id (required)")
	cmd.MarkFlagRequired("workspace")

	return cmd
}

func runMemberRemove(workspaceID int64, email string) error {
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
	if err := st.RemoveMembership(ctx, user.ID, workspaceID); err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}

	fmt.Printf("Removed %s from workspace %d\n", email, workspaceID)
	return nil
}

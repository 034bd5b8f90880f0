package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tasklane/tasklane/internal/model"
	"github.com/tasklane/tasklane/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, revoke, and delete API keys used to authenticate against the TaskLane API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyDeleteCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		email       string
		label       string
		scopes      []string
		ttl         time.Duration
		workspaceID int64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key for a user. The raw key is shown once and cannot be retrieved again.",
		Example: `  tasklane key create --user alice@example.com --scope read-tasks --scope write-tasks --label "CI pipeline"
  tasklane key create --user alice@example.com --scope read-tasks --ttl 720h --workspace 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(email, label, scopes, ttl, workspaceID)
		},
	}

	cmd.Flags().StringVar(&email, "user", "", "Email of the key owner (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scope to grant; repeatable (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Key lifetime (0 = never expires)")
	cmd.Flags().Int64Var(&workspaceID, "workspace", 0, "Bind the key to a single workspace id")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("scope")

	return cmd
}

func runKeyCreate(email, label string, scopeNames []string, ttl time.Duration, workspaceID int64) error {
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

	scopes := make(model.ScopeList, len(scopeNames))
	for i, s := range scopeNames {
		scopes[i] = model.Scope(s)
	}
	var binding *int64
	if workspaceID != 0 {
		binding = &workspaceID
	}

	authSvc := service.NewAuthService(st, "", quietLogger())
	plaintext, key, err := authSvc.IssueAPIKey(ctx, user.ID, label, scopes, ttl, binding)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", plaintext)
	fmt.Printf("  Owner:  %s\n", user.Email)
	fmt.Printf("  Scopes: %s\n", key.Scopes.String())
	if label != "" {
		fmt.Printf("  Label:  %s\n", label)
	}
	if key.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	if binding != nil {
		fmt.Printf("  Workspace: %d\n", *binding)
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		email      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(email, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&email, "user", "", "Email of the key owner (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyList(email string, jsonOutput bool) error {
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

	keys, err := st.ListAPIKeysForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		ID      int64  `json:"id"`
		Prefix  string `json:"prefix"`
		Label   string `json:"label"`
		Scopes  string `json:"scopes"`
		Status  string `json:"status"`
		Expires string `json:"expires,omitempty"`
	}

	rows := make([]keyRow, len(keys))
	now := time.Now()
	for i, k := range keys {
		status := "active"
		if k.RevokedAt != nil {
			status = "revoked"
		} else if !k.UsableAt(now) {
			status = "expired"
		}
		row := keyRow{
			ID:     k.ID,
			Prefix: k.KeyPrefix,
			Label:  k.Label,
			Scopes: k.Scopes.String(),
			Status: status,
		}
		if k.ExpiresAt != nil {
			row.Expires = k.ExpiresAt.Format(time.RFC3339)
		}
		rows[i] = row
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys. Use 'tasklane key create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-14s %-20s %-36s %-8s\n", "ID", "PREFIX", "LABEL", "SCOPES", "STATUS")
	for _, k := range rows {
		fmt.Printf("%-6d %-14s %-20s %-36s %-8s\n", k.ID, k.Prefix, k.Label, k.Scopes, k.Status)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Revoke an API key, denying any further requests while keeping its audit record.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyAction(email, args[0], false)
		},
	}

	cmd.Flags().StringVar(&email, "user", "", "Email of the key owner (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "delete <prefix>",
		Short: "Delete an API key by its prefix",
		Long:  "Delete an API key record entirely, erasing its audit trail.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyAction(email, args[0], true)
		},
	}

	cmd.Flags().StringVar(&email, "user", "", "Email of the key owner (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyAction(email, prefix string, deleteKey bool) error {
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

	keys, err := st.ListAPIKeysForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	var matched *model.APIKey
	for i := range keys {
		if strings.HasPrefix(keys[i].KeyPrefix, prefix) {
			matched = &keys[i]
			break
		}
	}
	if matched == nil {
		return fmt.Errorf("no API key found with prefix %q", prefix)
	}

	if deleteKey {
		if err := st.DeleteAPIKey(ctx, matched.ID); err != nil {
			return fmt.Errorf("delete api key: %w", err)
		}
		fmt.Printf("Deleted API key %q\n", matched.KeyPrefix)
		return nil
	}

	if err := st.RevokeAPIKey(ctx, matched.ID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	fmt.Printf("Revoked API key %q\n", matched.KeyPrefix)
	return nil
}

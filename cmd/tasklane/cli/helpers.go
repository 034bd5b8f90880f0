package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tasklane/tasklane/internal/model"
	"github.com/tasklane/tasklane/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// TASKLANE_DATA_DIR env var, or ~/.tasklane as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("TASKLANE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.tasklane"
}

// openStore opens the store for one-shot CLI commands. Postgres is selected
// with TASKLANE_STORE_DRIVER=postgres plus TASKLANE_STORE_DSN.
func openStore() (*store.Store, error) {
	if driver := os.Getenv("TASKLANE_STORE_DRIVER"); driver != "" {
		return store.Open(driver, os.Getenv("TASKLANE_STORE_DSN"))
	}
	return store.NewStore(resolveDataDir())
}

// quietLogger is used by CLI commands whose output goes to stdout; service
// internals should not interleave log lines with it.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// findUserByEmail resolves an email to a user, with a friendly error.
func findUserByEmail(ctx context.Context, st *store.Store, email string) (*model.User, error) {
	user, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("no user with email %q (create one with 'tasklane user create')", email)
	}
	return user, nil
}

package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tasklane/tasklane/internal/server"
	"github.com/tasklane/tasklane/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the TaskLane API server",
		Long:  "Start the HTTP server that fronts every task, workspace, and key-management endpoint with the access-control gateway.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging, CORS *)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	logger.Info("store initialized", "data_dir", resolveDataDir())

	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		if !dev {
			st.Close()
			return fmt.Errorf("auth.jwt_secret is not set (use TASKLANE_AUTH_JWT_SECRET or tasklane.yaml)")
		}
		jwtSecret = "tasklane-dev-secret-change-me"
		logger.Warn("using development JWT secret")
	}

	authSvc := service.NewAuthService(st, jwtSecret, logger)
	accessSvc := service.NewAccessService(st, logger)

	cfg := server.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	if origins := viper.GetStringSlice("server.cors.allowed_origins"); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	if v := viper.GetInt("server.login_per_minute"); v > 0 {
		cfg.LoginPerMinute = v
	}
	if v := viper.GetDuration("server.shutdown_timeout"); v > 0 {
		cfg.ShutdownTimeout = v
	}

	srv := server.New(cfg, st, authSvc, accessSvc, logger)

	fmt.Printf("→ TaskLane API\n")
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ API root: http://%s:%d/api/v1\n", host, port)
	fmt.Println()

	start := time.Now()
	err = srv.ListenAndServe()
	logger.Info("server exited", "uptime", time.Since(start).Round(time.Second))
	return err
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tasklane/tasklane/internal/gateway"
	"github.com/tasklane/tasklane/internal/handler"
	"github.com/tasklane/tasklane/internal/ratelimit"
	"github.com/tasklane/tasklane/internal/server/middleware"
	"github.com/tasklane/tasklane/internal/service"
	"github.com/tasklane/tasklane/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	LoginPerMinute  int // per-IP cap on the session endpoint
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		LoginPerMinute:  30,
	}
}

// Server is the top-level HTTP server for TaskLane. It owns the chi router,
// the store, the gateway, and the two limiters.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	authSvc    *service.AuthService
	gw         *gateway.Gateway
	limiter    *ratelimit.Limiter
	throttle   *ratelimit.LoginThrottle
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server, wires up all routes and middleware, and returns it
// ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, authSvc *service.AuthService, accessSvc *service.AccessService, logger *slog.Logger) *Server {
	limiter := ratelimit.NewLimiter()
	s := &Server{
		cfg:      cfg,
		store:    st,
		authSvc:  authSvc,
		gw:       gateway.New(authSvc, accessSvc, limiter, logger),
		limiter:  limiter,
		throttle: ratelimit.NewLoginThrottle(),
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders: []string{
			"X-Request-ID", "Retry-After",
			"X-RateLimit-Limit-Minute", "X-RateLimit-Limit-Hour", "X-RateLimit-Limit-Day",
			"X-RateLimit-Remaining-Minute", "X-RateLimit-Remaining-Hour", "X-RateLimit-Remaining-Day",
		},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api/v1", func(r chi.Router) {
		sessionHandler := handler.NewSessionHandler(s.authSvc, s.throttle)
		keyHandler := handler.NewKeyHandler(s.authSvc, s.store)
		taskHandler := handler.NewTaskHandler(s.gw, s.store)
		wsHandler := handler.NewWorkspaceHandler(s.gw, s.store)

		// Interactive session. The IP cap is a blunt outer guard; the
		// per-credential throttle runs inside the handler.
		r.Group(func(r chi.Router) {
			r.Use(middleware.IPRateLimit(s.cfg.LoginPerMinute))
			r.Post("/session", sessionHandler.Login)
		})
		r.Delete("/session", sessionHandler.Logout)

		// Key management requires a session token, never an API key.
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(s.authSvc))
			r.Get("/keys", keyHandler.List)
			r.Post("/keys", keyHandler.Create)
			r.Post("/keys/{keyID}/revoke", keyHandler.Revoke)
			r.Delete("/keys/{keyID}", keyHandler.Delete)
		})

		// API-key traffic. Each handler makes the single gateway call.
		r.Get("/workspaces/{workspaceID}", wsHandler.Get)
		r.Get("/workspaces/{workspaceID}/members", wsHandler.ListMembers)
		r.Put("/workspaces/{workspaceID}/members/{userID}", wsHandler.SetMember)
		r.Delete("/workspaces/{workspaceID}/members/{userID}", wsHandler.RemoveMember)

		r.Get("/workspaces/{workspaceID}/tasks", taskHandler.List)
		r.Post("/workspaces/{workspaceID}/tasks", taskHandler.Create)
		r.Get("/tasks/{taskID}", taskHandler.Get)
		r.Patch("/tasks/{taskID}", taskHandler.Update)
		r.Delete("/tasks/{taskID}", taskHandler.Delete)
		r.Get("/tasks/{taskID}/comments", taskHandler.ListComments)
		r.Post("/tasks/{taskID}/comments", taskHandler.CreateComment)
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is
// reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}
	checks["rate_counters"] = fmt.Sprintf("%d active", s.limiter.ActiveCounters())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until SIGINT or SIGTERM.
// It then drains in-flight requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background sweeps for both counter namespaces stop with the signal
	// context.
	s.limiter.Start(ctx)
	s.throttle.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.store.Close()
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

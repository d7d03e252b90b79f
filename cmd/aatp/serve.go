package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/aatp-router/pkg/api"
	"github.com/Mindburn-Labs/aatp-router/pkg/approval"
	"github.com/Mindburn-Labs/aatp-router/pkg/auth"
	"github.com/Mindburn-Labs/aatp-router/pkg/config"
	"github.com/Mindburn-Labs/aatp-router/pkg/database"
	"github.com/Mindburn-Labs/aatp-router/pkg/observability"
	"github.com/Mindburn-Labs/aatp-router/pkg/provider"
	"github.com/Mindburn-Labs/aatp-router/pkg/ratelimit"
	"github.com/Mindburn-Labs/aatp-router/pkg/registry"
	"github.com/Mindburn-Labs/aatp-router/pkg/router"
	"github.com/Mindburn-Labs/aatp-router/pkg/store"
)

func runServer(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", "", "path to a .env file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	logger := newLogger(stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer a.close(context.Background())

	if err := a.serve(ctx); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// app is the fully wired router process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	handler   http.Handler
	files     *registry.FileRegistry
	approvals *approval.Manager
	edge      *api.EdgeLimiter
	closers   []func(context.Context) error
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	var checks []api.HealthCheck

	otelCfg := observability.DefaultConfig()
	otelCfg.ServiceVersion = Version
	otelCfg.Environment = cfg.Mode
	otelCfg.OTLPEndpoint = cfg.OTLPEndpoint
	otelCfg.Insecure = true
	telemetry, err := observability.New(ctx, otelCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, telemetry.Shutdown)
	metrics := observability.NewMetrics()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		checks = append(checks, api.HealthCheck{Name: "database", Critical: true, Check: db.PingContext})
		logger.Info("database ready", "dialect", db.Dialect)
	}

	dir, err := a.buildDirectory(ctx, db)
	if err != nil {
		return nil, err
	}

	var counterStore ratelimit.Store = ratelimit.NewMemoryStore()
	switch {
	case cfg.RateLimit == 0:
		logger.Warn("per-agent rate limiting is disabled")
		counterStore = ratelimit.Unlimited{}
	case cfg.RedisURL != "":
		rs, err := ratelimit.NewRedisStoreFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return rs.Close() })
		checks = append(checks, api.HealthCheck{Name: "redis", Check: rs.Ping})
		counterStore = rs
	}
	limiter := ratelimit.New(counterStore,
		ratelimit.Policy{Limit: cfg.RateLimit, Window: cfg.RateWindow},
		ratelimit.WithLogger(logger.With("component", "ratelimit")),
		ratelimit.WithDegradedHook(metrics.LimiterDegraded),
	)

	ledger, err := store.NewLedger(ctx, store.LedgerConfig{
		Backend:  cfg.LedgerBackend,
		DB:       db,
		Dir:      cfg.LedgerDir,
		Bucket:   cfg.LedgerBucket,
		Prefix:   cfg.LedgerPrefix,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	var approvalStore approval.Store = approval.NewMemoryStore()
	if db != nil {
		s, err := approval.NewSQLStore(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("approval store: %w", err)
		}
		approvalStore = s
	}
	a.approvals = approval.NewManager(approvalStore).
		WithDefaultTimeout(cfg.ApprovalTimeout).
		WithLogger(logger.With("component", "approval")).
		OnTransition(metrics.ApprovalTransition)

	rt := router.New(router.Deps{
		Directory: dir,
		Limiter:   limiter,
		Approvals: a.approvals,
		Provider:  provider.NewClient(cfg.ProviderTimeout),
		Ledger:    ledger,
		Metrics:   metrics,
		Tracer:    telemetry.Tracer(),
		Logger:    logger.With("component", "router"),
	})

	handlers := &api.Handlers{
		Router:    rt,
		Approvals: a.approvals,
		Ledger:    ledger,
		Directory: dir,
		Mode:      cfg.Mode,
		Checks:    checks,
		Logger:    logger,
	}
	a.edge = api.NewEdgeLimiter(cfg.EdgeRPS, cfg.EdgeBurst)
	keys := auth.NewAPIKeys(cfg.APIKeyPolicy, cfg.APIKeys)
	mux := api.NewRouter(handlers, api.RouterOptions{
		Protect:   keys.Middleware,
		Edge:      a.edge,
		Metrics:   metrics,
		Telemetry: telemetry,
	})
	a.handler = auth.RequestIDMiddleware(auth.CORSMiddleware(cfg.CORSOrigins)(mux))

	logger.Info("router configured",
		"mode", cfg.Mode,
		"api_key_policy", keys.Policy(),
		"ledger", cfg.LedgerBackend,
		"rate_limit", cfg.RateLimit,
		"rate_window", cfg.RateWindow,
		"redis", cfg.RedisURL != "",
	)
	return a, nil
}

// openDatabase returns nil when no SQL backend is needed.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	if cfg.DatabaseURL != "" {
		return database.Open(ctx, cfg.DatabaseURL)
	}
	if cfg.Mode != config.ModeStandalone {
		return nil, nil
	}
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	return database.Open(ctx, cfg.SQLitePath)
}

func (a *app) buildDirectory(ctx context.Context, db *database.DB) (registry.Directory, error) {
	switch {
	case a.cfg.Mode == config.ModeStandalone:
		files, err := registry.NewFileRegistry(a.cfg.AgentsFile, a.cfg.ServicesFile)
		if err != nil {
			return nil, fmt.Errorf("directory: %w", err)
		}
		a.files = files
		agents, services := files.Counts()
		a.logger.Info("file directory loaded", "agents", agents, "services", services)
		return files, nil
	case a.cfg.DirectoryURL != "":
		a.logger.Info("remote directory", "url", a.cfg.DirectoryURL)
		return registry.NewHTTPDirectory(a.cfg.DirectoryURL, registry.WithCacheTTL(a.cfg.DirectoryCacheTTL)), nil
	default:
		sqlDir := registry.NewSQLDirectory(db)
		if err := sqlDir.Init(ctx); err != nil {
			return nil, fmt.Errorf("directory: %w", err)
		}
		return sqlDir, nil
	}
}

func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      api.MaxWait + time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	bg, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.edge.Run(bg)
	if a.cfg.ApprovalSweepInterval > 0 {
		go a.approvals.RunSweeper(bg, a.cfg.ApprovalSweepInterval)
	}
	if a.files != nil {
		go a.reloadOnHangup(bg)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.files.Reload(); err != nil {
				a.logger.Error("directory reload failed, keeping previous entries", "error", err)
				continue
			}
			agents, services := a.files.Counts()
			a.logger.Info("directory reloaded", "agents", agents, "services", services)
		}
	}
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
}

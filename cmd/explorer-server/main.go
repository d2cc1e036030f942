// Explorer Server
//
// Serves a workspace file explorer over HTTP:
// - Workspaces persisted to memory, local disk, S3, PostgreSQL or SQLite
// - Tabs, editor positions and per-workspace metadata
// - SSE stream of explorer events
// - Prometheus metrics & structured logging (zap)
// - Optional JWT bearer auth
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/explorer/internal/api"
	"github.com/fruitsalade/explorer/internal/auth"
	"github.com/fruitsalade/explorer/internal/config"
	"github.com/fruitsalade/explorer/internal/explorer"
	"github.com/fruitsalade/explorer/internal/logging"
	"github.com/fruitsalade/explorer/internal/metrics"
	"github.com/fruitsalade/explorer/internal/storage/factory"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a bearer token for the named client and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken, *tokenTTL); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Explorer Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("backend", cfg.StorageBackend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, err := factory.New(ctx, cfg)
	if err != nil {
		logging.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()

	// Load the explorer state
	core, err := explorer.New(ctx, store)
	if err != nil {
		logging.Fatal("explorer init failed", zap.Error(err))
	}
	if core.State() == explorer.StateNoWorkspace && len(core.Workspaces()) == 0 && cfg.DefaultWorkspace != "" {
		if err := core.NewWorkspace(ctx, cfg.DefaultWorkspace, explorer.WorkspaceOptions{}); err != nil {
			logging.Fatal("failed to create default workspace",
				zap.String("workspace", cfg.DefaultWorkspace), zap.Error(err))
		}
		logging.Info("created default workspace", zap.String("workspace", cfg.DefaultWorkspace))
	}

	// Initialize auth (optional)
	var authHandler *auth.Auth
	if cfg.JWTSecret != "" {
		authHandler, err = auth.New(cfg.JWTSecret)
		if err != nil {
			logging.Fatal("auth init failed", zap.Error(err))
		}
		logging.Info("bearer token auth enabled")
	} else {
		logging.Warn("JWT_SECRET not set, API is unauthenticated")
	}

	srv := api.NewServer(core, authHandler)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with the signal context so SSE streams return.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}

	if err := core.SaveMeta(context.Background()); err != nil {
		logging.Warn("failed to save workspace metadata on exit", zap.Error(err))
	}
}

func printToken(cfg *config.Config, client string, ttl time.Duration) error {
	a, err := auth.New(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	token, expires, err := a.IssueToken(client, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
	return nil
}

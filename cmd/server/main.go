// Command server serves the quality validation HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aethelgard/qualitycheck/internal/api"
	"github.com/aethelgard/qualitycheck/internal/config"
	"github.com/aethelgard/qualitycheck/internal/logging"
	"github.com/aethelgard/qualitycheck/internal/telemetry"
	"github.com/aethelgard/qualitycheck/internal/worker"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "config file (default: search qualitycheck.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.ValidateServer()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	logger, err := logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format, "qualitycheck-server", version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		return 1
	}

	stack, err := worker.Build(ctx, cfg)
	if err != nil {
		logger.Error("failed to build validation stack", "error", err)
		return 1
	}
	defer func() { _ = stack.Close() }()

	opts := []api.Option{api.WithMetrics(stack.Metrics)}
	if stack.Archive != nil {
		opts = append(opts, api.WithReports(stack.Archive))
	}
	for name, check := range stack.Checks {
		opts = append(opts, api.WithHealthCheck(name, check))
	}
	srv, err := api.NewServer(stack.NewService(), api.Config{
		APIKeys:           cfg.Auth.APIKeys,
		AuthDisabled:      cfg.Auth.Disabled,
		RateLimitEnabled:  cfg.RateLimit.Enabled,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		Version:           version,
		ValidatorVersion:  cfg.Validation.ValidatorVersion,
	}, opts...)
	if err != nil {
		logger.Error("failed to create api server", "error", err)
		return 1
	}
	go srv.RunMaintenance(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "auth_disabled", cfg.Auth.Disabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		code = 1
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("failed to flush traces", "error", err)
	}
	return code
}

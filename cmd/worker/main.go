// Command worker runs the Temporal worker for batch validation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

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
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	logger, err := logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format, "qualitycheck-worker", version)
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
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	stack, err := worker.Build(ctx, cfg)
	if err != nil {
		logger.Error("failed to build validation stack", "error", err)
		return 1
	}
	defer func() { _ = stack.Close() }()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(slog.Default()),
	})
	if err != nil {
		logger.Error("failed to connect to temporal", "error", err, "host_port", cfg.Temporal.HostPort)
		return 1
	}
	defer c.Close()

	w := sdkworker.New(c, cfg.Temporal.TaskQueue, sdkworker.Options{})
	worker.RegisterAll(w, stack)

	logger.Info("worker starting", "task_queue", cfg.Temporal.TaskQueue, "namespace", cfg.Temporal.Namespace)
	if err := w.Run(interruptOn(ctx)); err != nil {
		logger.Error("worker stopped", "error", err)
		return 1
	}
	return 0
}

// interruptOn adapts ctx to the channel worker.Run waits on.
func interruptOn(ctx context.Context) <-chan interface{} {
	ch := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

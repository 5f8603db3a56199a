// Package cli implements qualityctl, which validates item files locally or
// submits them to the Temporal batch workflow.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/aethelgard/qualitycheck/internal/config"
	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/itemfile"
	"github.com/aethelgard/qualitycheck/internal/logging"
	"github.com/aethelgard/qualitycheck/internal/worker"
	"github.com/aethelgard/qualitycheck/internal/workflow"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
	// ExitRejected means the batch ran but not every item passed.
	ExitRejected = 3
)

// App is one qualityctl invocation.
type App struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Version string
	// BuildOptions are passed to worker.Build for local validation.
	BuildOptions []worker.BuildOption
	// Dial connects to Temporal. Nil uses client.Dial.
	Dial func(config.TemporalConfig) (client.Client, error)
}

const (
	validateUsage = "qualityctl validate [flags] <items.yaml|items.json>"
	submitUsage   = "qualityctl submit [flags] <items.yaml|items.json>"
)

type command struct {
	name    string
	summary string
	run     func(a *App, ctx context.Context, args []string) int
}

var commands = []command{
	{"validate", "Validate an item file in this process", (*App).runValidate},
	{"submit", "Run an item file through the batch workflow", (*App).runSubmit},
	{"version", "Print the version", (*App).runVersion},
}

// Run executes args (without the program name) and returns the exit code.
func (a *App) Run(args []string) int {
	if len(args) == 0 {
		a.printUsage(a.Stderr)
		return ExitUsage
	}
	switch args[0] {
	case "-h", "--help", "help":
		a.printUsage(a.Stdout)
		return ExitOK
	}
	for _, c := range commands {
		if c.name == args[0] {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.run(a, ctx, args[1:])
		}
	}
	fmt.Fprintf(a.Stderr, "unknown command: %s\n\n", args[0])
	a.printUsage(a.Stderr)
	return ExitUsage
}

func (a *App) printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  qualityctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.summary)
	}
}

// batchFlags are shared by validate and submit.
type batchFlags struct {
	fs         *flag.FlagSet
	configPath string
	mode       string
	strict     bool
	key        string
	format     string
}

func newBatchFlags(name, usage string, stderr io.Writer) *batchFlags {
	f := &batchFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	f.fs.SetOutput(stderr)
	f.fs.StringVar(&f.configPath, "config", "", "config file (default: search qualitycheck.yaml)")
	f.fs.StringVar(&f.mode, "mode", "", "validation mode, full or quick; overrides the file")
	f.fs.BoolVar(&f.strict, "strict", true, "abort on the first failing item; overrides the file")
	f.fs.StringVar(&f.key, "key", "", "idempotency key")
	f.fs.StringVar(&f.format, "format", itemfile.FormatJSON, "output format, json or yaml")
	f.fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage:\n  %s\n\nFlags:\n", usage)
		f.fs.PrintDefaults()
	}
	return f
}

// parse returns an exit code when the command should stop.
func (f *batchFlags) parse(args []string) (int, bool) {
	if err := f.fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK, false
		}
		return ExitUsage, false
	}
	if f.fs.NArg() != 1 {
		f.fs.Usage()
		return ExitUsage, false
	}
	if f.format != itemfile.FormatJSON && f.format != itemfile.FormatYAML {
		fmt.Fprintf(f.fs.Output(), "unknown format %q\n", f.format)
		return ExitUsage, false
	}
	return ExitOK, true
}

// request loads the item file and applies the flags that were set.
func (f *batchFlags) request() (*domain.BatchRequest, error) {
	req, err := itemfile.Load(f.fs.Arg(0))
	if err != nil {
		return nil, err
	}
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "mode":
			req.Mode = domain.ValidationMode(f.mode)
		case "strict":
			req.Strict = f.strict
		case "key":
			req.IdempotencyKey = f.key
		}
	})
	return req, nil
}

// setup loads configuration and installs the logger on stderr.
func (a *App) setup(f *batchFlags) (*config.Config, *domain.BatchRequest, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if _, err := logging.Setup(a.Stderr, cfg.Logging.Level, cfg.Logging.Format, "qualityctl", a.Version); err != nil {
		return nil, nil, err
	}
	req, err := f.request()
	if err != nil {
		return nil, nil, err
	}
	return cfg, req, nil
}

func (a *App) runValidate(ctx context.Context, args []string) int {
	f := newBatchFlags("validate", validateUsage, a.Stderr)
	if code, ok := f.parse(args); !ok {
		return code
	}
	cfg, req, err := a.setup(f)
	if err != nil {
		return a.fail(err)
	}

	stack, err := worker.Build(ctx, cfg, a.BuildOptions...)
	if err != nil {
		return a.fail(err)
	}
	defer func() { _ = stack.Close() }()

	res, err := stack.NewService().ValidateBatch(ctx, req)
	if err != nil {
		return a.fail(err)
	}
	return a.report(res, f.format)
}

func (a *App) runSubmit(ctx context.Context, args []string) int {
	f := newBatchFlags("submit", submitUsage, a.Stderr)
	var workflowID string
	var wait bool
	f.fs.StringVar(&workflowID, "workflow-id", "", "workflow id (default: derived from -key, else random)")
	f.fs.BoolVar(&wait, "wait", true, "wait for the result")
	if code, ok := f.parse(args); !ok {
		return code
	}
	cfg, req, err := a.setup(f)
	if err != nil {
		return a.fail(err)
	}
	// Bounds are checked by the workflow too; failing here saves a round trip.
	if err := req.CheckBounds(); err != nil {
		return a.fail(err)
	}

	c, err := a.dial(cfg.Temporal)
	if err != nil {
		return a.fail(fmt.Errorf("failed to connect to temporal: %w", err))
	}
	defer c.Close()

	if workflowID == "" {
		workflowID = "qualityctl-" + uuid.NewString()
		if req.IdempotencyKey != "" {
			workflowID = "qualityctl-" + req.IdempotencyKey
		}
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: cfg.Temporal.TaskQueue,
	}, workflow.BatchValidationWorkflow, req)
	if err != nil {
		return a.fail(fmt.Errorf("failed to start workflow: %w", err))
	}
	fmt.Fprintf(a.Stderr, "started workflow %s (run %s)\n", run.GetID(), run.GetRunID())
	if !wait {
		return ExitOK
	}

	var res domain.BatchResult
	if err := run.Get(ctx, &res); err != nil {
		return a.fail(err)
	}
	return a.report(&res, f.format)
}

func (a *App) runVersion(_ context.Context, _ []string) int {
	fmt.Fprintf(a.Stdout, "qualityctl %s (validator %s)\n", a.Version, domain.DefaultValidatorVersion)
	return ExitOK
}

func (a *App) dial(cfg config.TemporalConfig) (client.Client, error) {
	if a.Dial != nil {
		return a.Dial(cfg)
	}
	return client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    tlog.NewStructuredLogger(slog.Default()),
	})
}

func (a *App) report(res *domain.BatchResult, format string) int {
	if err := itemfile.Write(a.Stdout, res, format); err != nil {
		return a.fail(err)
	}
	if res.Failed > 0 {
		return ExitRejected
	}
	return ExitOK
}

func (a *App) fail(err error) int {
	var abort *domain.StrictAbortError
	if errors.As(err, &abort) {
		fmt.Fprintf(a.Stderr, "error: %s: item %d (%s): %v\n", domain.CodeOf(err), abort.Index, abort.ItemID, abort.Cause)
		return ExitError
	}
	if code := domain.CodeOf(err); code != domain.CodeInternal {
		fmt.Fprintf(a.Stderr, "error: %s: %v\n", code, err)
		return ExitError
	}
	fmt.Fprintf(a.Stderr, "error: %v\n", err)
	return ExitError
}

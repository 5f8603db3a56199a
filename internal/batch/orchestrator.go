// Package batch validates a set of items with bounded parallelism while
// keeping results in input order.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/metrics"
)

// DefaultMaxConcurrency is the worker limit when none is configured.
const DefaultMaxConcurrency = 10

// Batch outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
)

// ItemValidator is the single-item validator the orchestrator fans out to.
type ItemValidator interface {
	Precheck(item domain.Item) error
	Validate(ctx context.Context, item domain.Item, mode domain.ValidationMode) (*domain.QualityReport, error)
}

// Config configures an Orchestrator.
type Config struct {
	MaxConcurrency int
}

// Orchestrator runs batches. It keeps no state between runs.
type Orchestrator struct {
	validator      ItemValidator
	maxConcurrency int
	now            func() time.Time
	metrics        *metrics.Metrics
	progress       func(done, total int)
	logger         *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records batch outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now for the batch timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithProgress registers a callback invoked after each item finishes.
// It may be called from several goroutines at once.
func WithProgress(fn func(done, total int)) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

type progressKey struct{}

// ContextWithProgress attaches a progress callback for a single run, in
// addition to any configured with WithProgress.
func ContextWithProgress(ctx context.Context, fn func(done, total int)) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// New returns an Orchestrator using v for each item.
func New(v ItemValidator, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	o := &Orchestrator{
		validator:      v,
		maxConcurrency: cfg.MaxConcurrency,
		now:            time.Now,
		logger:         slog.Default().With("component", "batch"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run validates every item of req.
//
// Bounds are checked before any work: an empty batch returns
// domain.ErrEmptyBatch and an oversized one *domain.BatchTooLargeError.
// In non-strict mode every item gets a result at its input index, either a
// report or an ItemError. In strict mode the first failing item (lowest
// index among genuine failures) aborts the run: remaining work is cancelled,
// no result is returned and the error is a *domain.StrictAbortError wrapping
// that item's error. Strict runs precheck all items first so a structurally
// invalid item aborts before the assessor is called at all.
//
// Cancelling ctx stops the run and returns ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: batch request is required", domain.ErrInvalidRequest)
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ValidationModeFull
	}
	checked := *req
	checked.Mode = mode
	if err := checked.Validate(); err != nil {
		return nil, err
	}

	items := req.Items
	logger := o.logger.With("items", len(items), "strict", req.Strict, "mode", mode)

	if req.Strict {
		for i, item := range items {
			if err := o.validator.Precheck(item); err != nil {
				o.metrics.ObserveBatch(len(items), true, OutcomeAborted)
				logger.WarnContext(ctx, "strict batch rejected by precheck", "index", i, "item_id", item.ItemID(), "error", err)
				return nil, &domain.StrictAbortError{Index: i, ItemID: item.ItemID(), Cause: err}
			}
		}
	}

	results, abort, err := o.fanOut(ctx, items, mode, req.Strict)
	if err != nil {
		return nil, err
	}
	if abort != nil {
		o.metrics.ObserveBatch(len(items), true, OutcomeAborted)
		logger.WarnContext(ctx, "strict batch aborted", "index", abort.Index, "item_id", abort.ItemID, "error", abort.Cause)
		return nil, abort
	}

	result, err := domain.NewBatchResult(mode, req.Strict, results, o.now())
	if err != nil {
		return nil, err
	}
	o.metrics.ObserveBatch(len(items), req.Strict, OutcomeCompleted)
	logger.InfoContext(ctx, "batch completed",
		"passed", result.Passed, "failed", result.Failed, "errored", result.Errored)
	return result, nil
}

// fanOut validates items with at most maxConcurrency in flight. Results are
// written by index so no ordering step is needed afterwards.
func (o *Orchestrator) fanOut(
	ctx context.Context,
	items []domain.Item,
	mode domain.ValidationMode,
	strict bool,
) ([]domain.ItemResult, *domain.StrictAbortError, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		sem     = make(chan struct{}, o.maxConcurrency)
		wg      sync.WaitGroup
		mu      sync.Mutex
		abort   *domain.StrictAbortError
		done    atomic.Int32
		ordered = make([]domain.ItemResult, len(items))
	)

	runProgress, _ := ctx.Value(progressKey{}).(func(done, total int))
	reportProgress := func() {
		n := int(done.Add(1))
		if o.progress != nil {
			o.progress(n, len(items))
		}
		if runProgress != nil {
			runProgress(n, len(items))
		}
	}

	fail := func(idx int, id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if abort == nil || idx < abort.Index {
			abort = &domain.StrictAbortError{Index: idx, ItemID: id, Cause: err}
		}
		cancel()
	}

launch:
	for i, item := range items {
		select {
		case <-runCtx.Done():
			break launch
		default:
		}

		wg.Add(1)
		go func(idx int, item domain.Item) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if runCtx.Err() != nil {
				return
			}

			report, err := o.validator.Validate(runCtx, item, mode)
			reportProgress()
			switch {
			case err == nil:
				ordered[idx] = domain.ItemResult{Index: idx, Report: report}
			case strict:
				// Neighbours cut short by an abort are not failures of their own.
				if runCtx.Err() != nil && errors.Is(err, context.Canceled) {
					return
				}
				fail(idx, item.ItemID(), err)
			default:
				ordered[idx] = domain.ItemResult{Index: idx, Error: domain.NewItemError(idx, item.ItemID(), err)}
			}
		}(i, item)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if abort != nil {
		return nil, abort, nil
	}
	return ordered, nil, nil
}

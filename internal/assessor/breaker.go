package assessor

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned without contacting the model while the breaker
// is open or its half-open probe slots are taken.
var ErrCircuitOpen = errors.New("assessor circuit breaker is open")

// CircuitState is the state of a Breaker.
type CircuitState int32

const (
	// StateClosed allows requests through.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows a limited number of probes.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"min=1"`
	SuccessThreshold int           `mapstructure:"success_threshold" validate:"min=1"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout" validate:"gt=0"`
	HalfOpenProbes   int           `mapstructure:"half_open_probes" validate:"min=1"`
}

// DefaultBreakerConfig opens after five consecutive failures for 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Breaker stops calls to a failing model so a provider outage turns into
// fast AssessmentUnavailable answers instead of per-item timeouts. State
// changes use compare-and-swap; a Breaker is safe for concurrent use.
type Breaker struct {
	state           atomic.Int32
	failures        atomic.Int32
	successes       atomic.Int32
	lastFailureTime atomic.Int64
	halfOpenProbes  atomic.Int32

	cfg    BreakerConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	b := &Breaker{
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "assessor-breaker"),
	}
	b.state.Store(int32(StateClosed))
	return b
}

// State returns the current state.
func (b *Breaker) State() CircuitState { return CircuitState(b.state.Load()) }

// Allow reports whether a request may proceed. When it returns nil the
// caller must invoke done exactly once with the request outcome.
func (b *Breaker) Allow() (done func(success bool), err error) {
	switch b.State() {
	case StateClosed:
		return b.record, nil
	case StateOpen:
		last := time.Unix(0, b.lastFailureTime.Load())
		if b.now().Sub(last) <= b.cfg.OpenTimeout {
			return nil, ErrCircuitOpen
		}
		b.transition(StateOpen, StateHalfOpen)
	}
	return b.probe()
}

func (b *Breaker) probe() (func(bool), error) {
	for {
		cur := b.halfOpenProbes.Load()
		if int(cur) >= b.cfg.HalfOpenProbes {
			return nil, ErrCircuitOpen
		}
		if b.halfOpenProbes.CompareAndSwap(cur, cur+1) {
			return func(success bool) {
				b.release()
				b.record(success)
			}, nil
		}
	}
}

// release frees a probe slot, saturating at zero if a transition reset it.
func (b *Breaker) release() {
	for {
		cur := b.halfOpenProbes.Load()
		if cur == 0 || b.halfOpenProbes.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

func (b *Breaker) record(success bool) {
	if success {
		b.recordSuccess()
		return
	}
	b.recordFailure()
}

func (b *Breaker) recordSuccess() {
	switch b.State() {
	case StateClosed:
		b.failures.Store(0)
	case StateHalfOpen:
		if int(b.successes.Add(1)) >= b.cfg.SuccessThreshold {
			b.transition(StateHalfOpen, StateClosed)
		}
	}
}

func (b *Breaker) recordFailure() {
	b.lastFailureTime.Store(b.now().UnixNano())
	switch b.State() {
	case StateClosed:
		if int(b.failures.Add(1)) >= b.cfg.FailureThreshold {
			b.transition(StateClosed, StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateHalfOpen, StateOpen)
	}
}

// transition moves from one state to another and resets the counters. It
// is a no-op when another goroutine already left from.
func (b *Breaker) transition(from, to CircuitState) {
	if !b.state.CompareAndSwap(int32(from), int32(to)) {
		return
	}
	b.failures.Store(0)
	b.successes.Store(0)
	b.halfOpenProbes.Store(0)
	b.logger.Info("circuit breaker state transition", "from", from.String(), "to", to.String())
}

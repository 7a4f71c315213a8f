// Package circuitbreaker guards calls to the AI extraction and drug database
// upstreams with sony/gobreaker, adding tracing, OpenTelemetry call counters
// and state change notifications.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is a breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrUnavailable is returned when the breaker rejects a call.
var ErrUnavailable = errors.New("upstream temporarily unavailable")

// Config tunes a breaker. The breaker trips on FailureThreshold consecutive
// failures until MinRequests calls were seen in the current Interval, and on
// FailureRatio after that.
type Config struct {
	Name string
	// MaxRequests is how many probe calls a half-open breaker lets through.
	MaxRequests uint32
	// Interval is the closed-state window after which counts reset.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout          time.Duration
	FailureThreshold uint32
	FailureRatio     float64
	MinRequests      uint32
	// IsSuccessful reports whether an error still counts as a healthy call.
	// Nil counts every error except context cancellation as a failure.
	IsSuccessful func(err error) bool
}

// DefaultConfig returns defaults for third-party HTTP and gRPC APIs.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

func (c Config) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < c.MinRequests {
		return counts.ConsecutiveFailures >= c.FailureThreshold
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

func notCancelled(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// StateObserver is notified on every state transition.
type StateObserver interface {
	SetBreakerState(name string, state State)
}

// CircuitBreaker is one named breaker.
type CircuitBreaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	tracer trace.Tracer
	calls  metric.Int64Counter

	mu       sync.Mutex
	observer StateObserver
}

// New creates a breaker.
func New(cfg Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	calls, err := otel.Meter("circuit-breaker").Int64Counter("circuit_breaker_calls_total",
		metric.WithDescription("Calls through a circuit breaker by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create call counter: %w", err)
	}

	c := &CircuitBreaker{
		name:   cfg.Name,
		logger: logger,
		tracer: otel.Tracer("circuit-breaker"),
		calls:  calls,
	}

	isSuccessful := cfg.IsSuccessful
	if isSuccessful == nil {
		isSuccessful = notCancelled
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   cfg.readyToTrip,
		OnStateChange: func(_ string, from, to gobreaker.State) { c.transition(from, to) },
		IsSuccessful:  isSuccessful,
	})
	return c, nil
}

// Do runs fn through the breaker. Rejections by an open or saturated breaker
// are reported as ErrUnavailable; fn's own errors pass through unchanged.
func Do[T any](ctx context.Context, c *CircuitBreaker, fn func() (T, error)) (T, error) {
	ctx, span := c.tracer.Start(ctx, "circuit_breaker.call",
		trace.WithAttributes(
			attribute.String("breaker.name", c.name),
			attribute.String("breaker.state", string(c.State())),
		))
	defer span.End()

	var out T
	_, err := c.cb.Execute(func() (any, error) {
		v, err := fn()
		out = v
		return nil, err
	})

	outcome := "success"
	switch {
	case IsRejection(err):
		outcome = "rejected"
		span.SetAttributes(attribute.Bool("breaker.rejected", true))
		err = fmt.Errorf("%s: %w", c.name, ErrUnavailable)
	case err != nil:
		outcome = "failure"
	}
	c.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", c.name),
		attribute.String("outcome", outcome),
	))

	if err != nil {
		span.RecordError(err)
		var zero T
		return zero, err
	}
	return out, nil
}

// DoWithFallback is Do, answering with fallback while the breaker rejects
// calls.
func DoWithFallback[T any](ctx context.Context, c *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	v, err := Do(ctx, c, fn)
	if errors.Is(err, ErrUnavailable) {
		c.logger.Warn("circuit open, using fallback", zap.String("breaker", c.name))
		return fallback()
	}
	return v, err
}

// IsRejection reports whether err came from gobreaker refusing a call.
func IsRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (c *CircuitBreaker) transition(from, to gobreaker.State) {
	c.mu.Lock()
	obs := c.observer
	c.mu.Unlock()
	if obs != nil {
		obs.SetBreakerState(c.name, stateOf(to))
	}
	c.logger.Warn("circuit breaker state changed",
		zap.String("breaker", c.name),
		zap.String("from", string(stateOf(from))),
		zap.String("to", string(stateOf(to))))
}

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// SetObserver attaches obs and reports the current state to it.
func (c *CircuitBreaker) SetObserver(obs StateObserver) {
	c.mu.Lock()
	c.observer = obs
	c.mu.Unlock()
	if obs != nil {
		obs.SetBreakerState(c.name, c.State())
	}
}

// Name returns the breaker name.
func (c *CircuitBreaker) Name() string { return c.name }

// State returns the current state.
func (c *CircuitBreaker) State() State { return stateOf(c.cb.State()) }

// IsOpen reports whether calls are being rejected.
func (c *CircuitBreaker) IsOpen() bool { return c.State() == StateOpen }

// IsClosed reports whether calls flow normally.
func (c *CircuitBreaker) IsClosed() bool { return c.State() == StateClosed }

// Manager owns breakers by name and reports their state to one observer.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	logger   *zap.Logger
	observer StateObserver
}

// NewManager creates a manager. obs may be nil.
func NewManager(logger *zap.Logger, obs StateObserver) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
		observer: obs,
	}
}

// GetOrCreate returns the breaker called name, creating it from cfg on first
// use. cfg.Name is overridden by name.
func (m *Manager) GetOrCreate(name string, cfg Config) (*CircuitBreaker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb, nil
	}
	cfg.Name = name
	cb, err := New(cfg, m.logger)
	if err != nil {
		return nil, err
	}
	if m.observer != nil {
		cb.SetObserver(m.observer)
	}
	m.breakers[name] = cb
	return cb, nil
}

// Get returns the breaker called name.
func (m *Manager) Get(name string) (*CircuitBreaker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.breakers[name]
	return cb, ok
}

// Status is a breaker's reported health.
type Status struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Requests uint32 `json:"requests"`
	Failures uint32 `json:"failures"`
	Healthy  bool   `json:"healthy"`
}

// Snapshot returns every breaker's status, sorted by name.
func (m *Manager) Snapshot() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.breakers))
	for name, cb := range m.breakers {
		counts := cb.cb.Counts()
		state := cb.State()
		out = append(out, Status{
			Name:     name,
			State:    state,
			Requests: counts.Requests,
			Failures: counts.TotalFailures,
			Healthy:  state != StateOpen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

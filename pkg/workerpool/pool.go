// Package workerpool runs a function over many inputs on a fixed number of
// goroutines, retrying failures with a linear backoff.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned for work submitted after Stop.
var ErrStopped = errors.New("workerpool: stopped")

// Func processes one input.
type Func[T, R any] func(ctx context.Context, item T) (R, error)

// Outcome is the result of one input.
type Outcome[R any] struct {
	Value R
	Err   error
}

// Config sizes a pool.
type Config struct {
	// Workers is the number of goroutines processing inputs.
	Workers int
	// QueueSize bounds inputs waiting for a worker.
	QueueSize int
	// MaxRetries is how many times a failed input is retried. Zero disables
	// retries.
	MaxRetries int
	// RetryDelay is multiplied by the attempt number before each retry.
	RetryDelay time.Duration
	// GracefulShutdownTimeout bounds how long Stop waits for in-flight work.
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for interactive batch lookups.
func DefaultConfig() Config {
	return Config{
		Workers:                 8,
		QueueSize:               256,
		MaxRetries:              3,
		RetryDelay:              100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

type job[T, R any] struct {
	ctx   context.Context
	item  T
	reply chan Outcome[R]
}

// Pool is a bounded set of workers applying one Func.
type Pool[T, R any] struct {
	cfg    Config
	fn     Func[T, R]
	logger *zap.Logger

	jobs    chan job[T, R]
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	busy      atomic.Int64
}

// New creates a pool. Call Start before submitting work.
func New[T, R any](cfg Config, fn Func[T, R], logger *zap.Logger) (*Pool[T, R], error) {
	if fn == nil {
		return nil, errors.New("workerpool: nil func")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = def.GracefulShutdownTimeout
	}
	return &Pool[T, R]{
		cfg:    cfg,
		fn:     fn,
		logger: logger,
		jobs:   make(chan job[T, R], cfg.QueueSize),
	}, nil
}

// Start launches the workers.
func (p *Pool[T, R]) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize))
}

// Do processes one input and waits for it.
func (p *Pool[T, R]) Do(ctx context.Context, item T) (R, error) {
	reply := make(chan Outcome[R], 1)
	if err := p.enqueue(ctx, item, reply); err != nil {
		var zero R
		return zero, err
	}
	select {
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	case out := <-reply:
		return out.Value, out.Err
	}
}

// Map processes every input and returns the outcomes in input order. Inputs
// that could not be queued carry the queueing error.
func (p *Pool[T, R]) Map(ctx context.Context, items []T) []Outcome[R] {
	out := make([]Outcome[R], len(items))
	replies := make([]chan Outcome[R], len(items))
	for i, item := range items {
		replies[i] = make(chan Outcome[R], 1)
		if err := p.enqueue(ctx, item, replies[i]); err != nil {
			replies[i] <- Outcome[R]{Err: err}
		}
	}
	for i, reply := range replies {
		select {
		case <-ctx.Done():
			out[i] = Outcome[R]{Err: ctx.Err()}
		case o := <-reply:
			out[i] = o
		}
	}
	return out
}

// enqueue blocks for queue space rather than failing fast.
func (p *Pool[T, R]) enqueue(ctx context.Context, item T, reply chan Outcome[R]) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- job[T, R]{ctx: ctx, item: item, reply: reply}:
		p.submitted.Add(1)
		return nil
	}
}

// Stop rejects new work and waits up to GracefulShutdownTimeout for queued
// work to finish.
func (p *Pool[T, R]) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-time.After(p.cfg.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
		return fmt.Errorf("workerpool: shutdown timed out after %s", p.cfg.GracefulShutdownTimeout)
	}
}

func (p *Pool[T, R]) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.busy.Add(1)
		out := p.run(j)
		p.busy.Add(-1)

		if out.Err != nil {
			p.failed.Add(1)
			p.logger.Debug("work item failed", zap.Error(out.Err))
		} else {
			p.completed.Add(1)
		}
		j.reply <- out
	}
}

func (p *Pool[T, R]) run(j job[T, R]) Outcome[R] {
	for attempt := 0; ; attempt++ {
		if err := j.ctx.Err(); err != nil {
			return Outcome[R]{Err: err}
		}
		v, err := p.fn(j.ctx, j.item)
		if err == nil {
			return Outcome[R]{Value: v}
		}
		if attempt >= p.cfg.MaxRetries {
			if p.cfg.MaxRetries > 0 {
				err = fmt.Errorf("after %d retries: %w", p.cfg.MaxRetries, err)
			}
			return Outcome[R]{Err: err}
		}

		p.retried.Add(1)
		timer := time.NewTimer(p.cfg.RetryDelay * time.Duration(attempt+1))
		select {
		case <-j.ctx.Done():
			timer.Stop()
			return Outcome[R]{Err: j.ctx.Err()}
		case <-timer.C:
		}
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted     int64
	Completed     int64
	Failed        int64
	Retried       int64
	Busy          int64
	QueueDepth    int
	QueueCapacity int
	Workers       int
}

// Stats returns current counters.
func (p *Pool[T, R]) Stats() Stats {
	return Stats{
		Submitted:     p.submitted.Load(),
		Completed:     p.completed.Load(),
		Failed:        p.failed.Load(),
		Retried:       p.retried.Load(),
		Busy:          p.busy.Load(),
		QueueDepth:    len(p.jobs),
		QueueCapacity: p.cfg.QueueSize,
		Workers:       p.cfg.Workers,
	}
}

// IsHealthy reports whether the queue is below 90% of capacity.
func (p *Pool[T, R]) IsHealthy() bool {
	return float64(len(p.jobs)) < 0.9*float64(p.cfg.QueueSize)
}

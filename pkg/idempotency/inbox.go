// Package idempotency deduplicates work through a Postgres inbox table.
// A caller claims a key before running its handler; later calls with the
// same key get the stored result instead of running the handler again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the lifecycle state of an inbox key.
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

var (
	// ErrMessageInProgress is returned while another caller holds the key.
	ErrMessageInProgress = errors.New("idempotency: key is being processed")
	// ErrPermanentFailure marks a handler error that must not be retried.
	// Keys that failed this way keep failing until they expire.
	ErrPermanentFailure = errors.New("idempotency: permanent failure")
)

// DB is the subset of pgxpool.Pool the inbox needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config tunes key retention and recovery.
type Config struct {
	// TTL is how long a key and its result are kept.
	TTL time.Duration
	// StaleAfter is how long a STARTED key may sit untouched before another
	// caller may take it over.
	StaleAfter time.Duration
	// MaintenanceInterval is how often stale keys are released and expired
	// keys deleted.
	MaintenanceInterval time.Duration
}

// DefaultConfig keeps results for a week and releases keys abandoned for
// five minutes.
func DefaultConfig() Config {
	return Config{
		TTL:                 7 * 24 * time.Hour,
		StaleAfter:          5 * time.Minute,
		MaintenanceInterval: time.Hour,
	}
}

// ProcessResult describes a Process call.
type ProcessResult struct {
	// IsNew is true when the key had never been seen.
	IsNew bool
	// WasRecovered is true when the handler ran again for a key whose
	// earlier attempt failed or was abandoned.
	WasRecovered bool
	// Result is the handler output, stored or fresh.
	Result json.RawMessage
}

// ProcessFunc does the deduplicated work.
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Inbox runs handlers at most once per key.
type Inbox struct {
	db     DB
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer

	stop chan struct{}
	done chan struct{}
}

// NewInbox creates an inbox. Zero config fields take their defaults.
func NewInbox(db DB, cfg Config, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = def.MaintenanceInterval
	}
	return &Inbox{
		db:     db,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// GenerateKey hashes parts into a key. Parts are joined with a separator so
// ("a", "bc") and ("ab", "c") differ.
func GenerateKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

type record struct {
	status    Status
	result    json.RawMessage
	updatedAt time.Time
}

// Process runs fn for key unless the key already finished, in which case the
// stored result is returned. A handler error leaves the key retryable unless
// it wraps ErrPermanentFailure.
func (i *Inbox) Process(ctx context.Context, key, handler string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	ctx, span := i.tracer.Start(ctx, "inbox.process",
		trace.WithAttributes(
			attribute.String("inbox.key", key),
			attribute.String("inbox.handler", handler),
		))
	defer span.End()

	prev, err := i.lookup(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if prev != nil {
		switch {
		case prev.status == StatusFinished:
			span.SetAttributes(attribute.Bool("inbox.duplicate", true))
			return &ProcessResult{Result: prev.result}, nil
		case prev.status == StatusFailed:
			return nil, fmt.Errorf("%w: key %s failed earlier", ErrPermanentFailure, key)
		case prev.status == StatusStarted && time.Since(prev.updatedAt) < i.cfg.StaleAfter:
			return nil, ErrMessageInProgress
		}
		span.SetAttributes(attribute.Bool("inbox.recovered", true))
	}

	if err := i.claim(ctx, key, handler, payload); err != nil {
		span.RecordError(err)
		return nil, err
	}

	result, err := fn(ctx, payload)
	if err != nil {
		span.RecordError(err)
		status := StatusRecoverable
		if errors.Is(err, ErrPermanentFailure) {
			status = StatusFailed
		}
		detail, _ := json.Marshal(map[string]string{"error": err.Error()})
		if serr := i.settle(ctx, key, status, detail); serr != nil {
			i.logger.Error("inbox settle failed",
				zap.String("key", key),
				zap.String("status", string(status)),
				zap.Error(serr))
		}
		return nil, err
	}

	// The work is done; a lost write only means the next caller repeats it.
	if err := i.settle(ctx, key, StatusFinished, result); err != nil {
		i.logger.Error("inbox settle failed",
			zap.String("key", key),
			zap.String("status", string(StatusFinished)),
			zap.Error(err))
	}

	return &ProcessResult{IsNew: prev == nil, WasRecovered: prev != nil, Result: result}, nil
}

func (i *Inbox) lookup(ctx context.Context, key string) (*record, error) {
	var (
		rec    record
		result []byte
	)
	err := i.db.QueryRow(ctx, `
		SELECT status, COALESCE(result, 'null'::jsonb), updated_at
		FROM inbox
		WHERE idempotency_key = $1`, key,
	).Scan(&rec.status, &result, &rec.updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inbox lookup: %w", err)
	}
	rec.result = result
	return &rec, nil
}

// claim marks key STARTED. An existing row is taken over only when it is
// RECOVERABLE or a stale STARTED; otherwise another caller won the race.
func (i *Inbox) claim(ctx context.Context, key, handler string, payload json.RawMessage) error {
	var claimed string
	err := i.db.QueryRow(ctx, `
		INSERT INTO inbox (idempotency_key, handler_name, status, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = EXCLUDED.status, expires_at = EXCLUDED.expires_at, updated_at = NOW()
		WHERE inbox.status = 'RECOVERABLE'
		   OR (inbox.status = 'STARTED' AND inbox.updated_at < NOW() - make_interval(secs => $6))
		RETURNING idempotency_key`,
		key, handler, StatusStarted, []byte(payload), time.Now().Add(i.cfg.TTL), i.cfg.StaleAfter.Seconds(),
	).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMessageInProgress
	}
	if err != nil {
		return fmt.Errorf("inbox claim: %w", err)
	}
	return nil
}

func (i *Inbox) settle(ctx context.Context, key string, status Status, result json.RawMessage) error {
	_, err := i.db.Exec(ctx, `
		UPDATE inbox
		SET status = $1, result = $2, updated_at = NOW()
		WHERE idempotency_key = $3`,
		status, []byte(result), key)
	return err
}

// Start runs maintenance every MaintenanceInterval until Stop.
func (i *Inbox) Start() {
	go i.maintain()
	i.logger.Info("inbox maintenance started", zap.Duration("interval", i.cfg.MaintenanceInterval))
}

// Stop ends maintenance and waits for the current pass.
func (i *Inbox) Stop() {
	close(i.stop)
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) maintain() {
	defer close(i.done)

	ticker := time.NewTicker(i.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if n, err := i.RecoverStaleEntries(ctx); err != nil {
			i.logger.Error("inbox recovery failed", zap.Error(err))
		} else if n > 0 {
			i.logger.Warn("released abandoned inbox keys", zap.Int64("count", n))
		}
		if err := i.Cleanup(ctx); err != nil {
			i.logger.Error("inbox cleanup failed", zap.Error(err))
		}
		if st, err := i.Stats(ctx); err == nil {
			i.logger.Debug("inbox stats",
				zap.Int64("total", st.Total),
				zap.Int64("started", st.Started),
				zap.Int64("failed", st.Failed))
		}
		cancel()
	}
}

// Cleanup deletes expired keys.
func (i *Inbox) Cleanup(ctx context.Context) error {
	tag, err := i.db.Exec(ctx, `DELETE FROM inbox WHERE expires_at < NOW()`)
	if err != nil {
		return fmt.Errorf("inbox cleanup: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		i.logger.Info("expired inbox keys deleted", zap.Int64("count", n))
	}
	return nil
}

// RecoverStaleEntries makes abandoned STARTED keys RECOVERABLE.
func (i *Inbox) RecoverStaleEntries(ctx context.Context) (int64, error) {
	tag, err := i.db.Exec(ctx, `
		UPDATE inbox
		SET status = 'RECOVERABLE', updated_at = NOW()
		WHERE status = 'STARTED'
		  AND updated_at < NOW() - make_interval(secs => $1)`,
		i.cfg.StaleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("inbox recovery: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats counts keys by status.
type Stats struct {
	Total       int64
	Started     int64
	Finished    int64
	Recoverable int64
	Failed      int64
}

// Stats returns the current key counts.
func (i *Inbox) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := i.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'STARTED'),
			COUNT(*) FILTER (WHERE status = 'FINISHED'),
			COUNT(*) FILTER (WHERE status = 'RECOVERABLE'),
			COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM inbox`,
	).Scan(&st.Total, &st.Started, &st.Finished, &st.Recoverable, &st.Failed)
	if err != nil {
		return nil, fmt.Errorf("inbox stats: %w", err)
	}
	return &st, nil
}

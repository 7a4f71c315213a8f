// Package postgres holds the transactional outbox. Domain changes write an
// entry in their own transaction; the relay publishes committed entries to
// the broker and marks them processed.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Topic names written to the outbox.
const (
	TopicPrescriptionEvents = "prescription.events"
	TopicDeadLetter         = "dead.letter"
)

// relayLockID keys the transaction-scoped advisory lock that lets one relay
// drain the outbox at a time.
const relayLockID int64 = 0x6d6564736e6170

const entryColumns = `id, aggregate_id, aggregate_type, event_type, payload,
	kafka_topic, kafka_key, created_at, retry_count, COALESCE(last_error, '')`

// DB is the subset of pgxpool.Pool the relay needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RowQuerier is satisfied by pgx.Tx and pgxpool.Pool.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Entry is one event waiting in, or read from, the outbox.
type Entry struct {
	ID            int64
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	Topic         string
	Key           string
	CreatedAt     time.Time
	RetryCount    int
	LastError     string
}

// WriteEntry inserts e using q, which must be the transaction that makes the
// change e describes. ID and CreatedAt are filled in.
func WriteEntry(ctx context.Context, q RowQuerier, e *Entry) error {
	err := q.QueryRow(ctx, `
		INSERT INTO outbox (aggregate_id, aggregate_type, event_type, payload, kafka_topic, kafka_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		e.AggregateID, e.AggregateType, e.EventType, []byte(e.Payload), e.Topic, e.Key,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	return nil
}

// RelayConfig tunes the relay.
type RelayConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// MaxRetries is how many failed publishes an entry gets before it is
	// left for MoveToDeadLetter.
	MaxRetries int
	// Retention is how long processed entries are kept.
	Retention time.Duration
}

// DefaultRelayConfig polls often; the outbox is usually empty.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:    100,
		PollInterval: 100 * time.Millisecond,
		MaxRetries:   5,
		Retention:    7 * 24 * time.Hour,
	}
}

// Publisher sends one record to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// PendingObserver receives the pending entry count after each Stats call.
type PendingObserver interface {
	SetOutboxPending(n int64)
}

// Relay publishes committed outbox entries in creation order.
type Relay struct {
	db        DB
	cfg       RelayConfig
	publisher Publisher
	observer  PendingObserver
	logger    *zap.Logger
	tracer    trace.Tracer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelay creates a relay. Zero config fields take their defaults.
func NewRelay(db DB, publisher Publisher, cfg RelayConfig, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRelayConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	return &Relay{
		db:        db,
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("outbox"),
		done:      make(chan struct{}),
	}
}

// SetObserver attaches a pending-count observer.
func (r *Relay) SetObserver(obs PendingObserver) { r.observer = obs }

// Start relays in the background until Stop.
func (r *Relay) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Duration("poll_interval", r.cfg.PollInterval))
}

// Stop waits for the current batch to finish.
func (r *Relay) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info("outbox relay stopped")
}

// run waits PollInterval between batches, except after a full batch when
// more entries are likely waiting.
func (r *Relay) run(ctx context.Context) {
	defer close(r.done)

	timer := time.NewTimer(r.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		n, err := r.ProcessBatch(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("outbox batch failed", zap.Error(err))
		}
		wait := r.cfg.PollInterval
		if n == r.cfg.BatchSize {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// ProcessBatch publishes up to BatchSize pending entries and returns how many
// were read. It returns zero without error when another relay holds the lock.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "outbox.batch")
	defer span.End()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, relayLockID).Scan(&locked); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("relay lock: %w", err)
	}
	if !locked {
		span.SetAttributes(attribute.Bool("outbox.lock_held_elsewhere", true))
		return 0, nil
	}

	entries, err := queryEntries(ctx, tx, `
		SELECT `+entryColumns+`
		FROM outbox
		WHERE processed_at IS NULL AND retry_count < $1
		ORDER BY created_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		r.cfg.MaxRetries, r.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	var sent []int64
	for _, e := range entries {
		perr := r.publish(ctx, e)
		if perr == nil {
			sent = append(sent, e.ID)
			continue
		}
		r.logger.Warn("outbox publish failed",
			zap.Int64("id", e.ID),
			zap.String("event_type", e.EventType),
			zap.Int("retry_count", e.RetryCount+1),
			zap.Error(perr))
		if _, err := tx.Exec(ctx, `
			UPDATE outbox
			SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
			WHERE id = $2`, perr.Error(), e.ID); err != nil {
			return 0, fmt.Errorf("record failure of entry %d: %w", e.ID, err)
		}
	}

	if err := markProcessed(ctx, tx, sent); err != nil {
		span.RecordError(err)
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("commit: %w", err)
	}

	span.SetAttributes(
		attribute.Int("outbox.read", len(entries)),
		attribute.Int("outbox.published", len(sent)))
	return len(entries), nil
}

func (r *Relay) publish(ctx context.Context, e *Entry) error {
	ctx, span := r.tracer.Start(ctx, "outbox.publish",
		trace.WithAttributes(
			attribute.Int64("outbox.id", e.ID),
			attribute.String("outbox.event_type", e.EventType),
			attribute.String("outbox.aggregate_id", e.AggregateID),
		))
	defer span.End()

	if err := r.publisher.Publish(ctx, e.Topic, e.Key, e.Payload); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func queryEntries(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]*Entry, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Entry, error) {
		var (
			e       Entry
			payload []byte
		)
		err := row.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &payload,
			&e.Topic, &e.Key, &e.CreatedAt, &e.RetryCount, &e.LastError)
		e.Payload = payload
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	return entries, nil
}

func markProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE outbox
		SET processed_at = NOW(), updated_at = NOW()
		WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// DeadLetter is the record published for an entry that ran out of retries.
type DeadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	RetryCount    int             `json:"retry_count"`
	LastError     string          `json:"last_error"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MoveToDeadLetter publishes entries that ran out of retries to the dead
// letter topic and marks them processed. It returns how many were moved.
func (r *Relay) MoveToDeadLetter(ctx context.Context) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	entries, err := queryEntries(ctx, tx, `
		SELECT `+entryColumns+`
		FROM outbox
		WHERE processed_at IS NULL AND retry_count >= $1
		FOR UPDATE SKIP LOCKED`,
		r.cfg.MaxRetries)
	if err != nil {
		return 0, err
	}

	var moved []int64
	for _, e := range entries {
		body, err := json.Marshal(DeadLetter{
			OriginalTopic: e.Topic,
			EventType:     e.EventType,
			AggregateID:   e.AggregateID,
			Payload:       e.Payload,
			RetryCount:    e.RetryCount,
			LastError:     e.LastError,
			CreatedAt:     e.CreatedAt,
		})
		if err != nil {
			r.logger.Error("dead letter encode failed", zap.Int64("id", e.ID), zap.Error(err))
			continue
		}
		if err := r.publisher.Publish(ctx, TopicDeadLetter, e.Key, body); err != nil {
			r.logger.Error("dead letter publish failed", zap.Int64("id", e.ID), zap.Error(err))
			continue
		}
		moved = append(moved, e.ID)
	}

	if err := markProcessed(ctx, tx, moved); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int64(len(moved)), nil
}

// CleanupProcessed deletes processed entries older than Retention.
func (r *Relay) CleanupProcessed(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM outbox
		WHERE processed_at < NOW() - make_interval(secs => $1)`,
		r.cfg.Retention.Seconds())
	if err != nil {
		return 0, fmt.Errorf("outbox cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats counts outbox entries by state.
type Stats struct {
	// Pending entries still have retries left.
	Pending int64
	// Processed counts entries processed in the last 24 hours.
	Processed int64
	// Exhausted entries wait for MoveToDeadLetter.
	Exhausted int64
}

// Stats returns current counts and reports Pending to the observer.
func (r *Relay) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count < $1),
			COUNT(*) FILTER (WHERE processed_at > NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count >= $1)
		FROM outbox`,
		r.cfg.MaxRetries,
	).Scan(&st.Pending, &st.Processed, &st.Exhausted)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	if r.observer != nil {
		r.observer.SetOutboxPending(st.Pending)
	}
	return &st, nil
}

package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsumerConfig configures a consumer group member.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string

	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	FetchMaxBytes     int32
	// FromStart makes a group without committed offsets read from the
	// beginning of each partition instead of the end.
	FromStart bool
}

// DefaultConsumerConfig returns defaults for the reminder command consumer.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:           []string{"localhost:9092"},
		GroupID:           "reminder-dispatcher",
		Topics:            []string{TopicReminderCommands},
		SessionTimeout:    30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		FetchMaxBytes:     8 << 20,
		FromStart:         true,
	}
}

// MessageHandler handles one record.
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// ConsumeObserver counts consumed records.
type ConsumeObserver interface {
	MessageConsumed(topic string)
}

// ConsumedMessage is a record handed to a MessageHandler.
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Consumer feeds records to a handler in partition order. Offsets are
// committed after every poll. A record whose handler fails is logged and
// skipped, so handlers must absorb errors they want retried.
type Consumer struct {
	client   *kgo.Client
	cfg      ConsumerConfig
	handler  MessageHandler
	observer ConsumeObserver
	logger   *zap.Logger
	tracer   trace.Tracer

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	read       atomic.Int64
	bytes      atomic.Int64
	failed     atomic.Int64
	lastCommit atomic.Int64
}

// NewConsumer joins cfg.GroupID. obs may be nil.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, obs ConsumeObserver, logger *zap.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("redpanda consumer: nil handler")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("redpanda consumer: no topics")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reset := kgo.NewOffset().AtEnd()
	if cfg.FromStart {
		reset = kgo.NewOffset().AtStart()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(reset),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.HeartbeatInterval(cfg.HeartbeatInterval),
		kgo.FetchMaxBytes(cfg.FetchMaxBytes),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, p map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", p))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, p map[string][]int32) {
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Warn("commit on revoke failed", zap.Error(err))
			}
			logger.Info("partitions revoked", zap.Any("partitions", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer: %w", err)
	}

	return &Consumer{
		client:   client,
		cfg:      cfg,
		handler:  handler,
		observer: obs,
		logger:   logger,
		tracer:   otel.Tracer("redpanda-consumer"),
		done:     make(chan struct{}),
	}, nil
}

// Start polls in the background until Stop.
func (c *Consumer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

// Stop ends polling, commits what was handled and leaves the group.
func (c *Consumer) Stop() error {
	var err error
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := c.client.CommitMarkedOffsets(ctx); cerr != nil {
			err = fmt.Errorf("final commit: %w", cerr)
		}
		c.client.Close()
	})
	return err
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	for ctx.Err() == nil {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.failed.Add(1)
			c.logger.Error("fetch failed",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
		})

		handled := 0
		fetches.EachRecord(func(r *kgo.Record) {
			c.handle(ctx, r)
			c.client.MarkCommitRecords(r)
			handled++
		})
		if handled == 0 {
			continue
		}
		if err := c.client.CommitMarkedOffsets(ctx); err != nil {
			c.logger.Error("offset commit failed", zap.Error(err))
			continue
		}
		c.lastCommit.Store(time.Now().UnixNano())
	}
}

func (c *Consumer) handle(ctx context.Context, r *kgo.Record) {
	ctx, span := c.tracer.Start(ExtractTraceContext(ctx, r), "consume "+r.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", r.Topic),
			attribute.Int64("messaging.kafka.partition", int64(r.Partition)),
			attribute.Int64("messaging.kafka.offset", r.Offset),
		))
	defer span.End()

	c.read.Add(1)
	c.bytes.Add(int64(len(r.Value)))
	if c.observer != nil {
		c.observer.MessageConsumed(r.Topic)
	}

	if err := c.handler(ctx, toMessage(r)); err != nil {
		c.failed.Add(1)
		span.RecordError(err)
		c.logger.Error("record handler failed, skipping",
			zap.String("topic", r.Topic),
			zap.Int32("partition", r.Partition),
			zap.Int64("offset", r.Offset),
			zap.Error(err))
	}
}

func toMessage(r *kgo.Record) *ConsumedMessage {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &ConsumedMessage{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}

// ConsumerStats are counters since NewConsumer.
type ConsumerStats struct {
	MessagesRead   int64
	BytesRead      int64
	ErrorCount     int64
	LastCommitTime time.Time
}

// Stats returns the current counters.
func (c *Consumer) Stats() ConsumerStats {
	st := ConsumerStats{
		MessagesRead: c.read.Load(),
		BytesRead:    c.bytes.Load(),
		ErrorCount:   c.failed.Load(),
	}
	if ns := c.lastCommit.Load(); ns > 0 {
		st.LastCommitTime = time.Unix(0, ns)
	}
	return st
}

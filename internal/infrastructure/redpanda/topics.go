package redpanda

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/infrastructure/postgres"
)

// Topic names. Prescription events and dead letters are written by the
// outbox relay; reminder commands by the reminder API.
const (
	TopicPrescriptionEvents = postgres.TopicPrescriptionEvents
	TopicDeadLetter         = postgres.TopicDeadLetter
	TopicReminderCommands   = "reminder.commands"
)

// TopicConfig describes a topic the services rely on.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Retention         time.Duration
}

// Configs renders the broker-side topic settings.
func (t TopicConfig) Configs() map[string]*string {
	return map[string]*string{
		"retention.ms":     kadm.StringPtr(strconv.FormatInt(t.Retention.Milliseconds(), 10)),
		"cleanup.policy":   kadm.StringPtr("delete"),
		"compression.type": kadm.StringPtr("lz4"),
	}
}

// DefaultTopicConfigs returns the topics the services expect. Replication is
// 1 for single-node development clusters.
func DefaultTopicConfigs() []TopicConfig {
	const day = 24 * time.Hour
	return []TopicConfig{
		// Keyed by user id.
		{Name: TopicPrescriptionEvents, Partitions: 6, ReplicationFactor: 1, Retention: 7 * day},
		// Long enough to cover a reminder scheduled for tomorrow.
		{Name: TopicReminderCommands, Partitions: 6, ReplicationFactor: 1, Retention: 2 * day},
		{Name: TopicDeadLetter, Partitions: 1, ReplicationFactor: 1, Retention: 30 * day},
	}
}

// Admin wraps the kadm client for topic and consumer group operations.
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates an admin client. Brokers are contacted lazily.
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("redpanda admin: %w", err)
	}
	return &Admin{client: kadm.NewClient(cl), logger: logger}, nil
}

// EnsureTopics creates every default topic that does not exist yet.
// Existing topics keep their settings.
func (a *Admin) EnsureTopics(ctx context.Context) error {
	return a.CreateTopics(ctx, DefaultTopicConfigs())
}

// CreateTopics creates the topics in topics that are missing.
func (a *Admin) CreateTopics(ctx context.Context, topics []TopicConfig) error {
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = t.Name
	}
	existing, err := a.client.ListTopics(ctx, names...)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	for _, t := range missingTopics(topics, existing) {
		resp, err := a.client.CreateTopic(ctx, t.Partitions, t.ReplicationFactor, t.Configs(), t.Name)
		if err == nil {
			err = resp.Err
		}
		switch {
		case errors.Is(err, kerr.TopicAlreadyExists):
			// Created concurrently by another service.
		case err != nil:
			return fmt.Errorf("create topic %s: %w", t.Name, err)
		default:
			a.logger.Info("topic created",
				zap.String("topic", t.Name),
				zap.Int32("partitions", t.Partitions),
				zap.Duration("retention", t.Retention))
		}
	}
	return nil
}

func missingTopics(topics []TopicConfig, existing kadm.TopicDetails) []TopicConfig {
	var out []TopicConfig
	for _, t := range topics {
		if d, ok := existing[t.Name]; ok && d.Err == nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// GroupLag returns the summed lag of groupID over all its partitions.
func (a *Admin) GroupLag(ctx context.Context, groupID string) (int64, error) {
	lags, err := a.client.Lag(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("group lag: %w", err)
	}
	l, ok := lags[groupID]
	if !ok {
		return 0, fmt.Errorf("group lag: group %s not described", groupID)
	}
	if l.Error() != nil {
		return 0, fmt.Errorf("group lag: %w", l.Error())
	}
	return l.Lag.Total(), nil
}

// Close releases the underlying client.
func (a *Admin) Close() {
	a.client.Close()
}

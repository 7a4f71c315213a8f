package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/medsnap/rxscan/internal/domain/reminder"
)

// Command actions.
const (
	ActionSchedule = "schedule"
	ActionCancel   = "cancel"
)

// ErrUnknownAction is returned for a command whose action is not recognised.
var ErrUnknownAction = errors.New("notify: unknown command action")

// Command is the message carried on the reminder command topic.
type Command struct {
	Action   string             `json:"action"`
	UserID   string             `json:"userId"`
	SlotID   reminder.SlotID    `json:"slotId"`
	Reminder *reminder.Reminder `json:"reminder,omitempty"`
}

// Publisher writes one record to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// KafkaDispatcher implements reminder.Dispatcher by publishing commands keyed
// by user id, so one user's commands stay ordered on a partition.
type KafkaDispatcher struct {
	publisher Publisher
	topic     string
}

// NewKafkaDispatcher creates a dispatcher writing to topic.
func NewKafkaDispatcher(publisher Publisher, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{publisher: publisher, topic: topic}
}

// Schedule implements reminder.Dispatcher.
func (d *KafkaDispatcher) Schedule(ctx context.Context, userID string, r reminder.Reminder) error {
	return d.publish(ctx, Command{Action: ActionSchedule, UserID: userID, SlotID: r.SlotID, Reminder: &r})
}

// Cancel implements reminder.Dispatcher.
func (d *KafkaDispatcher) Cancel(ctx context.Context, userID string, id reminder.SlotID) error {
	return d.publish(ctx, Command{Action: ActionCancel, UserID: userID, SlotID: id})
}

func (d *KafkaDispatcher) publish(ctx context.Context, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal reminder command: %w", err)
	}
	if err := d.publisher.Publish(ctx, d.topic, cmd.UserID, data); err != nil {
		return fmt.Errorf("publish reminder command: %w", err)
	}
	return nil
}

// Apply decodes a command and applies it to dispatcher.
func Apply(ctx context.Context, dispatcher reminder.Dispatcher, data []byte) error {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("decode reminder command: %w", err)
	}

	switch cmd.Action {
	case ActionSchedule:
		if cmd.Reminder == nil {
			return fmt.Errorf("schedule %s: missing reminder", cmd.SlotID)
		}
		return dispatcher.Schedule(ctx, cmd.UserID, *cmd.Reminder)
	case ActionCancel:
		return dispatcher.Cancel(ctx, cmd.UserID, cmd.SlotID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
}

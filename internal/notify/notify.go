// Package notify delivers medicine reminders. A Scheduler holds one timer per
// user and slot; a KafkaDispatcher forwards schedule and cancel commands to
// the process that runs the Scheduler.
package notify

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Title is the heading of every reminder notification.
const Title = "Medicine Reminder"

// Notification is what a Sender delivers when a reminder fires.
type Notification struct {
	UserID string
	// Tag is the slot id; a newer notification with the same tag replaces
	// the older one on the device.
	Tag   string
	Title string
	Body  string
}

// Sender delivers a notification to the user's devices.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Body renders the reminder text for the medicines due in a slot.
func Body(medicines []string) string {
	return "Time to take: " + strings.Join(medicines, ", ")
}

// LogSender writes notifications to the log. It stands in for a push
// gateway in development and in the reminder dispatcher's dry-run mode.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.logger.Info("reminder notification",
		zap.String("user_id", n.UserID),
		zap.String("tag", n.Tag),
		zap.String("title", n.Title),
		zap.String("body", n.Body))
	return nil
}

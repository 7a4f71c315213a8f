package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/domain/reminder"
)

type timerKey struct {
	userID string
	slotID reminder.SlotID
}

type pending struct {
	reminder reminder.Reminder
	timer    *time.Timer
}

// Scheduler fires reminders at their FireAt instant. Scheduling a slot that
// already has a timer replaces it.
type Scheduler struct {
	sender Sender
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	timers  map[timerKey]*pending
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler delivering through sender.
func NewScheduler(sender Sender, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		sender: sender,
		logger: logger,
		now:    time.Now,
		timers: make(map[timerKey]*pending),
	}
}

// Schedule implements reminder.Dispatcher.
func (s *Scheduler) Schedule(_ context.Context, userID string, r reminder.Reminder) error {
	key := timerKey{userID: userID, slotID: r.SlotID}
	delay := r.FireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}

	p := &pending{reminder: r}
	p.timer = time.AfterFunc(delay, func() { s.fire(key, p) })
	s.timers[key] = p

	s.logger.Debug("reminder scheduled",
		zap.String("user_id", userID),
		zap.String("slot_id", string(r.SlotID)),
		zap.Duration("delay", delay))
	return nil
}

// Cancel implements reminder.Dispatcher. Cancelling an unknown slot is a
// no-op.
func (s *Scheduler) Cancel(_ context.Context, userID string, id reminder.SlotID) error {
	key := timerKey{userID: userID, slotID: id}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.timers[key]; ok {
		p.timer.Stop()
		delete(s.timers, key)
		s.logger.Debug("reminder cancelled",
			zap.String("user_id", userID),
			zap.String("slot_id", string(id)))
	}
	return nil
}

// Pending returns the reminders still waiting to fire for userID, earliest
// first.
func (s *Scheduler) Pending(userID string) []reminder.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []reminder.Reminder
	for key, p := range s.timers {
		if key.userID == userID {
			out = append(out, p.reminder)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Stop cancels every pending timer and waits for in-flight deliveries.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) fire(key timerKey, p *pending) {
	s.mu.Lock()
	if cur, ok := s.timers[key]; !ok || cur != p || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	n := Notification{
		UserID: key.userID,
		Tag:    string(key.slotID),
		Title:  Title,
		Body:   Body(p.reminder.Medicines),
	}
	if err := s.sender.Send(context.Background(), n); err != nil {
		s.logger.Error("failed to deliver reminder",
			zap.String("user_id", key.userID),
			zap.String("slot_id", string(key.slotID)),
			zap.Error(err))
	}
}

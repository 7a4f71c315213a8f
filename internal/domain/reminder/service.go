package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/domain/medicine"
)

var (
	// ErrSlotNotFound is returned when no medicine is due at the requested slot.
	ErrSlotNotFound = errors.New("reminder: slot not found")
	// ErrRemindersDisabled is returned when enabling a notification while
	// medicine reminders are switched off in the user's settings.
	ErrRemindersDisabled = errors.New("reminder: medicine reminders are disabled")
)

// MedicineSource lists the stored medicines reminders are derived from.
type MedicineSource interface {
	ListMedicines(ctx context.Context, userID string) ([]medicine.Medicine, error)
}

// StateStore persists slot state per user.
type StateStore interface {
	Load(ctx context.Context, userID string, date time.Time) (map[SlotID]SlotState, error)
	Save(ctx context.Context, userID string, id SlotID, state SlotState) error
}

// Dispatcher hands reminders to the notification delivery system.
// Cancellation is keyed by slot id.
type Dispatcher interface {
	Schedule(ctx context.Context, userID string, r Reminder) error
	Cancel(ctx context.Context, userID string, id SlotID) error
}

// Reminder is the unit handed to a Dispatcher.
type Reminder struct {
	SlotID    SlotID    `json:"slotId"`
	Time      string    `json:"time"`
	FireAt    time.Time `json:"fireAt"`
	Medicines []string  `json:"medicines"`
}

// Settings are the user's notification preferences.
type Settings struct {
	MedicineReminders bool `json:"medicineReminders"`
	RefillAlerts      bool `json:"refillAlerts"`
	DailySummary      bool `json:"dailySummary"`
	SoundEnabled      bool `json:"soundEnabled"`
}

// DefaultSettings mirrors the preferences a new user starts with.
func DefaultSettings() Settings {
	return Settings{
		MedicineReminders: true,
		RefillAlerts:      true,
		DailySummary:      false,
		SoundEnabled:      true,
	}
}

// Observer receives reminder activity, typically metrics.
type Observer interface {
	DefaultFrequency()
	ReminderTaken()
	NotificationToggled(enabled bool)
}

// Day is the derived reminder view for one calendar date.
type Day struct {
	Date      string `json:"date"`
	Slots     []Slot `json:"slots"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Service derives and updates reminder slots. Slots are recomputed from the
// stored medicines and saved state on every call.
type Service struct {
	medicines  MedicineSource
	states     StateStore
	dispatcher Dispatcher
	settings   Settings
	location   *time.Location
	observer   Observer
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLocation sets the time zone reminders fire in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithSettings overrides DefaultSettings.
func WithSettings(settings Settings) Option {
	return func(s *Service) { s.settings = settings }
}

// WithObserver attaches an activity observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides the current-time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a reminder service.
func NewService(medicines MedicineSource, states StateStore, dispatcher Dispatcher, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		medicines:  medicines,
		states:     states,
		dispatcher: dispatcher,
		settings:   DefaultSettings(),
		location:   time.UTC,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Day returns the reminder slots for date.
func (s *Service) Day(ctx context.Context, userID string, date time.Time) (*Day, error) {
	slots, err := s.slots(ctx, userID, date)
	if err != nil {
		return nil, err
	}

	day := &Day{Date: date.Format(DateLayout), Slots: slots, Total: len(slots)}
	for _, sl := range slots {
		if sl.Taken {
			day.Completed++
		}
	}
	return day, nil
}

// MarkTaken acknowledges a slot and cancels any pending notification for it.
func (s *Service) MarkTaken(ctx context.Context, userID string, id SlotID) (*Slot, error) {
	slot, err := s.find(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	next := slot.State().MarkTaken()
	if err := s.states.Save(ctx, userID, id, next); err != nil {
		return nil, fmt.Errorf("save slot state: %w", err)
	}
	if err := s.dispatcher.Cancel(ctx, userID, id); err != nil {
		s.logger.Warn("cancel reminder failed",
			zap.String("slot_id", string(id)),
			zap.Error(err))
	}
	if s.observer != nil {
		s.observer.ReminderTaken()
	}

	slot.Taken, slot.NotificationEnabled = next.Taken, next.NotificationEnabled
	return slot, nil
}

// SetNotification switches delivery for a slot on or off.
func (s *Service) SetNotification(ctx context.Context, userID string, id SlotID, enabled bool) (*Slot, error) {
	if enabled && !s.settings.MedicineReminders {
		return nil, ErrRemindersDisabled
	}

	slot, err := s.find(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	next, err := slot.State().SetNotification(enabled)
	if err != nil {
		return nil, err
	}
	if err := s.states.Save(ctx, userID, id, next); err != nil {
		return nil, fmt.Errorf("save slot state: %w", err)
	}

	if next.NotificationEnabled {
		date, _, _ := ParseSlotID(id)
		r := Reminder{
			SlotID:    id,
			Time:      slot.Time,
			FireAt:    FireTime(slot.clock, date, s.now(), s.location),
			Medicines: append([]string(nil), slot.Medicines...),
		}
		if err := s.dispatcher.Schedule(ctx, userID, r); err != nil {
			return nil, fmt.Errorf("schedule reminder: %w", err)
		}
	} else if err := s.dispatcher.Cancel(ctx, userID, id); err != nil {
		return nil, fmt.Errorf("cancel reminder: %w", err)
	}
	if s.observer != nil {
		s.observer.NotificationToggled(next.NotificationEnabled)
	}

	slot.Taken, slot.NotificationEnabled = next.Taken, next.NotificationEnabled
	return slot, nil
}

// FireTime is the instant a slot's notification is delivered: the slot's
// clock time on its date while that is still ahead, otherwise the next
// occurrence of the clock time after now.
func FireTime(clock Clock, date time.Time, now time.Time, loc *time.Location) time.Time {
	if at := clock.On(date, loc); at.After(now) {
		return at
	}
	if loc != nil {
		now = now.In(loc)
	}
	at := clock.On(now, loc)
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

func (s *Service) slots(ctx context.Context, userID string, date time.Time) ([]Slot, error) {
	if date.IsZero() {
		return nil, ErrInvalidDate
	}

	meds, err := s.medicines.ListMedicines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list medicines: %w", err)
	}
	saved, err := s.states.Load(ctx, userID, date)
	if err != nil {
		return nil, fmt.Errorf("load slot state: %w", err)
	}

	for _, m := range meds {
		if MatchFrequency(m.Frequency).Name == DefaultRuleName {
			s.logger.Debug("frequency mapped by default rule",
				zap.String("medicine", m.Name),
				zap.String("frequency", m.Frequency))
			if s.observer != nil {
				s.observer.DefaultFrequency()
			}
		}
	}

	return BuildSlots(meds, date, saved)
}

func (s *Service) find(ctx context.Context, userID string, id SlotID) (*Slot, error) {
	date, _, err := ParseSlotID(id)
	if err != nil {
		return nil, err
	}
	slots, err := s.slots(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	slot, ok := FindSlot(slots, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, strings.TrimSpace(string(id)))
	}
	return &slot, nil
}

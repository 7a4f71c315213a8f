package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsnap/rxscan/internal/domain/medicine"
)

type fakeMedicines struct {
	meds []medicine.Medicine
	err  error
}

func (f *fakeMedicines) ListMedicines(context.Context, string) ([]medicine.Medicine, error) {
	return f.meds, f.err
}

type memoryStates struct {
	mu    sync.Mutex
	saved map[string]map[SlotID]SlotState
}

func newMemoryStates() *memoryStates {
	return &memoryStates{saved: map[string]map[SlotID]SlotState{}}
}

func (m *memoryStates) Load(_ context.Context, userID string, _ time.Time) (map[SlotID]SlotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[SlotID]SlotState{}
	for k, v := range m.saved[userID] {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStates) Save(_ context.Context, userID string, id SlotID, st SlotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved[userID] == nil {
		m.saved[userID] = map[SlotID]SlotState{}
	}
	m.saved[userID][id] = st
	return nil
}

type recordingDispatcher struct {
	scheduled []Reminder
	cancelled []SlotID
}

func (d *recordingDispatcher) Schedule(_ context.Context, _ string, r Reminder) error {
	d.scheduled = append(d.scheduled, r)
	return nil
}

func (d *recordingDispatcher) Cancel(_ context.Context, _ string, id SlotID) error {
	d.cancelled = append(d.cancelled, id)
	return nil
}

type countingObserver struct {
	defaults, taken, toggled int
}

func (o *countingObserver) DefaultFrequency()        { o.defaults++ }
func (o *countingObserver) ReminderTaken()           { o.taken++ }
func (o *countingObserver) NotificationToggled(bool) { o.toggled++ }

func newTestService(meds []medicine.Medicine, now time.Time, opts ...Option) (*Service, *memoryStates, *recordingDispatcher) {
	states := newMemoryStates()
	disp := &recordingDispatcher{}
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	svc := NewService(&fakeMedicines{meds: meds}, states, disp, nil, opts...)
	return svc, states, disp
}

func TestService_Day(t *testing.T) {
	meds := []medicine.Medicine{
		med("Ibuprofen", "200mg", "Twice daily"),
		med("Vitamin D", "1000IU", "Weekly"),
	}
	obs := &countingObserver{}
	svc, states, _ := newTestService(meds, testDate, WithObserver(obs))
	require.NoError(t, states.Save(context.Background(), "u1", "2026-10-18 9:00 PM", SlotState{Taken: true}))

	day, err := svc.Day(context.Background(), "u1", testDate)
	require.NoError(t, err)

	assert.Equal(t, "2026-10-18", day.Date)
	assert.Equal(t, 2, day.Total)
	assert.Equal(t, 1, day.Completed)
	assert.Equal(t, []string{"Ibuprofen 200mg", "Vitamin D 1000IU"}, day.Slots[0].Medicines)
	assert.Equal(t, 1, obs.defaults)
}

func TestService_Day_SourceError(t *testing.T) {
	svc := NewService(&fakeMedicines{err: errors.New("db down")}, newMemoryStates(), &recordingDispatcher{}, nil)
	_, err := svc.Day(context.Background(), "u1", testDate)
	assert.Error(t, err)
}

func TestService_MarkTaken(t *testing.T) {
	meds := []medicine.Medicine{med("Ibuprofen", "200mg", "Twice daily")}
	svc, states, disp := newTestService(meds, testDate)
	ctx := context.Background()

	_, err := svc.SetNotification(ctx, "u1", "2026-10-18 9:00 AM", true)
	require.NoError(t, err)

	slot, err := svc.MarkTaken(ctx, "u1", "2026-10-18 9:00 AM")
	require.NoError(t, err)
	assert.True(t, slot.Taken)
	assert.False(t, slot.NotificationEnabled)
	assert.Contains(t, disp.cancelled, SlotID("2026-10-18 9:00 AM"))

	saved, _ := states.Load(ctx, "u1", testDate)
	assert.Equal(t, SlotState{Taken: true}, saved["2026-10-18 9:00 AM"])

	// Idempotent.
	slot, err = svc.MarkTaken(ctx, "u1", "2026-10-18 9:00 AM")
	require.NoError(t, err)
	assert.True(t, slot.Taken)
}

func TestService_MarkTaken_UnknownSlot(t *testing.T) {
	meds := []medicine.Medicine{med("Ibuprofen", "200mg", "Twice daily")}
	svc, _, _ := newTestService(meds, testDate)

	_, err := svc.MarkTaken(context.Background(), "u1", "2026-10-18 3:00 AM")
	assert.ErrorIs(t, err, ErrSlotNotFound)

	_, err = svc.MarkTaken(context.Background(), "u1", "garbage")
	assert.ErrorIs(t, err, ErrInvalidSlotID)
}

func TestService_SetNotification_Schedules(t *testing.T) {
	meds := []medicine.Medicine{
		med("Ibuprofen", "200mg", "Twice daily"),
		med("Melatonin", "5mg", "At bedtime"),
	}
	now := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	svc, _, disp := newTestService(meds, now)

	slot, err := svc.SetNotification(context.Background(), "u1", "2026-10-18 9:00 PM", true)
	require.NoError(t, err)
	assert.True(t, slot.NotificationEnabled)

	require.Len(t, disp.scheduled, 1)
	r := disp.scheduled[0]
	assert.Equal(t, SlotID("2026-10-18 9:00 PM"), r.SlotID)
	assert.Equal(t, time.Date(2026, 10, 18, 21, 0, 0, 0, time.UTC), r.FireAt)
	assert.Equal(t, []string{"Ibuprofen 200mg", "Melatonin 5mg"}, r.Medicines)

	_, err = svc.SetNotification(context.Background(), "u1", "2026-10-18 9:00 PM", false)
	require.NoError(t, err)
	assert.Equal(t, []SlotID{"2026-10-18 9:00 PM"}, disp.cancelled)
}

func TestService_SetNotification_TakenSlot(t *testing.T) {
	meds := []medicine.Medicine{med("Ibuprofen", "200mg", "Twice daily")}
	svc, _, disp := newTestService(meds, testDate)
	ctx := context.Background()

	_, err := svc.MarkTaken(ctx, "u1", "2026-10-18 9:00 AM")
	require.NoError(t, err)

	_, err = svc.SetNotification(ctx, "u1", "2026-10-18 9:00 AM", true)
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.Empty(t, disp.scheduled)

	slot, err := svc.SetNotification(ctx, "u1", "2026-10-18 9:00 AM", false)
	require.NoError(t, err)
	assert.True(t, slot.Taken)
	assert.False(t, slot.NotificationEnabled)
}

func TestService_SetNotification_RemindersDisabled(t *testing.T) {
	meds := []medicine.Medicine{med("Ibuprofen", "200mg", "Twice daily")}
	settings := DefaultSettings()
	settings.MedicineReminders = false
	svc, _, _ := newTestService(meds, testDate, WithSettings(settings))

	_, err := svc.SetNotification(context.Background(), "u1", "2026-10-18 9:00 AM", true)
	assert.ErrorIs(t, err, ErrRemindersDisabled)

	_, err = svc.SetNotification(context.Background(), "u1", "2026-10-18 9:00 AM", false)
	assert.NoError(t, err)
}

func TestFireTime(t *testing.T) {
	nine := NewClock(9, 0)

	before := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC), FireTime(nine, testDate, before, time.UTC))

	after := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), FireTime(nine, testDate, after, time.UTC))

	exact := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), FireTime(nine, testDate, exact, time.UTC))
}

func TestFireTime_OldSlotFiresAtNextOccurrence(t *testing.T) {
	nine := NewClock(9, 0)
	lastWeek := testDate.AddDate(0, 0, -7)

	morning := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC), FireTime(nine, lastWeek, morning, time.UTC))

	evening := time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), FireTime(nine, lastWeek, evening, time.UTC))

	future := testDate.AddDate(0, 0, 3)
	assert.Equal(t, time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC), FireTime(nine, future, evening, time.UTC))
}

func TestFireTime_UsesLocationForToday(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 23:30 UTC on the 17th is 08:30 on the 18th in loc.
	now := time.Date(2026, 10, 17, 23, 30, 0, 0, time.UTC)
	got := FireTime(NewClock(9, 0), testDate.AddDate(0, 0, -2), now, loc)
	assert.True(t, got.Equal(time.Date(2026, 10, 18, 9, 0, 0, 0, loc)))
}

package reminder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsnap/rxscan/internal/domain/medicine"
)

var testDate = time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

func med(name, dosage, frequency string) medicine.Medicine {
	return medicine.Medicine{Name: name, Dosage: dosage, Frequency: frequency}
}

func TestBuildSlots_MergesByTime(t *testing.T) {
	meds := []medicine.Medicine{
		med("Amoxicillin", "500mg", "Three times daily"),
		med("Ibuprofen", "200mg", "Twice daily"),
		med("Melatonin", "3mg", "At bedtime"),
	}

	slots, err := BuildSlots(meds, testDate, nil)
	require.NoError(t, err)

	var times []string
	for _, s := range slots {
		times = append(times, s.Time)
	}
	// Melatonin's "3mg" dosage does not affect frequency matching.
	assert.Equal(t, []string{"8:00 AM", "9:00 AM", "2:00 PM", "8:00 PM", "9:00 PM"}, times)

	nine, ok := FindSlot(slots, NewSlotID(testDate, NewClock(21, 0)))
	require.True(t, ok)
	assert.Equal(t, []string{"Ibuprofen 200mg", "Melatonin 3mg"}, nine.Medicines)
	assert.False(t, nine.Taken)
	assert.False(t, nine.NotificationEnabled)
	assert.Equal(t, SlotID("2026-10-18 9:00 PM"), nine.ID)
	assert.Equal(t, "2026-10-18", nine.Date)
}

func TestBuildSlots_DeduplicatesLabels(t *testing.T) {
	meds := []medicine.Medicine{
		med("Aspirin", "81mg", "Once daily"),
		med("Aspirin", "81mg", "Once daily"),
	}
	slots, err := BuildSlots(meds, testDate, nil)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, []string{"Aspirin 81mg"}, slots[0].Medicines)
}

func TestBuildSlots_ChronologicalNotLexical(t *testing.T) {
	meds := []medicine.Medicine{med("A", "1mg", "four times daily")}
	built, err := BuildSlots(meds, testDate, nil)
	require.NoError(t, err)

	var times []string
	for _, s := range built {
		times = append(times, s.Time)
	}
	assert.Equal(t, []string{"8:00 AM", "12:00 PM", "4:00 PM", "8:00 PM"}, times)
	assert.True(t, NewClock(0, 0).Before(NewClock(12, 0)))
}

func TestBuildSlots_AppliesSavedState(t *testing.T) {
	meds := []medicine.Medicine{med("Ibuprofen", "200mg", "Twice daily")}
	saved := map[SlotID]SlotState{
		"2026-10-18 9:00 AM": {Taken: true, NotificationEnabled: true},
		"2026-10-18 9:00 PM": {NotificationEnabled: true},
		"2026-10-17 9:00 PM": {Taken: true},
	}

	slots, err := BuildSlots(meds, testDate, saved)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	assert.True(t, slots[0].Taken)
	assert.False(t, slots[0].NotificationEnabled)
	assert.False(t, slots[1].Taken)
	assert.True(t, slots[1].NotificationEnabled)
}

func TestBuildSlots_Stable(t *testing.T) {
	meds := []medicine.Medicine{
		med("A", "1mg", "twice"),
		med("B", "2mg", "three times"),
		med("C", "3mg", "four times"),
	}
	first, err := BuildSlots(meds, testDate, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := BuildSlots(meds, testDate, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuildSlots_StateSurvivesAddedMedicine(t *testing.T) {
	meds := []medicine.Medicine{
		med("Lisinopril", "10mg", "Once daily"),
		med("Vitamin D", "1000IU", "Every morning"),
	}
	first, err := BuildSlots(meds, testDate, nil)
	require.NoError(t, err)

	nineID := NewSlotID(testDate, NewClock(9, 0))
	nine, ok := FindSlot(first, nineID)
	require.True(t, ok)
	require.Len(t, nine.Medicines, 1)

	enabled, err := nine.State().SetNotification(true)
	require.NoError(t, err)
	saved := map[SlotID]SlotState{nineID: enabled}

	meds = append(meds, med("Aspirin", "81mg", "As directed"))
	second, err := BuildSlots(meds, testDate, saved)
	require.NoError(t, err)
	require.Len(t, second, 2)

	nine, ok = FindSlot(second, nineID)
	require.True(t, ok)
	assert.Equal(t, []string{"Lisinopril 10mg", "Aspirin 81mg"}, nine.Medicines)
	assert.True(t, nine.NotificationEnabled)
	assert.False(t, nine.Taken)

	morning, ok := FindSlot(second, NewSlotID(testDate, NewClock(8, 0)))
	require.True(t, ok)
	assert.False(t, morning.NotificationEnabled)
}

func TestBuildSlots_Empty(t *testing.T) {
	slots, err := BuildSlots(nil, testDate, nil)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestBuildSlots_InvalidDate(t *testing.T) {
	_, err := BuildSlots([]medicine.Medicine{med("A", "1", "")}, time.Time{}, nil)
	assert.True(t, errors.Is(err, ErrInvalidDate))
}

func TestParseSlotID(t *testing.T) {
	date, clock, err := ParseSlotID("2026-10-18 12:00 AM")
	require.NoError(t, err)
	assert.Equal(t, testDate, date)
	assert.Equal(t, NewClock(0, 0), clock)

	for _, bad := range []SlotID{"", "2026-10-18", "yesterday 9:00 AM", "2026-10-18 noon"} {
		_, _, err := ParseSlotID(bad)
		assert.ErrorIs(t, err, ErrInvalidSlotID, string(bad))
	}
}

package reminder

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/medsnap/rxscan/internal/domain/medicine"
)

// DateLayout is the calendar date format used in slot ids.
const DateLayout = "2006-01-02"

var (
	// ErrInvalidDate is returned when a slot computation is given no date.
	ErrInvalidDate = errors.New("reminder: invalid date")
	// ErrInvalidSlotID is returned for slot ids that do not parse.
	ErrInvalidSlotID = errors.New("reminder: invalid slot id")
)

// SlotID identifies a reminder slot by calendar date and time of day,
// e.g. "2026-10-18 9:00 AM". The medicines in the slot do not take part.
type SlotID string

// NewSlotID builds the id for clock on date's calendar day.
func NewSlotID(date time.Time, clock Clock) SlotID {
	return SlotID(date.Format(DateLayout) + " " + clock.String())
}

// ParseSlotID splits an id into its date and clock.
func ParseSlotID(id SlotID) (time.Time, Clock, error) {
	d, t, ok := strings.Cut(string(id), " ")
	if !ok {
		return time.Time{}, Clock{}, fmt.Errorf("%w: %q", ErrInvalidSlotID, id)
	}
	date, err := ParseDate(d)
	if err != nil {
		return time.Time{}, Clock{}, fmt.Errorf("%w: %q", ErrInvalidSlotID, id)
	}
	clock, err := ParseClock(t)
	if err != nil {
		return time.Time{}, Clock{}, fmt.Errorf("%w: %q", ErrInvalidSlotID, id)
	}
	return date, clock, nil
}

// ParseDate parses a yyyy-mm-dd date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// Slot is one date+time reminder covering every medicine due then.
type Slot struct {
	ID                  SlotID   `json:"id"`
	Date                string   `json:"date"`
	Time                string   `json:"time"`
	Medicines           []string `json:"medicines"`
	Taken               bool     `json:"taken"`
	NotificationEnabled bool     `json:"notificationEnabled"`

	clock Clock
}

// Clock returns the slot's time of day.
func (s Slot) Clock() Clock { return s.clock }

// State returns the slot's taken/notification state.
func (s Slot) State() SlotState {
	return SlotState{Taken: s.Taken, NotificationEnabled: s.NotificationEnabled}
}

// BuildSlots groups the reminder times of every medicine into one slot per
// time of day on date, ordered chronologically. Saved state is looked up by
// slot id; missing entries default to not taken and notifications off.
func BuildSlots(medicines []medicine.Medicine, date time.Time, saved map[SlotID]SlotState) ([]Slot, error) {
	if date.IsZero() {
		return nil, ErrInvalidDate
	}

	byClock := make(map[Clock]*Slot)
	for _, m := range medicines {
		label := m.Label()
		for _, c := range ClocksForFrequency(m.Frequency) {
			slot, ok := byClock[c]
			if !ok {
				id := NewSlotID(date, c)
				st := saved[id]
				slot = &Slot{
					ID:                  id,
					Date:                date.Format(DateLayout),
					Time:                c.String(),
					Medicines:           []string{},
					Taken:               st.Taken,
					NotificationEnabled: st.NotificationEnabled && !st.Taken,
					clock:               c,
				}
				byClock[c] = slot
			}
			if !contains(slot.Medicines, label) {
				slot.Medicines = append(slot.Medicines, label)
			}
		}
	}

	slots := make([]Slot, 0, len(byClock))
	for _, s := range byClock {
		slots = append(slots, *s)
	}
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].clock.Before(slots[j].clock)
	})
	return slots, nil
}

// FindSlot returns the slot with id.
func FindSlot(slots []Slot, id SlotID) (Slot, bool) {
	for _, s := range slots {
		if s.ID == id {
			return s, true
		}
	}
	return Slot{}, false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

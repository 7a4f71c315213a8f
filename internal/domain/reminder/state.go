package reminder

import "errors"

// ErrSlotTaken is returned when enabling notifications on a taken slot.
var ErrSlotTaken = errors.New("reminder: slot already taken")

// SlotState is the persisted per-slot state. A slot moves one way from
// pending to taken; taking it switches notifications off.
type SlotState struct {
	Taken               bool `json:"taken"`
	NotificationEnabled bool `json:"notificationEnabled"`
}

// MarkTaken acknowledges the slot.
func (s SlotState) MarkTaken() SlotState {
	return SlotState{Taken: true, NotificationEnabled: false}
}

// SetNotification switches notifications on or off. Taken slots cannot be
// switched on; switching them off is a no-op.
func (s SlotState) SetNotification(enabled bool) (SlotState, error) {
	if s.Taken {
		if enabled {
			return s, ErrSlotTaken
		}
		return SlotState{Taken: true}, nil
	}
	s.NotificationEnabled = enabled
	return s, nil
}

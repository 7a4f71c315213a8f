package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventPrescriptionSaved   EventType = "PrescriptionSaved"
	EventPrescriptionDeleted EventType = "PrescriptionDeleted"
)

// AggregateType tags outbox entries written by this package.
const AggregateType = "Prescription"

// Event is the envelope published for every prescription change.
type Event struct {
	ID          string          `json:"id"`
	AggregateID string          `json:"aggregate_id"`
	EventType   EventType       `json:"event_type"`
	UserID      string          `json:"user_id"`
	EventData   json.RawMessage `json:"event_data"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewEvent creates a new event
func NewEvent(aggregateID, userID string, eventType EventType, data any) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:          uuid.New().String(),
		AggregateID: aggregateID,
		EventType:   eventType,
		UserID:      userID,
		EventData:   eventData,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// SavedData describes a stored prescription.
type SavedData struct {
	PrescriptionID  string    `json:"prescription_id"`
	Medicines       []string  `json:"medicines"`
	ConfidenceScore int       `json:"confidence_score"`
	ScanDate        time.Time `json:"scan_date"`
}

// DeletedData describes a removed prescription.
type DeletedData struct {
	PrescriptionID string    `json:"prescription_id"`
	DeletedAt      time.Time `json:"deleted_at"`
}

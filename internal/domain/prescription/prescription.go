// Package prescription persists scanned prescriptions and emits their
// domain events through the transactional outbox.
package prescription

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medsnap/rxscan/internal/domain/medicine"
)

// ErrNotFound is returned when a prescription does not exist for the user.
var ErrNotFound = errors.New("prescription: not found")

// ErrInvalid is returned for prescriptions that cannot be stored.
var ErrInvalid = errors.New("prescription: invalid")

// Prescription is one stored scan result owned by a user.
type Prescription struct {
	ID              uuid.UUID           `json:"id"`
	UserID          string              `json:"userId"`
	Medicines       []medicine.Medicine `json:"medicines"`
	ConfidenceScore int                 `json:"confidenceScore"`
	RawText         string              `json:"rawText"`
	ImageURL        string              `json:"imageUrl,omitempty"`
	ScanDate        time.Time           `json:"scanDate"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// New builds a prescription from a scan result. Medicines are re-normalized
// so that stored records always carry defaults and sequential ids.
func New(userID string, result medicine.ScanResult, imageURL string, scanDate time.Time) (*Prescription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.Join(ErrInvalid, errors.New("user id is required"))
	}
	if scanDate.IsZero() {
		scanDate = time.Now()
	}

	return &Prescription{
		ID:              uuid.New(),
		UserID:          userID,
		Medicines:       medicine.FromRecords(result.Records()),
		ConfidenceScore: result.Confidence,
		RawText:         result.RawText,
		ImageURL:        strings.TrimSpace(imageURL),
		ScanDate:        scanDate.UTC(),
	}, nil
}

// MedicineNames returns the medicine names in order.
func (p *Prescription) MedicineNames() []string {
	out := make([]string, len(p.Medicines))
	for i, m := range p.Medicines {
		out[i] = m.Name
	}
	return out
}

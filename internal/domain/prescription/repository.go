package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/domain/medicine"
	"github.com/medsnap/rxscan/internal/infrastructure/postgres"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository stores prescriptions in PostgreSQL.
type Repository struct {
	db     DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger}
}

const selectColumns = `id, user_id, medicines, confidence_score, raw_text, image_url, scan_date, created_at`

// Save inserts p and records a PrescriptionSaved event in the same transaction.
func (r *Repository) Save(ctx context.Context, p *Prescription) error {
	records := make([]medicine.Record, len(p.Medicines))
	for i, m := range p.Medicines {
		records[i] = m.Record()
	}
	meds, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal medicines: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO prescriptions (id, user_id, medicines, confidence_score, raw_text, image_url, scan_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, query,
		p.ID, p.UserID, meds, p.ConfidenceScore, p.RawText, p.ImageURL, p.ScanDate,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	event, err := NewEvent(p.ID.String(), p.UserID, EventPrescriptionSaved, SavedData{
		PrescriptionID:  p.ID.String(),
		Medicines:       p.MedicineNames(),
		ConfidenceScore: p.ConfidenceScore,
		ScanDate:        p.ScanDate,
	})
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	if err := writeOutbox(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("prescription saved",
		zap.String("prescription_id", p.ID.String()),
		zap.Int("medicines", len(p.Medicines)))
	return nil
}

// List returns the user's prescriptions, newest scan first.
func (r *Repository) List(ctx context.Context, userID string) ([]*Prescription, error) {
	query := `SELECT ` + selectColumns + `
		FROM prescriptions
		WHERE user_id = $1
		ORDER BY scan_date DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	defer rows.Close()

	out := []*Prescription{}
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get returns one prescription owned by userID.
func (r *Repository) Get(ctx context.Context, userID string, id uuid.UUID) (*Prescription, error) {
	query := `SELECT ` + selectColumns + `
		FROM prescriptions
		WHERE id = $1 AND user_id = $2`

	p, err := scanPrescription(r.db.QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// Delete removes a prescription and records a PrescriptionDeleted event.
func (r *Repository) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM prescriptions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	event, err := NewEvent(id.String(), userID, EventPrescriptionDeleted, DeletedData{
		PrescriptionID: id.String(),
		DeletedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	if err := writeOutbox(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("prescription deleted", zap.String("prescription_id", id.String()))
	return nil
}

// ListMedicines returns every stored medicine for the user across all
// prescriptions, newest prescription first.
func (r *Repository) ListMedicines(ctx context.Context, userID string) ([]medicine.Medicine, error) {
	prescriptions, err := r.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []medicine.Medicine
	for _, p := range prescriptions {
		out = append(out, p.Medicines...)
	}
	return out, nil
}

func writeOutbox(ctx context.Context, tx pgx.Tx, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return postgres.WriteEntry(ctx, tx, &postgres.Entry{
		AggregateID:   event.AggregateID,
		AggregateType: AggregateType,
		EventType:     string(event.EventType),
		Payload:       payload,
		Topic:         postgres.TopicPrescriptionEvents,
		Key:           event.UserID,
	})
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	p := &Prescription{}
	var meds []byte
	err := row.Scan(&p.ID, &p.UserID, &meds, &p.ConfidenceScore, &p.RawText, &p.ImageURL, &p.ScanDate, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan prescription: %w", err)
	}

	var records []medicine.Record
	if len(meds) > 0 {
		if err := json.Unmarshal(meds, &records); err != nil {
			return nil, fmt.Errorf("decode medicines: %w", err)
		}
	}
	p.Medicines = medicine.FromRecords(records)
	return p, nil
}

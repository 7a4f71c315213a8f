package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/api/middleware"
	"github.com/medsnap/rxscan/internal/domain/medicine"
	"github.com/medsnap/rxscan/internal/domain/prescription"
)

// PrescriptionStore persists prescriptions per user.
type PrescriptionStore interface {
	Save(ctx context.Context, p *prescription.Prescription) error
	List(ctx context.Context, userID string) ([]*prescription.Prescription, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*prescription.Prescription, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
}

// PrescriptionHandler handles prescription endpoints
type PrescriptionHandler struct {
	store  PrescriptionStore
	logger *zap.Logger
}

// NewPrescriptionHandler creates a new handler
func NewPrescriptionHandler(store PrescriptionStore, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{store: store, logger: logger}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	return r
}

// CreateRequest is the request body for saving a scan
type CreateRequest struct {
	Medicines  []medicine.Record  `json:"medicines"`
	Confidence medicine.RawNumber `json:"confidence"`
	RawText    string             `json:"rawText"`
	ImageURL   string             `json:"imageUrl"`
	ScanDate   *time.Time         `json:"scanDate,omitempty"`
}

// Create handles POST /prescriptions
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("prescription-handler").Start(r.Context(), "create_prescription")
	defer span.End()

	var req CreateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result := medicine.ScanResult{
		Medicines:  medicine.FromRecords(req.Medicines),
		Confidence: medicine.ClampConfidence(req.Confidence),
		RawText:    req.RawText,
	}
	var scanDate time.Time
	if req.ScanDate != nil {
		scanDate = *req.ScanDate
	}

	p, err := prescription.New(middleware.GetUserID(ctx), result, req.ImageURL, scanDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("prescription_id", p.ID.String()),
		attribute.Int("medicines", len(p.Medicines)),
	)

	if err := h.store.Save(ctx, p); err != nil {
		span.RecordError(err)
		h.logger.Error("failed to save prescription", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save prescription")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// List handles GET /prescriptions
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.logger.Error("failed to list prescriptions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list prescriptions")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	p, err := h.store.Get(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Delete handles DELETE /prescriptions/{id}
func (h *PrescriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		h.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PrescriptionHandler) id(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid prescription id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *PrescriptionHandler) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, prescription.ErrNotFound) {
		writeError(w, http.StatusNotFound, "prescription not found")
		return
	}
	h.logger.Error("prescription store failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/druginfo"
)

// DrugValidator checks medicine names against drug databases.
type DrugValidator interface {
	Validate(ctx context.Context, name string) (*druginfo.DrugInfo, error)
	ValidateAll(ctx context.Context, names []string) []druginfo.BatchEntry
}

// MedicineHandler serves drug validation.
type MedicineHandler struct {
	validator DrugValidator
	logger    *zap.Logger
}

// NewMedicineHandler creates a handler.
func NewMedicineHandler(validator DrugValidator, logger *zap.Logger) *MedicineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MedicineHandler{validator: validator, logger: logger}
}

// Routes returns the handler routes
func (h *MedicineHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validate", h.Validate)
	return r
}

// ValidateRequest holds either one name or a batch.
type ValidateRequest struct {
	MedicineName string `json:"medicineName"`
	Medicines    []struct {
		Name string `json:"name"`
	} `json:"medicines"`
}

// ValidateResponse wraps validation results. Success is false when a single
// name was not found.
type ValidateResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// Validate handles POST /medicines/validate
func (h *MedicineHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch {
	case req.MedicineName != "":
		info, err := h.validator.Validate(r.Context(), req.MedicineName)
		if errors.Is(err, druginfo.ErrEmptyName) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			h.logger.Warn("medicine validation failed",
				zap.String("medicine", req.MedicineName),
				zap.Error(err))
			writeError(w, http.StatusBadGateway, druginfo.LookupFailMessage)
			return
		}
		writeJSON(w, http.StatusOK, ValidateResponse{Success: info.Validated, Data: info})

	case req.Medicines != nil:
		names := make([]string, len(req.Medicines))
		for i, m := range req.Medicines {
			names[i] = m.Name
		}
		writeJSON(w, http.StatusOK, ValidateResponse{Success: true, Data: h.validator.ValidateAll(r.Context(), names)})

	default:
		writeError(w, http.StatusBadRequest, "No medicine name or medicines array provided")
	}
}

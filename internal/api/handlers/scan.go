package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/api/middleware"
	"github.com/medsnap/rxscan/internal/domain/medicine"
	"github.com/medsnap/rxscan/internal/extraction"
	"github.com/medsnap/rxscan/pkg/circuitbreaker"
	"github.com/medsnap/rxscan/pkg/idempotency"
)

// Scanner runs a prescription scan.
type Scanner interface {
	Scan(ctx context.Context, userID, imageBase64 string) (*medicine.ScanResult, error)
}

// ScanHandler serves POST /scan.
type ScanHandler struct {
	scanner Scanner
	logger  *zap.Logger
}

// NewScanHandler creates a scan handler.
func NewScanHandler(scanner Scanner, logger *zap.Logger) *ScanHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanHandler{scanner: scanner, logger: logger}
}

// Routes returns the handler routes
func (h *ScanHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Scan)
	return r
}

// ScanRequest carries a base64 photo, optionally as a data URL.
type ScanRequest struct {
	Image string `json:"image"`
}

// Scan handles POST /scan
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.scanner.Scan(r.Context(), middleware.GetUserID(r.Context()), req.Image)
	if err != nil {
		code := scanStatus(err)
		if code >= http.StatusInternalServerError {
			h.logger.Error("scan failed",
				zap.String("request_id", middleware.GetRequestID(r.Context())),
				zap.Error(err))
		}
		writeError(w, code, scanMessage(err, code))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func scanStatus(err error) int {
	switch {
	case errors.Is(err, extraction.ErrNoImage), errors.Is(err, extraction.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, extraction.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, extraction.ErrQuotaExhausted):
		return http.StatusPaymentRequired
	case errors.Is(err, idempotency.ErrMessageInProgress):
		return http.StatusConflict
	case errors.Is(err, circuitbreaker.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, extraction.ErrUpstream), errors.Is(err, extraction.ErrNoResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func scanMessage(err error, code int) string {
	switch code {
	case http.StatusBadRequest:
		if errors.Is(err, extraction.ErrNoImage) {
			return extraction.ErrNoImage.Error()
		}
		return extraction.ErrInvalidImage.Error()
	case http.StatusTooManyRequests:
		return extraction.ErrRateLimited.Error()
	case http.StatusPaymentRequired:
		return extraction.ErrQuotaExhausted.Error()
	case http.StatusConflict:
		return "this image is already being scanned"
	case http.StatusServiceUnavailable:
		return "prescription scanning is temporarily unavailable"
	case http.StatusBadGateway:
		return "failed to process prescription"
	default:
		return "internal server error"
	}
}

// Package scan turns an uploaded prescription photo into a normalized
// ScanResult: AI extraction behind a circuit breaker, idempotent per user
// and image, followed by normalization.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/domain/medicine"
	"github.com/medsnap/rxscan/internal/extraction"
	"github.com/medsnap/rxscan/pkg/circuitbreaker"
	"github.com/medsnap/rxscan/pkg/idempotency"
)

const handlerName = "scan-prescription"

// Outcome labels reported to the Observer.
const (
	OutcomeSuccess        = "success"
	OutcomeDuplicate      = "duplicate"
	OutcomeRateLimited    = "rate_limited"
	OutcomeQuotaExhausted = "quota_exhausted"
	OutcomeUnavailable    = "unavailable"
	OutcomeInvalid        = "invalid"
	OutcomeError          = "error"
)

// Extractor reads a prescription image into a raw extraction.
type Extractor interface {
	Extract(ctx context.Context, img *extraction.Image) (*medicine.RawExtraction, error)
}

// Inbox deduplicates scans by idempotency key.
type Inbox interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// Observer records scan outcomes.
type Observer interface {
	ScanCompleted(outcome string, medicines int, took time.Duration)
}

// Service runs prescription scans.
type Service struct {
	extractor Extractor
	breaker   *circuitbreaker.CircuitBreaker
	inbox     Inbox
	observer  Observer
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithBreaker routes extraction calls through cb.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(s *Service) { s.breaker = cb }
}

// WithInbox makes repeated scans of the same image return the stored result.
func WithInbox(in Inbox) Option {
	return func(s *Service) { s.inbox = in }
}

// WithObserver attaches an outcome observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// NewService creates a scan service.
func NewService(extractor Extractor, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		extractor: extractor,
		logger:    logger,
		tracer:    otel.Tracer("scan"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type inboxPayload struct {
	UserID string `json:"user_id"`
	Digest string `json:"digest"`
	Format string `json:"format"`
}

// Scan decodes imageBase64, extracts and normalizes it.
func (s *Service) Scan(ctx context.Context, userID, imageBase64 string) (*medicine.ScanResult, error) {
	start := time.Now()

	img, err := extraction.DecodeImage(imageBase64)
	if err != nil {
		s.observe(OutcomeInvalid, 0, 0)
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "scan_prescription",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.String("image_digest", img.Digest()),
		))
	defer span.End()

	result, duplicate, err := s.run(ctx, userID, img)
	if err != nil {
		span.RecordError(err)
		s.observe(outcomeFor(err), 0, time.Since(start))
		s.logger.Warn("prescription scan failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, err
	}

	outcome := OutcomeSuccess
	if duplicate {
		outcome = OutcomeDuplicate
	}
	s.observe(outcome, len(result.Medicines), time.Since(start))
	span.SetAttributes(
		attribute.Int("medicines", len(result.Medicines)),
		attribute.Int("confidence", result.Confidence),
		attribute.Bool("duplicate", duplicate),
	)
	s.logger.Info("prescription scanned",
		zap.String("user_id", userID),
		zap.Int("medicines", len(result.Medicines)),
		zap.Int("confidence", result.Confidence),
		zap.Bool("duplicate", duplicate))
	return result, nil
}

func (s *Service) run(ctx context.Context, userID string, img *extraction.Image) (*medicine.ScanResult, bool, error) {
	if s.inbox == nil {
		r, err := s.extract(ctx, img)
		return r, false, err
	}

	payload, err := json.Marshal(inboxPayload{UserID: userID, Digest: img.Digest(), Format: img.Format})
	if err != nil {
		return nil, false, fmt.Errorf("marshal inbox payload: %w", err)
	}
	key := idempotency.GenerateKey(userID, img.Digest())

	res, err := s.inbox.Process(ctx, key, handlerName, payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		r, err := s.extract(ctx, img)
		if err != nil {
			return nil, err
		}
		return json.Marshal(r)
	})
	if err != nil {
		return nil, false, err
	}

	var result medicine.ScanResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return nil, false, fmt.Errorf("decode stored scan result: %w", err)
	}
	if result.Medicines == nil {
		result.Medicines = []medicine.Medicine{}
	}
	return &result, !res.IsNew && !res.WasRecovered, nil
}

func (s *Service) extract(ctx context.Context, img *extraction.Image) (*medicine.ScanResult, error) {
	call := func() (*medicine.RawExtraction, error) {
		return s.extractor.Extract(ctx, img)
	}

	var (
		raw *medicine.RawExtraction
		err error
	)
	if s.breaker != nil {
		raw, err = circuitbreaker.Do(ctx, s.breaker, call)
	} else {
		raw, err = call()
	}
	if err != nil {
		return nil, err
	}

	result := medicine.NormalizeExtraction(*raw)
	return &result, nil
}

func (s *Service) observe(outcome string, medicines int, took time.Duration) {
	if s.observer != nil {
		s.observer.ScanCompleted(outcome, medicines, took)
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, extraction.ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, extraction.ErrQuotaExhausted):
		return OutcomeQuotaExhausted
	case errors.Is(err, circuitbreaker.ErrUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}

// Package api assembles the medscan HTTP surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/api/handlers"
	"github.com/medsnap/rxscan/internal/api/middleware"
)

// Deps are the services behind the routes. Nil Metrics disables request
// counting and the /metrics endpoint.
type Deps struct {
	Scanner       handlers.Scanner
	Prescriptions handlers.PrescriptionStore
	Reminders     *handlers.ReminderHandler
	Validator     handlers.DrugValidator
	Health        *handlers.HealthHandler
	Metrics       interface {
		middleware.RequestObserver
		Handler() http.Handler
	}
	APIKeys     map[string]string
	ServiceName string
	Logger      *zap.Logger
}

// NewRouter builds the chi router.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(d.ServiceName))
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	if d.Health != nil {
		r.Get("/health", d.Health.Live)
		r.Get("/ready", d.Health.Ready)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(d.APIKeys))
		r.Mount("/scan", handlers.NewScanHandler(d.Scanner, logger).Routes())
		r.Mount("/prescriptions", handlers.NewPrescriptionHandler(d.Prescriptions, logger).Routes())
		if d.Reminders != nil {
			r.Mount("/reminders", d.Reminders.Routes())
		}
		r.Mount("/medicines", handlers.NewMedicineHandler(d.Validator, logger).Routes())
	})

	return r
}

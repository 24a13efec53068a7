// Package httpapi serves the operator dashboard's REST API.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/signalsfoundry/saarathi/internal/control"
	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/internal/observability"
)

// DefaultAllowedOrigins is the dashboard's development origin.
var DefaultAllowedOrigins = []string{"http://localhost:5173"}

// Options configure NewRouter. Controller is required.
type Options struct {
	Controller *control.Controller
	// Events serves the server-sent event stream at /api/events.
	Events http.Handler
	// Metrics records per-route request counts.
	Metrics *observability.RPCCollector
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	AllowedOrigins []string
	Log            logging.Logger
}

type api struct {
	ctl      *control.Controller
	validate *validator.Validate
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}
	a := &api{ctl: opts.Controller, validate: validator.New()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestContext(opts.Log, opts.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/stations", a.listStations)
		r.Get("/station", a.activeStation)
		r.Post("/station", a.selectStation)

		r.Get("/board", a.getBoard)
		r.Post("/board/refresh", a.refreshBoard)

		r.Get("/rules", a.listRules)
		r.Post("/rules", a.addRule)
		r.Delete("/rules", a.clearRules)
		r.Delete("/rules/{ruleID}", a.removeRule)
		r.Post("/rules/import", a.importScenario)
		r.Get("/rules/export", a.exportScenario)

		r.Get("/plan", a.lastPlan)
		r.Post("/plan", a.generatePlan)
		r.Post("/plan/{planID}/approve", a.approvePlan)
		r.Post("/predict", a.predict)

		r.Get("/audit", a.auditTrail)
		if opts.Events != nil {
			r.Handle("/events", opts.Events)
		}
	})
	return r
}

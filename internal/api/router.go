package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/theratime/scheduling-platform/pkg/logging"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	Logger             *logging.Logger
	Appointments       *AppointmentHandler
	JWTSecret          string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// NewRouter creates a Chi router with all routes configured.
func NewRouter(cfg *RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(RequestLogger(cfg.Logger))
	}

	// Public endpoints (health checks, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Tenant-scoped API routes
	r.Group(func(tenant chi.Router) {
		tenant.Use(TenantJWT(cfg.JWTSecret))

		tenant.Route("/appointments", func(r chi.Router) {
			r.Post("/", cfg.Appointments.Book)
			r.Post("/{appointmentID}/reschedule", cfg.Appointments.Reschedule)
			r.Post("/{appointmentID}/cancel", cfg.Appointments.Cancel)
		})
		tenant.Route("/calendar", func(r chi.Router) {
			r.Get("/", cfg.Appointments.Calendar)
			r.Post("/blocks", cfg.Appointments.Block)
		})
	})

	return r
}

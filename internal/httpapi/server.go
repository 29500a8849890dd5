package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coordinator/internal/auth"
	"coordinator/internal/breaker"
	"coordinator/internal/controlplane"
	"coordinator/internal/dispatch"
	"coordinator/internal/ingest"
	"coordinator/internal/query"
)

// Deps bundles every subsystem the HTTP surface dispatches into.
type Deps struct {
	ControlPlane *controlplane.API
	Dispatcher   *dispatch.Dispatcher
	Breakers     *breaker.Manager
	Ingest       *ingest.API
	IngestQueue  *ingest.Queue
	Query        *query.API
	Validator    *auth.Validator
	CORSOrigins  []string
}

// Server is the coordinator's chi-based HTTP transport.
type Server struct {
	Router    *chi.Mux
	startedAt time.Time
	deps      Deps
}

// NewServer builds the full route tree: control plane under /api/v1,
// routing plane's /dispatch alongside it, and the event plane under
// /api/v2.
func NewServer(deps Deps) *Server {
	s := &Server{Router: chi.NewRouter(), startedAt: time.Now(), deps: deps}

	s.Router.Use(RequestID)
	s.Router.Use(Logger)
	s.Router.Use(Metrics)
	s.Router.Use(chiRecoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Handle("/metrics", promhttp.Handler())

	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireScope(deps.Validator, auth.ScopeControlPlane))
		r.Post("/register", s.handleRegister)
		r.Post("/deregister", s.handleDeregister)
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Get("/registry", s.handleGetRegistry)
		r.Get("/health", s.handleGetHealth)
		r.Get("/stats", s.handleGetStats)
	})

	s.Router.Route("/api/v1/dispatch", func(r chi.Router) {
		r.Use(RequireScope(deps.Validator, auth.ScopeDispatch))
		r.Post("/", s.handleDispatch)
	})

	s.Router.Route("/api/v2", func(r chi.Router) {
		r.Use(RequireScope(deps.Validator, auth.ScopeIngest))
		r.Post("/interactions", s.handleInteractions)
	})

	s.Router.Route("/api/v2/interactions", func(r chi.Router) {
		r.Use(RequireScope(deps.Validator, auth.ScopeQuery))
		r.Get("/history", s.handleHistory)
		r.Get("/metrics", s.handleMetrics)
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.Router.ServeHTTP(w, r) }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	RespondOK(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chiRecoverer recovers panics in handlers into a 500 envelope rather than
// crashing the connection — a handler panic must never take the whole
// server down.
func chiRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				RespondErr(w, http.StatusInternalServerError, "internal_error", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

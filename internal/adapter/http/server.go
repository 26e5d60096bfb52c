package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Syncer runs polygon synchronization.
type Syncer interface {
	SyncParcel(ctx context.Context, parcel domain.Parcel) (domain.PolygonResult, error)
	SyncAll(ctx context.Context) (domain.SyncSummary, error)
}

// PolygonReader looks up stored polygons by parcel.
type PolygonReader interface {
	GetByParcelID(ctx context.Context, parcelID string) (domain.Polygon, error)
}

// EndpointManager exposes the resolved upstream endpoint and re-resolution.
type EndpointManager interface {
	Endpoint() (domain.ResolvedEndpoint, bool)
	Refresh(ctx context.Context) (string, error)
}

// Deps are the collaborators the API serves.
type Deps struct {
	Ready    ReadinessChecker
	Syncer   Syncer
	Records  domain.RecordStore
	Polygons PolygonReader
	Upstream EndpointManager
}

// Server exposes the sync API alongside health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server. syncPerMinute caps POST /sync per client
// IP; zero disables the limit.
func NewServer(addr string, deps Deps, syncPerMinute int, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     r,
			ReadTimeout: 10 * time.Second,
			// sync-all runs inside the request.
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(*http.Request, string) bool { return true },
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if syncPerMinute > 0 {
			r.Use(httprate.LimitByIP(syncPerMinute, time.Minute))
		}
		r.Post("/sync", s.handleSync)
	})

	r.Route("/parcels/{parcelID}", func(r chi.Router) {
		r.Get("/polygon", s.handlePolygon)
		r.Get("/records/{category}", s.handleHistory)
		r.Get("/records/{category}/latest", s.handleLatest)
	})

	r.Get("/upstream", s.handleUpstream)
	r.Post("/upstream/resolve", s.handleResolve)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}

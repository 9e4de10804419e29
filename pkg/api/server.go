package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dandytbermillo/annotation/pkg/log"
	"github.com/dandytbermillo/annotation/pkg/metrics"
	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Persistence is the service surface the HTTP layer exposes. Implemented
// by *service.Service.
type Persistence interface {
	Persist(ctx context.Context, docName string, payload []byte, clientID string) error
	Load(ctx context.Context, docName string) ([]byte, error)
	ReadAll(ctx context.Context, docName string) ([]types.UpdateRecord, error)
	ClearUpdates(ctx context.Context, docName string, before *time.Time) (int64, error)
	SaveSnapshot(ctx context.Context, docName string, blob []byte, panels []byte) (*types.SaveSnapshotResult, error)
	LoadSnapshot(ctx context.Context, docName, checksum string) (*types.Snapshot, error)
	PruneSnapshots(ctx context.Context, docName string, keep int) (int64, error)
	Compact(ctx context.Context, docName string, force bool) (*types.CompactResult, error)
	CompactStatus(ctx context.Context, docName string) (*types.CompactStatus, error)
	DeleteDoc(ctx context.Context, doc string, hard bool, confirm string) (*types.DeleteResult, error)
	HealthCheck(ctx context.Context) types.HealthStatus
}

// Server serves the persistence HTTP API.
type Server struct {
	svc    Persistence
	router *mux.Router
	http   *http.Server
	logger zerolog.Logger
}

// NewServer builds the router and handlers around svc.
func NewServer(svc Persistence) *Server {
	s := &Server{
		svc:    svc,
		logger: log.Component("api"),
	}

	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/persistence", s.handleAction).Methods(http.MethodPost)

	r.HandleFunc("/persistence/updates", s.handleGetUpdates).Methods(http.MethodGet)
	r.HandleFunc("/persistence/updates", s.handlePostUpdate).Methods(http.MethodPost)
	r.HandleFunc("/persistence/updates", s.handleDeleteUpdates).Methods(http.MethodDelete)

	r.HandleFunc("/persistence/snapshots", s.handleGetSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/persistence/snapshots", s.handlePostSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/persistence/snapshots", s.handleDeleteSnapshots).Methods(http.MethodDelete)

	r.HandleFunc("/persistence/compact", s.handlePostCompact).Methods(http.MethodPost)
	r.HandleFunc("/persistence/compact", s.handleGetCompact).Methods(http.MethodGet)

	r.HandleFunc("/notes/{noteID}", s.handleDeleteNote).Methods(http.MethodDelete)

	s.router = r
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("API server listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// instrument records request metrics per route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		timer.ObserveDurationVec(metrics.HTTPRequestDuration, route)
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Package server exposes the query pipeline over HTTP.
//
// The query endpoint streams events as server-sent events; everything
// else is plain JSON. Collaborators sit behind narrow interfaces so
// handler tests run against fakes and an in-memory store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kaolin-io/kaolin/lock"
	"github.com/kaolin-io/kaolin/log"
	"github.com/kaolin-io/kaolin/metrics"
	"github.com/kaolin-io/kaolin/runtime"
	"github.com/kaolin-io/kaolin/store"
	"github.com/kaolin-io/kaolin/types"
)

// QueryProcessor runs one query and streams its events. Implemented by
// runtime.Orchestrator.
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, req runtime.QueryRequest) <-chan types.StreamEvent
}

// Workspace is the file surface the HTTP layer needs. Implemented by
// workspace.Gateway.
type Workspace interface {
	List(ctx context.Context, sessionID string) ([]types.WorkspaceFile, error)
	Upload(ctx context.Context, sessionID, fileName string, body io.Reader, size int64) (types.WorkspaceFile, error)
	Download(ctx context.Context, sessionID, fileName string) (io.ReadCloser, error)
	DeleteAll(ctx context.Context, sessionID string) (int, error)
	PresignedURL(ctx context.Context, sessionID, fileName string) (string, error)
}

// Registrar records uploaded files as artifacts. Implemented by
// registry.Registry.
type Registrar interface {
	Register(ctx context.Context, sessionID, messageID string, file types.WorkspaceFile, metadata map[string]any) (types.Artifact, error)
}

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address (default :8080).
	Addr string
	// ShutdownTimeout bounds graceful shutdown (default 15s).
	ShutdownTimeout time.Duration
}

// Server routes HTTP requests into the pipeline.
type Server struct {
	processor QueryProcessor
	workspace Workspace
	registrar Registrar
	store     store.Store
	state     *lock.StateCache
	collector *metrics.Collector
	logger    *log.Logger
	cfg       Config
	mux       *http.ServeMux
}

// New creates a server. state and collector may be nil.
func New(processor QueryProcessor, ws Workspace, registrar Registrar, st store.Store, state *lock.StateCache, collector *metrics.Collector, logger *log.Logger, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = log.NewLogger("server")
	}

	s := &Server{
		processor: processor,
		workspace: ws,
		registrar: registrar,
		store:     st,
		state:     state,
		collector: collector,
		logger:    logger,
		cfg:       cfg,
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	s.mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("PATCH /api/v1/sessions/{id}", s.handleRenameSession)
	s.mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeleteSession)

	s.mux.HandleFunc("POST /api/v1/sessions/{id}/query", s.handleQuery)
	s.mux.HandleFunc("POST /api/v1/sessions/{id}/upload", s.handleUpload)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}/files", s.handleListFiles)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}/artifacts", s.handleListArtifacts)
	s.mux.HandleFunc("GET /api/v1/artifacts/{id}/download", s.handleDownloadArtifact)

	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening", map[string]any{"addr": s.cfg.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": types.Version})
}

// statsResponse is the JSON shape of the metrics snapshot.
type statsResponse struct {
	QueriesStarted      int64  `json:"queries_started"`
	QueriesCompleted    int64  `json:"queries_completed"`
	QueriesFailed       int64  `json:"queries_failed"`
	QueriesCancelled    int64  `json:"queries_cancelled"`
	QueriesRejected     int64  `json:"queries_rejected"`
	Iterations          int64  `json:"iterations"`
	SelfCorrections     int64  `json:"self_corrections"`
	BudgetExhausted     int64  `json:"budget_exhausted"`
	ArtifactsRegistered int64  `json:"artifacts_registered"`
	RegisterFailures    int64  `json:"register_failures"`
	Engine              string `json:"engine,omitempty"`
	Executor            string `json:"executor,omitempty"`
	Store               string `json:"store,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.collector.Snapshot()
	writeJSON(w, http.StatusOK, statsResponse{
		QueriesStarted:      snap.QueriesStarted,
		QueriesCompleted:    snap.QueriesCompleted,
		QueriesFailed:       snap.QueriesFailed,
		QueriesCancelled:    snap.QueriesCancelled,
		QueriesRejected:     snap.QueriesRejected,
		Iterations:          snap.Iterations,
		SelfCorrections:     snap.SelfCorrections,
		BudgetExhausted:     snap.BudgetExhausted,
		ArtifactsRegistered: snap.ArtifactsRegistered,
		RegisterFailures:    snap.RegisterFailures,
		Engine:              snap.Engine,
		Executor:            snap.Executor,
		Store:               snap.Store,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

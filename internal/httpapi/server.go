package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/subrelay/internal/jobs"
	"github.com/MimeLyc/subrelay/internal/persistence"
	"github.com/MimeLyc/subrelay/internal/session"
)

// Sessions is the part of the session registry the front-end drives.
type Sessions interface {
	Config() session.Config
	CanUpload(userID int64) bool
	PrepareUpload(userID int64, filename string, size int64) (session.Session, error)
	StartDownload(userID int64) (session.Session, error)
	CompleteDownload(userID int64) (session.Session, error)
	Snapshot(userID int64) (session.Session, bool)
	Cleanup(userID int64, force bool) session.CleanupResult
	Stats() session.Stats
}

type RunLister interface {
	ListRuns(ctx context.Context, userID int64, limit int) ([]persistence.Run, error)
}

// Gate decides whether a user may start a translation now.
type Gate interface {
	Allow(ctx context.Context, userID int64) (bool, error)
}

type GateFunc func(ctx context.Context, userID int64) (bool, error)

func (f GateFunc) Allow(ctx context.Context, userID int64) (bool, error) {
	return f(ctx, userID)
}

// AllowAll lets every user through.
var AllowAll Gate = GateFunc(func(context.Context, int64) (bool, error) { return true, nil })

type Server struct {
	sessions Sessions
	queue    *jobs.Queue
	runs     RunLister
	gate     Gate

	streamInterval time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithRunLister(runs RunLister) Option {
	return func(s *Server) {
		s.runs = runs
	}
}

func WithGate(gate Gate) Option {
	return func(s *Server) {
		if gate != nil {
			s.gate = gate
		}
	}
}

// WithStreamInterval sets how often the job event stream polls the queue.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(sessions Sessions, queue *jobs.Queue, opts ...Option) *Server {
	s := &Server{
		sessions:       sessions,
		queue:          queue,
		gate:           AllowAll,
		streamInterval: time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/users/{id}/uploads", s.handleUpload)
	s.mux.HandleFunc("GET /api/users/{id}/session", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/users/{id}/session", s.handleDeleteSession)
	s.mux.HandleFunc("GET /api/users/{id}/output", s.handleOutput)
	s.mux.HandleFunc("GET /api/users/{id}/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /api/jobs/{id}/events", s.handleJobStream)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
}

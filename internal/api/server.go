// Package api exposes the document library over HTTP with JSON bodies.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	treeline "github.com/treelinehq/treeline"
)

// Library is the subset of treeline.Library the handlers need.
type Library interface {
	Ingest(ctx context.Context, name, filename string, content []byte) (treeline.IngestResult, error)
	Query(ctx context.Context, docID, question string) (treeline.Answer, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, docID string) error
}

// ingestJob is one queued document upload.
type ingestJob struct {
	name     string
	filename string
	content  []byte
}

// Server routes document lifecycle requests to a Library. Uploads run on a
// background worker pool; everything else is handled on the request path.
type Server struct {
	lib          Library
	logger       *slog.Logger
	jobs         chan ingestJob
	workers      int
	queryTimeout time.Duration
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithServerLogger sets the logger for request and worker logging.
func WithServerLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWorkers sets the number of background ingest workers.
func WithWorkers(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithQueryTimeout bounds retrieve+synthesize per query request.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

// NewServer creates a Server and starts its ingest workers.
func NewServer(lib Library, opts ...Option) *Server {
	s := &Server{
		lib:          lib,
		logger:       treeline.NopLogger(),
		workers:      2,
		queryTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.jobs = make(chan ingestJob, s.workers*4)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.ingestWorker()
	}
	return s
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/documents", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.handleList(w, r)
		case http.MethodPost:
			s.handleUpload(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
	mux.HandleFunc("/documents/", s.handleDocument)
	return s.logRequests(mux)
}

// Close stops accepting uploads and waits for in-flight ingests to finish.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.jobs)
	})
	s.wg.Wait()
}

func (s *Server) ingestWorker() {
	defer s.wg.Done()
	for job := range s.jobs {
		start := time.Now()
		result, err := s.lib.Ingest(context.Background(), job.name, job.filename, job.content)
		if err != nil {
			s.logger.Error("api: ingest failed",
				"name", job.name,
				"filename", job.filename,
				"error", err)
			continue
		}
		s.logger.Info("api: ingest completed",
			"document_id", result.Document.ID,
			"chunks", result.Chunks,
			"leaves", result.Leaves,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// logRequests wraps the mux with slog request logging.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Package api serves the upload, status, document and chat HTTP endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"policyqa/internal/ingest"
	"policyqa/internal/metrics"
	"policyqa/internal/rag"
)

const (
	maxJSONBody     = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Enqueuer hands accepted documents to the pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, documentID string) error
}

type Config struct {
	Host           string
	Port           int
	CORSOrigins    []string
	RequestTimeout time.Duration // chat deadline; 0 disables
	MaxFiles       int           // per upload request
	MetricsPath    string        // empty disables /metrics

	Machine  *ingest.Machine
	Pipeline Enqueuer
	RAG      *rag.Service
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Version  string
}

type Server struct {
	host        string
	port        int
	corsOrigins map[string]bool
	corsAny     bool
	timeout     time.Duration
	maxFiles    int
	metricsPath string

	machine  *ingest.Machine
	pipeline Enqueuer
	rag      *rag.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger
	version  string
	started  time.Time

	server *http.Server
}

func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 20
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		corsOrigins: make(map[string]bool),
		timeout:     cfg.RequestTimeout,
		maxFiles:    cfg.MaxFiles,
		metricsPath: cfg.MetricsPath,
		machine:     cfg.Machine,
		pipeline:    cfg.Pipeline,
		rag:         cfg.RAG,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		version:     cfg.Version,
		started:     time.Now(),
	}
	for _, o := range cfg.CORSOrigins {
		if o == "*" {
			s.corsAny = true
		}
		s.corsOrigins[o] = true
	}
	return s
}

// Handler returns the full route table wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ping", s.handlePing)

	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}/status", s.handleStatus)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDelete)

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("DELETE /chat/sessions/{id}", s.handleClearSession)

	if s.metricsPath != "" && s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics.Handler())
	}

	return s.recoverer(s.cors(s.instrument(mux)))
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, fmt.Sprint(s.port))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("api server started", "addr", "http://"+s.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api server shutdown", "err", err)
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("api server stopped")
	return nil
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/audioscribe/internal/config"
	"github.com/snarg/audioscribe/internal/metrics"
)

// ServerOptions wires the HTTP server to the rest of the service. Optional
// dependencies are left nil when not configured.
type ServerOptions struct {
	Config       *config.Config
	Queue        JobQueue
	History      RunHistory
	Transcripts  TranscriptReader
	Live         EventSource
	Broker       BrokerStatus
	Inbox        InboxStatus
	Model        string
	MissingTools []string
	Version      string
	StartTime    time.Time
	Log          zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := NewRouter(opts)

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// NewRouter builds the route tree. It is separate from NewServer so tests can
// drive it with httptest.
func NewRouter(opts ServerOptions) chi.Router {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(opts.Log))
	r.Use(Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(CORS)

	// Health and metrics, no auth
	health := NewHealthHandler(HealthOptions{
		Queue:        opts.Queue,
		History:      opts.History,
		Broker:       opts.Broker,
		Inbox:        opts.Inbox,
		Storage:      opts.Transcripts,
		Model:        opts.Model,
		MissingTools: opts.MissingTools,
		HasAPIKey:    cfg.OpenAIAPIKey != "",
		Version:      opts.Version,
		StartTime:    opts.StartTime,
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", health.ServeHTTP)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			NewTranscriptionsHandler(opts.Queue, opts.History, opts.Transcripts, cfg.UploadDir, cfg.UploadLimitBytes, opts.Log).Routes(r)
			NewEventsHandler(opts.Live).Routes(r)
		})
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}

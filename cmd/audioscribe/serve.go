package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/snarg/audioscribe/internal/api"
	"github.com/snarg/audioscribe/internal/config"
	"github.com/snarg/audioscribe/internal/database"
	"github.com/snarg/audioscribe/internal/events"
	"github.com/snarg/audioscribe/internal/intake"
	"github.com/snarg/audioscribe/internal/media"
	"github.com/snarg/audioscribe/internal/metrics"
	"github.com/snarg/audioscribe/internal/mqttclient"
	"github.com/snarg/audioscribe/internal/storage"
	"github.com/snarg/audioscribe/internal/worker"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var overrides config.Overrides
	fs.StringVar(&overrides.EnvFile, "env", "", "path to .env file (default: .env)")
	fs.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	fs.StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&overrides.TempDir, "temp-dir", "", "directory for intermediate audio files")
	fs.StringVar(&overrides.InboxDir, "inbox", "", "watch this directory for new audio files")
	fs.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL for run history")
	fs.Parse(args)

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(os.Stdout, cfg.LogLevel)
	log.Info().Str("version", version).Msg("audioscribe starting")

	missing := media.CheckTools(cfg.FFprobePath, cfg.FFmpegPath)
	if len(missing) > 0 {
		log.Error().Strs("missing", missing).Msg("ffmpeg tools not found, transcriptions will fail")
	}
	if cfg.OpenAIAPIKey == "" {
		log.Error().Msg("OPENAI_API_KEY is not set, transcriptions will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, model := newPipeline(cfg, log)

	// Database (optional)
	var db *database.DB
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, database.Options{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DatabaseMaxConns,
			MinConns: cfg.DatabaseMinConns,
		}, dbLog)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	// Transcript store
	store, err := storage.New(cfg.S3, cfg.TranscriptDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		return fmt.Errorf("transcript storage: %w", err)
	}

	// Event bus, relayed to MQTT when a broker is configured
	bus := events.NewBus(1024)
	var mq *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mq, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			return fmt.Errorf("connect to mqtt broker: %w", err)
		}
		defer mq.Close()
		bus.AddSink(func(e events.Event) { mq.Publish(e.Type, e) })
	}

	// Worker
	poolOpts := worker.Options{
		Processor: proc,
		Store:     store,
		PublishEvent: func(eventType, jobID string, payload any) {
			bus.Publish(eventType, jobID, payload)
		},
		Model:     model,
		Workers:   1,
		QueueSize: cfg.QueueSize,
		Log:       log.With().Str("component", "worker").Logger(),
	}
	if db != nil {
		poolOpts.History = db
	}
	pool := worker.NewPool(poolOpts)
	pool.Start()
	defer pool.Stop()

	var pgPool *pgxpool.Pool
	if db != nil {
		pgPool = db.Pool
	}
	prometheus.MustRegister(metrics.NewCollector(pgPool, pool))

	// Inbox watcher (optional)
	var inbox *intake.Watcher
	if cfg.InboxDir != "" {
		inbox = intake.NewWatcher(intake.WatcherOptions{
			Dir: cfg.InboxDir,
			Submit: func(path string) error {
				_, err := pool.Enqueue(worker.Request{
					Source: path,
					Name:   filepath.Base(path),
					Origin: worker.OriginInbox,
				})
				return err
			},
			Backfill:      true,
			RetryInterval: cfg.InboxRetryInterval,
			Log:           log,
		})
		if err := inbox.Start(ctx); err != nil {
			return fmt.Errorf("start inbox watcher: %w", err)
		}
		defer inbox.Stop()
	}

	// HTTP Server
	srvOpts := api.ServerOptions{
		Config:       cfg,
		Queue:        pool,
		Transcripts:  store,
		Live:         bus,
		Model:        model,
		MissingTools: missing,
		Version:      version,
		StartTime:    startTime,
		Log:          log.With().Str("component", "http").Logger(),
	}
	if db != nil {
		srvOpts.History = db
	}
	if mq != nil {
		srvOpts.Broker = mq
	}
	if inbox != nil {
		srvOpts.Inbox = inbox
	}
	srv := api.NewServer(srvOpts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("audioscribe stopped")
	return serveErr
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/audioscribe/internal/config"
)

// ErrNotFound is returned by Open when no transcript exists for the key.
var ErrNotFound = errors.New("transcript not found")

// TranscriptStore abstracts where finished transcripts are written.
type TranscriptStore interface {
	// Save stores a transcript. key format: {job_id}.txt
	Save(ctx context.Context, key string, data []byte) error

	// Open returns a reader for a stored transcript, or ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Type returns "local" or "s3".
	Type() string
}

// New creates a TranscriptStore based on config. Returns an error if S3 is
// configured but unreachable.
func New(cfg config.S3Config, transcriptDir string, log zerolog.Logger) (TranscriptStore, error) {
	if !cfg.Enabled() {
		return NewLocalStore(transcriptDir), nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")
	return s3store, nil
}

// TranscriptKey returns the storage key for a job's transcript.
func TranscriptKey(jobID string) string {
	return jobID + ".txt"
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/snarg/audioscribe/internal/config"
	"github.com/snarg/audioscribe/internal/media"
	"github.com/snarg/audioscribe/internal/pipeline"
	"github.com/snarg/audioscribe/internal/transcribe"
)

var version = "dev"

const usage = `usage: audioscribe <command> [flags]

commands:
  transcribe [file]   transcribe one audio file and print the text
  serve               run the HTTP API, worker and inbox watcher
  version             print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "transcribe":
		err = runTranscribe(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Println(version)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newLogger builds the root logger from LOG_LEVEL.
func newLogger(w io.Writer, levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil || levelName == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}

// newPipeline wires the media tools and the transcription client into a
// pipeline. The model name is returned for job records.
func newPipeline(cfg *config.Config, log zerolog.Logger) (*pipeline.Pipeline, string) {
	client := transcribe.NewClient(transcribe.Options{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		Model:    cfg.WhisperModel,
		Language: cfg.WhisperLanguage,
		Timeout:  cfg.WhisperTimeout,
	})
	p := pipeline.New(
		media.NewProber(cfg.FFprobePath),
		media.NewSplitter(cfg.FFmpegPath),
		client,
		pipeline.Options{
			TempDir:         cfg.TempDir,
			ChunkLength:     cfg.ChunkSeconds,
			MaxUploadBytes:  cfg.MaxUploadBytes,
			MinutesPerChunk: cfg.MinutesPerChunk,
			Log:             log.With().Str("component", "pipeline").Logger(),
		},
	)
	return p, client.Model()
}

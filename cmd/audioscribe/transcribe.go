package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/snarg/audioscribe/internal/config"
	"github.com/snarg/audioscribe/internal/intake"
	"github.com/snarg/audioscribe/internal/media"
	"github.com/snarg/audioscribe/internal/pipeline"
)

// runTranscribe handles `audioscribe transcribe [file]`. Without a file
// argument the user is prompted for one on stdin. Logs go to stderr so the
// transcript on stdout can be piped.
func runTranscribe(args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	envFile := fs.String("env", "", "path to .env file (default: .env)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	tempDir := fs.String("temp-dir", "", "directory for intermediate audio files")
	outPath := fs.String("o", "", "write the transcript to this file instead of stdout")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: audioscribe transcribe [flags] [file]")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	cfg, err := config.Load(config.Overrides{
		EnvFile:  *envFile,
		LogLevel: *logLevel,
		TempDir:  *tempDir,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(os.Stderr, cfg.LogLevel)

	if missing := media.CheckTools(cfg.FFprobePath, cfg.FFmpegPath); len(missing) > 0 {
		return fmt.Errorf("required tools not found in PATH: %v", missing)
	}

	path := fs.Arg(0)
	if path == "" {
		path, err = intake.SelectFile(os.Stdin, os.Stderr)
		if err != nil {
			return err
		}
		if path == "" {
			log.Info().Msg("no file selected")
			return nil
		}
	} else if err := intake.Validate(path); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, model := newPipeline(cfg, log)
	log.Info().Str("file", path).Str("model", model).Msg("transcribing")

	res, err := p.Process(ctx, path, func(pr pipeline.Progress) {
		log.Info().
			Float64("percent", pr.Percent).
			Int("done", pr.Done).
			Int("total", pr.Total).
			Msg(pr.Status)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("transcription canceled")
		}
		return fmt.Errorf("%s error: %w", pipeline.ErrorKind(err), err)
	}

	log.Info().
		Float64("duration_s", res.Duration).
		Int("segments", res.Segments).
		Bool("chunked", res.Chunked).
		Dur("elapsed", res.Elapsed).
		Msg("done")

	if *outPath != "" {
		if err := os.WriteFile(*outPath, []byte(res.Text+"\n"), 0o644); err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}
		log.Info().Str("path", *outPath).Msg("transcript written")
		return nil
	}
	_, err = fmt.Fprintln(os.Stdout, res.Text)
	return err
}

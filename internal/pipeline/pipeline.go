// Package pipeline turns one audio file into text: it probes the duration,
// splits long recordings into bounded segments, transcribes them one at a
// time and reassembles the text.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/audioscribe/internal/media"
	"github.com/snarg/audioscribe/internal/metrics"
	"github.com/snarg/audioscribe/internal/transcribe"
)

// Prober reports the duration of a recording in seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Splitter produces normalized audio artifacts inside a run directory.
type Splitter interface {
	Split(ctx context.Context, src, dir string, total, chunkLength float64) ([]media.Segment, error)
	Normalize(ctx context.Context, src, dir string) (string, error)
}

// Transcriber returns the raw text of one audio artifact.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Options configures a Pipeline. Zero values fall back to the defaults of
// the remote service: 300s chunks, a 25 MiB upload cap, 5 minutes per chunk.
type Options struct {
	TempDir         string
	ChunkLength     float64
	MaxUploadBytes  int64
	MinutesPerChunk int
	Log             zerolog.Logger
}

// Result is the outcome of a successful run.
type Result struct {
	RunID    string        `json:"run_id"`
	Text     string        `json:"text"`
	Duration float64       `json:"duration"`
	Segments int           `json:"segments"`
	Chunked  bool          `json:"chunked"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Pipeline drives the prober, splitter and transcriber for one file at a time.
// Runs use their own temporary directory, so separate Process calls do not
// share any files.
type Pipeline struct {
	prober      Prober
	splitter    Splitter
	transcriber Transcriber
	opts        Options
	log         zerolog.Logger
}

// New creates a Pipeline from its three stages.
func New(prober Prober, splitter Splitter, transcriber Transcriber, opts Options) *Pipeline {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.ChunkLength <= 0 {
		opts.ChunkLength = media.DefaultChunkLength
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = transcribe.MaxUploadBytes
	}
	if opts.MinutesPerChunk <= 0 {
		opts.MinutesPerChunk = 5
	}
	return &Pipeline{
		prober:      prober,
		splitter:    splitter,
		transcriber: transcriber,
		opts:        opts,
		log:         opts.Log,
	}
}

// ChunkLength returns the segment length in seconds.
func (p *Pipeline) ChunkLength() float64 { return p.opts.ChunkLength }

// run carries per-run state through the stages.
type run struct {
	id    string
	src   string
	dir   string
	state State
	log   zerolog.Logger
}

func (r *run) enter(s State) {
	r.log.Debug().Str("from", r.state.String()).Str("to", s.String()).Msg("run state")
	r.state = s
}

// Process runs the pipeline for the recording at path and returns the
// trimmed transcript. onProgress may be nil; it is called from a separate
// goroutine, in order, and every event is delivered before Process returns.
//
// Errors from the stages are returned unchanged: *media.ProbeError,
// *media.SplitError, *SizeLimitError or *transcribe.Error. The run's
// temporary directory is removed on every return path.
func (p *Pipeline) Process(ctx context.Context, path string, onProgress ProgressFunc) (*Result, error) {
	start := time.Now()
	id := uuid.NewString()
	r := &run{
		id:    id,
		src:   path,
		dir:   filepath.Join(p.opts.TempDir, "audioscribe-"+id),
		state: StateIdle,
		log:   p.log.With().Str("run_id", id).Str("source", filepath.Base(path)).Logger(),
	}

	r.enter(StateProbing)
	duration, err := p.prober.Duration(ctx, path)
	if err != nil {
		return nil, p.fail(r, "", err)
	}
	r.log.Info().Float64("duration_s", duration).Msg("audio probed")

	// Nothing exists on disk before this point.
	defer p.cleanup(r)

	var (
		text     string
		segments int
		pathName string
	)
	if duration > p.opts.ChunkLength {
		pathName = "chunked"
		text, segments, err = p.processChunked(ctx, r, duration, onProgress)
	} else {
		pathName = "single"
		text, err = p.processWhole(ctx, r, onProgress)
		segments = 1
	}
	if err != nil {
		return nil, p.fail(r, pathName, err)
	}

	r.enter(StateDone)
	elapsed := time.Since(start)
	metrics.RunsTotal.WithLabelValues(pathName, "success").Inc()
	metrics.RunDuration.WithLabelValues(pathName).Observe(elapsed.Seconds())
	metrics.AudioSecondsTotal.Add(duration)

	result := &Result{
		RunID:    id,
		Text:     strings.TrimSpace(text),
		Duration: duration,
		Segments: segments,
		Chunked:  pathName == "chunked",
		Elapsed:  elapsed,
	}
	r.log.Info().
		Str("path", pathName).
		Int("segments", segments).
		Int("chars", len(result.Text)).
		Dur("elapsed", elapsed).
		Msg("transcription complete")
	return result, nil
}

// processChunked splits the recording and transcribes each segment in order.
// The returned text still carries the separator after the last segment.
func (p *Pipeline) processChunked(ctx context.Context, r *run, duration float64, onProgress ProgressFunc) (string, int, error) {
	r.enter(StateSplitting)
	segments, err := p.splitter.Split(ctx, r.src, r.dir, duration, p.opts.ChunkLength)
	if err != nil {
		return "", 0, err
	}
	r.log.Info().Int("segments", len(segments)).Float64("chunk_s", p.opts.ChunkLength).Msg("audio split")

	r.enter(StateTranscribingChunks)
	progress := newDispatcher(onProgress, len(segments))
	defer progress.close()

	total := len(segments)
	var sb strings.Builder
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}

		text, err := p.transcribe(ctx, seg.Path)
		if err != nil {
			return "", 0, err
		}
		sb.WriteString(text)
		sb.WriteByte(' ')

		if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
			r.log.Warn().Err(err).Str("segment", seg.Path).Msg("failed to remove segment")
		}

		done := i + 1
		progress.emit(Progress{
			RunID:   r.id,
			Percent: float64(done) / float64(total) * 100,
			Status:  chunkStatus(done, total, p.opts.MinutesPerChunk),
			Done:    done,
			Total:   total,
		})
		r.log.Debug().Int("segment", seg.Index).Int("done", done).Int("total", total).Msg("segment transcribed")
	}
	return sb.String(), total, nil
}

// processWhole normalizes the full recording and transcribes it in one request.
func (p *Pipeline) processWhole(ctx context.Context, r *run, onProgress ProgressFunc) (string, error) {
	r.enter(StateCompressingWhole)
	artifact, err := p.splitter.Normalize(ctx, r.src, r.dir)
	if err != nil {
		return "", err
	}

	fi, err := os.Stat(artifact)
	if err != nil {
		return "", fmt.Errorf("stat normalized audio: %w", err)
	}
	r.log.Debug().Int64("bytes", fi.Size()).Msg("audio normalized")
	if fi.Size() > p.opts.MaxUploadBytes {
		return "", &SizeLimitError{Path: artifact, Size: fi.Size(), Limit: p.opts.MaxUploadBytes}
	}

	r.enter(StateTranscribingWhole)
	progress := newDispatcher(onProgress, 1)
	defer progress.close()

	text, err := p.transcribe(ctx, artifact)
	if err != nil {
		return "", err
	}
	if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
		r.log.Warn().Err(err).Str("artifact", artifact).Msg("failed to remove normalized audio")
	}

	progress.emit(Progress{
		RunID:   r.id,
		Percent: 100,
		Status:  "Transcription complete",
		Done:    1,
		Total:   1,
	})
	return text, nil
}

func (p *Pipeline) transcribe(ctx context.Context, path string) (string, error) {
	start := time.Now()
	text, err := p.transcriber.Transcribe(ctx, path)
	metrics.TranscriptionRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	metrics.SegmentsTranscribedTotal.Inc()
	return text, nil
}

func (p *Pipeline) fail(r *run, pathName string, err error) error {
	r.log.Warn().Err(err).Str("kind", ErrorKind(err)).Str("state", r.state.String()).Msg("transcription failed")
	r.enter(StateFailed)
	if pathName == "" {
		pathName = "none"
	}
	metrics.RunsTotal.WithLabelValues(pathName, "failed").Inc()
	return err
}

// cleanup removes the run directory and anything still inside it.
func (p *Pipeline) cleanup(r *run) {
	if err := os.RemoveAll(r.dir); err != nil {
		r.log.Warn().Err(err).Str("dir", r.dir).Msg("failed to remove run directory")
	}
}

package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultChunkLength is the longest segment, in seconds, sent in one request.
const DefaultChunkLength = 300.0

// WholeFileName is the artifact name used when the recording is not split.
const WholeFileName = "converted-audio.wav"

// Window is a time range [Start, Start+Length) of a source recording, in seconds.
type Window struct {
	Start  float64
	Length float64
}

// End returns Start+Length.
func (w Window) End() float64 { return w.Start + w.Length }

// Segment is a normalized, time-bounded slice of a source recording on disk.
// It belongs to a single run and is removed once transcribed.
type Segment struct {
	Index  int
	Path   string
	Start  float64
	Length float64
}

// Plan divides total seconds into ceil(total/chunkLength) contiguous windows.
// Every window is chunkLength long except the last, which ends at total.
func Plan(total, chunkLength float64) []Window {
	if total <= 0 || chunkLength <= 0 {
		return nil
	}
	n := int(math.Ceil(total / chunkLength))
	windows := make([]Window, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * chunkLength
		windows = append(windows, Window{
			Start:  start,
			Length: math.Min(chunkLength, total-start),
		})
	}
	return windows
}

// SegmentName returns the file name of the i-th segment artifact.
func SegmentName(i int) string {
	return fmt.Sprintf("segment-%d.wav", i)
}

// Splitter produces normalized WAV artifacts with ffmpeg:
//   - mono, 16 kHz
//   - 32 kbps target bitrate
//   - volume gain 1.5x
type Splitter struct {
	ffmpegPath string
	runner     Runner
}

// NewSplitter creates a Splitter that shells out to ffmpegPath.
func NewSplitter(ffmpegPath string, opts ...Option) *Splitter {
	o := buildOptions(opts)
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Splitter{ffmpegPath: ffmpegPath, runner: o.runner}
}

// Split writes one normalized segment per Plan(total, chunkLength) window into
// dir, creating dir if needed. Segments are produced and returned in index
// order; each file is complete when returned. The first failure stops the
// split and is returned as a *SplitError.
func (s *Splitter) Split(ctx context.Context, src, dir string, total, chunkLength float64) ([]Segment, error) {
	windows := Plan(total, chunkLength)
	if len(windows) == 0 {
		return nil, &SplitError{Index: 0, Err: fmt.Errorf("nothing to split: duration %v, chunk length %v", total, chunkLength)}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &SplitError{Index: 0, Err: fmt.Errorf("mkdir %s: %w", dir, err)}
	}

	segments := make([]Segment, 0, len(windows))
	for i, w := range windows {
		out := filepath.Join(dir, SegmentName(i))
		args := []string{
			"-y",
			"-ss", formatSeconds(w.Start),
			"-t", formatSeconds(w.Length),
			"-i", src,
		}
		args = append(args, normalizeArgs(out)...)
		if err := s.encode(ctx, args, out); err != nil {
			return nil, &SplitError{Index: i, Path: out, Err: err}
		}
		segments = append(segments, Segment{
			Index:  i,
			Path:   out,
			Start:  w.Start,
			Length: w.Length,
		})
	}
	return segments, nil
}

// Normalize applies the segment transform to the whole recording and returns
// the artifact path inside dir. Failures are a *SplitError with Index -1.
func (s *Splitter) Normalize(ctx context.Context, src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &SplitError{Index: -1, Err: fmt.Errorf("mkdir %s: %w", dir, err)}
	}
	out := filepath.Join(dir, WholeFileName)
	args := append([]string{"-y", "-i", src}, normalizeArgs(out)...)
	if err := s.encode(ctx, args, out); err != nil {
		return "", &SplitError{Index: -1, Path: out, Err: err}
	}
	return out, nil
}

func (s *Splitter) encode(ctx context.Context, args []string, out string) error {
	if _, err := s.runner.Run(ctx, s.ffmpegPath, args); err != nil {
		os.Remove(out)
		return err
	}
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	return nil
}

// normalizeArgs is the output side of every ffmpeg invocation.
func normalizeArgs(out string) []string {
	return []string{
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", "32k",
		"-af", "volume=1.5",
		"-f", "wav",
		out,
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

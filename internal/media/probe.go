package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Prober reads the duration of a recording with ffprobe.
type Prober struct {
	ffprobePath string
	runner      Runner
}

// NewProber creates a Prober that shells out to ffprobePath.
func NewProber(ffprobePath string, opts ...Option) *Prober {
	o := buildOptions(opts)
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath, runner: o.runner}
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the total duration of the recording at path in seconds.
// Any failure is reported as a *ProbeError.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, &ProbeError{Path: path, Err: err}
	}
	if fi.IsDir() {
		return 0, &ProbeError{Path: path, Err: fmt.Errorf("is a directory")}
	}

	out, err := p.runner.Run(ctx, p.ffprobePath, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	})
	if err != nil {
		return 0, &ProbeError{Path: path, Err: err}
	}

	seconds, err := parseDuration(out)
	if err != nil {
		return 0, &ProbeError{Path: path, Err: err}
	}
	return seconds, nil
}

func parseDuration(out []byte) (float64, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %w", err)
	}
	raw := strings.TrimSpace(parsed.Format.Duration)
	if raw == "" || raw == "N/A" {
		return 0, ErrNoDuration
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNoDuration, raw)
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoDuration, raw)
	}
	return seconds, nil
}

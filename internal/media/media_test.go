package media

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// fakeRunner records invocations. For ffmpeg-style calls it writes a small
// file at the last argument (the output path) unless failAt matches.
type fakeRunner struct {
	stdout []byte
	err    error
	failAt int // 1-based call number to fail; 0 = never
	calls  [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.failAt > 0 && len(f.calls) == f.failAt {
		// Simulate a partially written artifact.
		os.WriteFile(args[len(args)-1], []byte("partial"), 0o644)
		return nil, errors.New("exit status 1: invalid data")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.stdout != nil {
		return f.stdout, nil
	}
	if err := os.WriteFile(args[len(args)-1], []byte("RIFF"), 0o644); err != nil {
		return nil, err
	}
	return nil, nil
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talk.mp3")
	if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ── Plan ─────────────────────────────────────────────────────────────

func TestPlan(t *testing.T) {
	tests := []struct {
		total   float64
		wantLen []float64
	}{
		{120, []float64{120}},
		{300, []float64{300}},
		{300.5, []float64{300, 0.5}},
		{600, []float64{300, 300}},
		{650, []float64{300, 300, 50}},
		{3600, []float64{300, 300, 300, 300, 300, 300, 300, 300, 300, 300, 300, 300}},
	}
	for _, tt := range tests {
		windows := Plan(tt.total, DefaultChunkLength)
		if len(windows) != len(tt.wantLen) {
			t.Errorf("Plan(%v): got %d windows, want %d", tt.total, len(windows), len(tt.wantLen))
			continue
		}
		for i, w := range windows {
			if w.Length != tt.wantLen[i] {
				t.Errorf("Plan(%v)[%d].Length = %v, want %v", tt.total, i, w.Length, tt.wantLen[i])
			}
		}
	}
}

func TestPlanCoversDurationExactly(t *testing.T) {
	for _, total := range []float64{0.25, 1, 299.999, 300, 301, 599.5, 650, 1234.567, 7200.001} {
		windows := Plan(total, DefaultChunkLength)
		want := int(math.Ceil(total / DefaultChunkLength))
		if len(windows) != want {
			t.Errorf("Plan(%v): %d windows, want %d", total, len(windows), want)
			continue
		}
		if windows[0].Start != 0 {
			t.Errorf("Plan(%v)[0].Start = %v, want 0", total, windows[0].Start)
		}
		for i := 1; i < len(windows); i++ {
			if windows[i].Start != windows[i-1].End() {
				t.Errorf("Plan(%v): window %d starts at %v, previous ends at %v", total, i, windows[i].Start, windows[i-1].End())
			}
		}
		last := windows[len(windows)-1]
		if last.End() != total {
			t.Errorf("Plan(%v): last window ends at %v", total, last.End())
		}
		wantLast := total - DefaultChunkLength*float64(want-1)
		if last.Length != wantLast {
			t.Errorf("Plan(%v): last length = %v, want %v", total, last.Length, wantLast)
		}
	}
}

func TestPlanEmpty(t *testing.T) {
	if w := Plan(0, 300); w != nil {
		t.Errorf("Plan(0) = %v, want nil", w)
	}
	if w := Plan(100, 0); w != nil {
		t.Errorf("Plan(100, 0) = %v, want nil", w)
	}
}

// ── Prober ───────────────────────────────────────────────────────────

func TestProberDuration(t *testing.T) {
	src := writeSource(t)
	r := &fakeRunner{stdout: []byte(`{"format":{"duration":"650.250000"}}`)}
	p := NewProber("ffprobe", WithRunner(r))

	got, err := p.Duration(context.Background(), src)
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if got != 650.25 {
		t.Errorf("Duration = %v, want 650.25", got)
	}
	if len(r.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(r.calls))
	}
	call := r.calls[0]
	if call[0] != "ffprobe" || call[len(call)-1] != src {
		t.Errorf("unexpected invocation %v", call)
	}
	if argValue(call, "-show_entries") != "format=duration" {
		t.Errorf("missing -show_entries format=duration in %v", call)
	}
}

func TestProberErrors(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		err    error
		noFile bool
	}{
		{name: "missing_file", noFile: true},
		{name: "ffprobe_fails", err: errors.New("ffprobe: exit status 1: Invalid data found")},
		{name: "not_json", stdout: "garbage"},
		{name: "no_duration", stdout: `{"format":{}}`},
		{name: "na_duration", stdout: `{"format":{"duration":"N/A"}}`},
		{name: "zero_duration", stdout: `{"format":{"duration":"0.000000"}}`},
		{name: "nan_duration", stdout: `{"format":{"duration":"nan"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeSource(t)
			if tt.noFile {
				src = filepath.Join(t.TempDir(), "missing.wav")
			}
			r := &fakeRunner{stdout: []byte(tt.stdout), err: tt.err}
			p := NewProber("ffprobe", WithRunner(r))

			_, err := p.Duration(context.Background(), src)
			var pe *ProbeError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *ProbeError", err)
			}
			if pe.Path != src {
				t.Errorf("ProbeError.Path = %q, want %q", pe.Path, src)
			}
			if tt.noFile && len(r.calls) != 0 {
				t.Error("ffprobe should not run for a missing file")
			}
		})
	}
}

// ── Splitter ─────────────────────────────────────────────────────────

func TestSplit(t *testing.T) {
	src := writeSource(t)
	dir := filepath.Join(t.TempDir(), "run")
	r := &fakeRunner{}
	s := NewSplitter("ffmpeg", WithRunner(r))

	segs, err := s.Split(context.Background(), src, dir, 650, DefaultChunkLength)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}

	wantStart := []string{"0", "300", "600"}
	wantLen := []string{"300", "300", "50"}
	for i, seg := range segs {
		if seg.Index != i {
			t.Errorf("segment %d: Index = %d", i, seg.Index)
		}
		if filepath.Base(seg.Path) != SegmentName(i) {
			t.Errorf("segment %d: Path = %q", i, seg.Path)
		}
		if _, err := os.Stat(seg.Path); err != nil {
			t.Errorf("segment %d: file missing: %v", i, err)
		}
		args := r.calls[i]
		if got := argValue(args, "-ss"); got != wantStart[i] {
			t.Errorf("segment %d: -ss = %q, want %q", i, got, wantStart[i])
		}
		if got := argValue(args, "-t"); got != wantLen[i] {
			t.Errorf("segment %d: -t = %q, want %q", i, got, wantLen[i])
		}
		if got := argValue(args, "-i"); got != src {
			t.Errorf("segment %d: -i = %q, want %q", i, got, src)
		}
		if argValue(args, "-ac") != "1" || argValue(args, "-ar") != "16000" ||
			argValue(args, "-b:a") != "32k" || argValue(args, "-af") != "volume=1.5" ||
			argValue(args, "-f") != "wav" {
			t.Errorf("segment %d: normalization args missing: %v", i, args)
		}
	}
	if segs[2].Start != 600 || segs[2].Length != 50 {
		t.Errorf("last segment = [%v, +%v), want [600, +50)", segs[2].Start, segs[2].Length)
	}
}

func TestSplitKeepsWindowPrecision(t *testing.T) {
	src := writeSource(t)
	r := &fakeRunner{}
	s := NewSplitter("ffmpeg", WithRunner(r))

	const total = 600.0004
	segs, err := s.Split(context.Background(), src, filepath.Join(t.TempDir(), "run"), total, DefaultChunkLength)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	windows := Plan(total, DefaultChunkLength)
	if len(segs) != len(windows) {
		t.Fatalf("segments = %d, want %d", len(segs), len(windows))
	}
	for i, w := range windows {
		args := r.calls[i]
		start, err := strconv.ParseFloat(argValue(args, "-ss"), 64)
		if err != nil || start != w.Start {
			t.Errorf("segment %d: -ss = %q, want exactly %v", i, argValue(args, "-ss"), w.Start)
		}
		length, err := strconv.ParseFloat(argValue(args, "-t"), 64)
		if err != nil || length != w.Length {
			t.Errorf("segment %d: -t = %q, want exactly %v", i, argValue(args, "-t"), w.Length)
		}
	}
	if got := argValue(r.calls[2], "-t"); got == "0" || got == "0.000" {
		t.Errorf("tail window rounded away: -t = %q", got)
	}
}

func TestSplitFailure(t *testing.T) {
	src := writeSource(t)
	dir := filepath.Join(t.TempDir(), "run")
	r := &fakeRunner{failAt: 2}
	s := NewSplitter("ffmpeg", WithRunner(r))

	segs, err := s.Split(context.Background(), src, dir, 900, DefaultChunkLength)
	if segs != nil {
		t.Errorf("segments = %v, want nil on failure", segs)
	}
	var se *SplitError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SplitError", err)
	}
	if se.Index != 1 {
		t.Errorf("SplitError.Index = %d, want 1", se.Index)
	}
	if !strings.Contains(err.Error(), "invalid data") {
		t.Errorf("error should carry the encoder failure, got %q", err)
	}
	if len(r.calls) != 2 {
		t.Errorf("calls = %d, want 2 (no retry, no further chunks)", len(r.calls))
	}
	if _, err := os.Stat(filepath.Join(dir, SegmentName(1))); !os.IsNotExist(err) {
		t.Error("partially written segment should be removed")
	}
}

func TestNormalize(t *testing.T) {
	src := writeSource(t)
	dir := filepath.Join(t.TempDir(), "run")
	r := &fakeRunner{}
	s := NewSplitter("ffmpeg", WithRunner(r))

	out, err := s.Normalize(context.Background(), src, dir)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out != filepath.Join(dir, WholeFileName) {
		t.Errorf("Normalize path = %q", out)
	}
	args := r.calls[0]
	if argValue(args, "-ss") != "" || argValue(args, "-t") != "" {
		t.Errorf("whole-file normalize must not time-bound: %v", args)
	}
	if argValue(args, "-af") != "volume=1.5" {
		t.Errorf("missing volume filter: %v", args)
	}

	r.failAt = 2
	_, err = s.Normalize(context.Background(), src, dir)
	var se *SplitError
	if !errors.As(err, &se) || se.Index != -1 {
		t.Fatalf("err = %v, want *SplitError with Index -1", err)
	}
}

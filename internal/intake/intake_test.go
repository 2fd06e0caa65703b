package intake

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSupported(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"talk.mp3", true},
		{"memo.M4A", true},
		{"/x/y/LECTURE.Wav", true},
		{"notes.txt", false},
		{"video.mp4", false},
		{"noext", false},
		{"archive.mp3.zip", false},
	}
	for _, tt := range tests {
		if got := Supported(tt.path); got != tt.want {
			t.Errorf("Supported(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSelectFile(t *testing.T) {
	dir := t.TempDir()
	audio := writeFile(t, dir, "my talk.mp3", "ID3")
	writeFile(t, dir, "notes.txt", "x")

	t.Run("valid_path", func(t *testing.T) {
		var out bytes.Buffer
		got, err := SelectFile(strings.NewReader(audio+"\n"), &out)
		if err != nil {
			t.Fatalf("SelectFile: %v", err)
		}
		if got != audio {
			t.Errorf("path = %q, want %q", got, audio)
		}
		if !strings.Contains(out.String(), "mp3, m4a, wav") {
			t.Errorf("prompt = %q, want accepted formats listed", out.String())
		}
	})

	t.Run("quoted_path", func(t *testing.T) {
		got, err := SelectFile(strings.NewReader(`"`+audio+`"`+"\n"), &bytes.Buffer{})
		if err != nil || got != audio {
			t.Errorf("SelectFile = %q, %v; want %q", got, err, audio)
		}
	})

	t.Run("escaped_spaces", func(t *testing.T) {
		in := strings.ReplaceAll(audio, " ", `\ `)
		got, err := SelectFile(strings.NewReader(in), &bytes.Buffer{})
		if err != nil || got != audio {
			t.Errorf("SelectFile = %q, %v; want %q", got, err, audio)
		}
	})

	t.Run("empty_is_cancel", func(t *testing.T) {
		got, err := SelectFile(strings.NewReader("\n"), &bytes.Buffer{})
		if err != nil || got != "" {
			t.Errorf("SelectFile = %q, %v; want cancel", got, err)
		}
	})

	t.Run("eof_is_cancel", func(t *testing.T) {
		got, err := SelectFile(strings.NewReader(""), &bytes.Buffer{})
		if err != nil || got != "" {
			t.Errorf("SelectFile = %q, %v; want cancel", got, err)
		}
	})

	t.Run("unsupported_extension", func(t *testing.T) {
		_, err := SelectFile(strings.NewReader(filepath.Join(dir, "notes.txt")+"\n"), &bytes.Buffer{})
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("err = %v, want ErrUnsupported", err)
		}
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := SelectFile(strings.NewReader(filepath.Join(dir, "gone.wav")+"\n"), &bytes.Buffer{})
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("err = %v, want not-exist", err)
		}
	})

	t.Run("directory_rejected", func(t *testing.T) {
		sub := filepath.Join(dir, "folder.wav")
		if err := os.Mkdir(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		if _, err := SelectFile(strings.NewReader(sub+"\n"), &bytes.Buffer{}); err == nil {
			t.Error("directory should be rejected")
		}
	})
}

type submissions struct {
	mu    sync.Mutex
	paths []string
}

func (s *submissions) submit(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return nil
}

func (s *submissions) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func waitForCount(t *testing.T, s *submissions, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.list(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d submissions, got %v", n, s.list())
	return nil
}

func TestWatcher(t *testing.T) {
	t.Run("submits_new_audio_once", func(t *testing.T) {
		dir := t.TempDir()
		var subs submissions
		w := NewWatcher(WatcherOptions{Dir: dir, Submit: subs.submit, Debounce: 30 * time.Millisecond, Log: zerolog.Nop()})
		if err := w.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer w.Stop()

		path := writeFile(t, dir, "call.wav", "RIFF....")
		writeFile(t, dir, "readme.txt", "ignore me")
		writeFile(t, dir, ".hidden.mp3", "ID3")

		got := waitForCount(t, &subs, 1)
		if got[0] != path {
			t.Errorf("submitted %q, want %q", got[0], path)
		}
		time.Sleep(150 * time.Millisecond)
		if n := len(subs.list()); n != 1 {
			t.Errorf("submissions = %d, want 1", n)
		}
		if s := w.Status(); s.Status != "watching" || s.FilesSubmitted != 1 {
			t.Errorf("Status = %+v", s)
		}
	})

	t.Run("backfill_existing_files", func(t *testing.T) {
		dir := t.TempDir()
		old := writeFile(t, dir, "old.mp3", "ID3")
		past := time.Now().Add(-time.Hour)
		if err := os.Chtimes(old, past, past); err != nil {
			t.Fatal(err)
		}
		newer := writeFile(t, dir, "newer.m4a", "ftyp")

		var subs submissions
		w := NewWatcher(WatcherOptions{Dir: dir, Submit: subs.submit, Debounce: 30 * time.Millisecond, Backfill: true, Log: zerolog.Nop()})
		if err := w.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer w.Stop()

		got := waitForCount(t, &subs, 2)
		if got[0] != old || got[1] != newer {
			t.Errorf("backfill order = %v, want oldest first", got)
		}
	})

	t.Run("failed_submit_is_retried_on_next_write", func(t *testing.T) {
		dir := t.TempDir()
		var mu sync.Mutex
		calls := 0
		submit := func(path string) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return errors.New("queue full")
			}
			return nil
		}
		w := NewWatcher(WatcherOptions{Dir: dir, Submit: submit, Debounce: 30 * time.Millisecond, Log: zerolog.Nop()})
		if err := w.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer w.Stop()

		path := writeFile(t, dir, "a.mp3", "ID3")
		deadline := time.Now().Add(3 * time.Second)
		for w.Status().FilesPending == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if err := os.WriteFile(path, []byte("ID3 again"), 0o644); err != nil {
			t.Fatal(err)
		}
		for w.Status().FilesSubmitted == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if s := w.Status(); s.FilesSubmitted != 1 || s.FilesPending != 0 {
			t.Errorf("Status = %+v, want one submission after retry", s)
		}
	})

	t.Run("rejected_files_are_offered_again", func(t *testing.T) {
		dir := t.TempDir()
		var paths []string
		for i, name := range []string{"a.mp3", "b.wav", "c.m4a"} {
			p := writeFile(t, dir, name, "audio")
			at := time.Now().Add(time.Duration(i-3) * time.Minute)
			if err := os.Chtimes(p, at, at); err != nil {
				t.Fatal(err)
			}
			paths = append(paths, p)
		}

		// The queue holds one file until capacity is raised.
		var mu sync.Mutex
		capacity := 1
		var accepted []string
		submit := func(path string) error {
			mu.Lock()
			defer mu.Unlock()
			if len(accepted) >= capacity {
				return errors.New("transcription queue is full")
			}
			accepted = append(accepted, path)
			return nil
		}
		acceptedCopy := func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), accepted...)
		}

		w := NewWatcher(WatcherOptions{
			Dir:           dir,
			Submit:        submit,
			Debounce:      30 * time.Millisecond,
			Backfill:      true,
			RetryInterval: 20 * time.Millisecond,
			Log:           zerolog.Nop(),
		})
		if err := w.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer w.Stop()

		deadline := time.Now().Add(3 * time.Second)
		for w.Status().FilesPending != 2 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if s := w.Status(); s.FilesSubmitted != 1 || s.FilesPending != 2 {
			t.Fatalf("Status = %+v, want 1 submitted and 2 pending", s)
		}

		mu.Lock()
		capacity = 10
		mu.Unlock()

		for len(acceptedCopy()) < 3 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		got := acceptedCopy()
		if len(got) != 3 {
			t.Fatalf("accepted = %v, want all 3 inbox files", got)
		}
		for i := range paths {
			if got[i] != paths[i] {
				t.Errorf("accepted[%d] = %q, want %q (oldest first)", i, got[i], paths[i])
			}
		}
		if s := w.Status(); s.FilesSubmitted != 3 || s.FilesPending != 0 || s.FilesSkipped != 0 {
			t.Errorf("Status = %+v, want 3 submitted, none pending or skipped", s)
		}
	})
}

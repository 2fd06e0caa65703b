package intake

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// SubmitFunc hands a ready file to the queue.
type SubmitFunc func(path string) error

// WatcherOptions configures an inbox Watcher.
type WatcherOptions struct {
	Dir    string
	Submit SubmitFunc
	// Debounce is how long a file must stay quiet before it is submitted.
	Debounce time.Duration
	// Backfill submits files already in the directory at start.
	Backfill bool
	// RetryInterval is how often files the queue turned away are offered again.
	RetryInterval time.Duration
	Log           zerolog.Logger
}

// WatcherStatus is reported on the health endpoint.
type WatcherStatus struct {
	Status         string `json:"status"`
	Dir            string `json:"dir"`
	FilesSubmitted int64  `json:"files_submitted"`
	FilesSkipped   int64  `json:"files_skipped"`
	FilesPending   int    `json:"files_pending"`
}

// Watcher monitors an inbox directory and submits each new audio file once.
// Dropping a recording into the directory is the server's drag-and-drop.
type Watcher struct {
	opts WatcherOptions
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	seenMu sync.Mutex
	seen   map[string]time.Time // path -> mod time when submitted

	// Files Submit rejected, offered again every RetryInterval, oldest first.
	retryMu sync.Mutex
	retry   map[string]time.Time
	retryWg sync.WaitGroup

	submitted atomic.Int64
	skipped   atomic.Int64
	status    atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

// NewWatcher creates an inbox watcher. Call Start to begin watching.
func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 15 * time.Second
	}
	w := &Watcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "inbox").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		seen:           make(map[string]time.Time),
		retry:          make(map[string]time.Time),
		done:           make(chan struct{}),
	}
	w.status.Store("starting")
	return w
}

// Start creates the directory if needed and begins watching it.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.opts.Dir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.log.Info().Str("dir", w.opts.Dir).Msg("inbox watcher initialized")

	go w.watchLoop()

	w.retryWg.Add(1)
	go w.retryLoop()

	if w.opts.Backfill {
		go w.backfill()
	} else {
		w.status.Store("watching")
	}
	return nil
}

// Stop closes the fsnotify watcher and cancels pending submissions.
func (w *Watcher) Stop() {
	w.status.Store("stopped")
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
		<-w.done
	}
	w.retryWg.Wait()

	w.debounceMu.Lock()
	for path, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()

	w.log.Info().
		Int64("files_submitted", w.submitted.Load()).
		Int64("files_skipped", w.skipped.Load()).
		Msg("inbox watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (w *Watcher) Status() WatcherStatus {
	s, _ := w.status.Load().(string)
	return WatcherStatus{
		Status:         s,
		Dir:            w.opts.Dir,
		FilesSubmitted: w.submitted.Load(),
		FilesSkipped:   w.skipped.Load(),
		FilesPending:   w.pendingCount(),
	}
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !candidate(event.Name) {
				continue
			}
			w.scheduleSubmit(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// candidate filters out hidden files, partial copies and other formats.
func candidate(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return Supported(path)
}

// scheduleSubmit waits until the file has been quiet for the debounce period
// so copies in progress are not picked up half written.
func (w *Watcher) scheduleSubmit(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.submit(path)
	})
}

func (w *Watcher) submit(path string) {
	if w.ctx.Err() != nil {
		return
	}
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
		w.dropRetry(path)
		w.skipped.Add(1)
		return
	}

	w.seenMu.Lock()
	if mt, ok := w.seen[path]; ok && mt.Equal(fi.ModTime()) {
		w.seenMu.Unlock()
		return
	}
	w.seen[path] = fi.ModTime()
	w.seenMu.Unlock()

	if err := w.opts.Submit(path); err != nil {
		// Forget it so a later write resubmits, and park it for the retry loop.
		w.seenMu.Lock()
		delete(w.seen, path)
		w.seenMu.Unlock()

		w.retryMu.Lock()
		_, again := w.retry[path]
		w.retry[path] = fi.ModTime()
		w.retryMu.Unlock()
		if !again {
			w.log.Warn().Err(err).Str("path", path).Dur("retry_in", w.opts.RetryInterval).Msg("inbox file not accepted, will retry")
		}
		return
	}
	w.dropRetry(path)
	w.submitted.Add(1)
	w.log.Info().Str("path", path).Int64("bytes", fi.Size()).Msg("inbox file submitted")
}

// backfill submits files that were already waiting, oldest first.
func (w *Watcher) backfill() {
	w.status.Store("backfilling")

	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.log.Warn().Err(err).Msg("backfill read failed")
		w.status.Store("watching")
		return
	}

	var files []fileEntry
	for _, e := range entries {
		if e.IsDir() || !candidate(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{path: filepath.Join(w.opts.Dir, e.Name()), modTime: info.ModTime()})
	}
	sortOldestFirst(files)

	for _, f := range files {
		if w.ctx.Err() != nil {
			return
		}
		w.submit(f.path)
	}
	w.status.Store("watching")
	w.log.Info().Int("files", len(files)).Msg("backfill complete")
}

type fileEntry struct {
	path    string
	modTime time.Time
}

func sortOldestFirst(files []fileEntry) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})
}

func (w *Watcher) retryLoop() {
	defer w.retryWg.Done()
	ticker := time.NewTicker(w.opts.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.retryPending()
		}
	}
}

// retryPending offers parked files again, oldest first. The round stops at
// the first rejection since the queue is still full.
func (w *Watcher) retryPending() {
	w.retryMu.Lock()
	files := make([]fileEntry, 0, len(w.retry))
	for path, mt := range w.retry {
		files = append(files, fileEntry{path: path, modTime: mt})
	}
	w.retryMu.Unlock()
	if len(files) == 0 {
		return
	}
	sortOldestFirst(files)

	for _, f := range files {
		if w.ctx.Err() != nil {
			return
		}
		w.submit(f.path)
		if w.isPending(f.path) {
			return
		}
	}
}

func (w *Watcher) dropRetry(path string) {
	w.retryMu.Lock()
	delete(w.retry, path)
	w.retryMu.Unlock()
}

func (w *Watcher) isPending(path string) bool {
	w.retryMu.Lock()
	defer w.retryMu.Unlock()
	_, ok := w.retry[path]
	return ok
}

func (w *Watcher) pendingCount() int {
	w.retryMu.Lock()
	defer w.retryMu.Unlock()
	return len(w.retry)
}

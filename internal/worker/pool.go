// Package worker runs queued transcription jobs through the pipeline and
// keeps their state for the API.
package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/audioscribe/internal/events"
	"github.com/snarg/audioscribe/internal/pipeline"
	"github.com/snarg/audioscribe/internal/storage"
)

var (
	ErrQueueFull = errors.New("transcription queue is full")
	ErrStopped   = errors.New("transcription queue is stopped")
)

// Options configures the worker pool.
type Options struct {
	Processor    Processor
	Store        TranscriptSaver // optional
	History      History         // optional
	PublishEvent EventPublishFunc
	Model        string
	Workers      int
	QueueSize    int
	// Retain is how many finished jobs stay in memory.
	Retain int
	Log    zerolog.Logger
}

// Pool manages transcription workers and the in-memory job table.
type Pool struct {
	jobs    chan string
	opts    Options
	log     zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool

	mu    sync.RWMutex
	byID  map[string]*Job
	order []string // oldest first

	running   atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a worker pool. Call Start to launch workers.
func NewPool(opts Options) *Pool {
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.Retain <= 0 {
		opts.Retain = 200
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:   make(chan string, opts.QueueSize),
		opts:   opts,
		log:    opts.Log,
		ctx:    ctx,
		cancel: cancel,
		byID:   make(map[string]*Job),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info().Int("workers", p.opts.Workers).Int("queue_size", p.opts.QueueSize).Msg("transcription worker pool started")
}

// Stop cancels the running job, fails anything still queued and waits for
// the workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("transcription worker pool stopped")
}

// Enqueue adds a job to the queue and returns a snapshot of it.
func (p *Pool) Enqueue(req Request) (Job, error) {
	job := &Job{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Origin:       req.Origin,
		Status:       StatusQueued,
		CreatedAt:    time.Now().UTC(),
		Source:       req.Source,
		RemoveSource: req.RemoveSource,
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return Job{}, ErrStopped
	}
	select {
	case p.jobs <- job.ID:
	default:
		p.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	p.byID[job.ID] = job
	p.order = append(p.order, job.ID)
	snap := *job
	p.mu.Unlock()

	p.log.Info().Str("job_id", job.ID).Str("name", job.Name).Str("origin", job.Origin).Msg("job queued")
	p.publish(events.TypeJobQueued, &snap)
	return snap, nil
}

// Get returns a snapshot of one job.
func (p *Pool) Get(id string) (Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	j, ok := p.byID[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns jobs newest first, without transcript text, plus the total.
func (p *Pool) List(limit, offset int) ([]Job, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := len(p.order)
	if offset < 0 {
		offset = 0
	}
	var out []Job
	for i := total - 1 - offset; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		j := *p.byID[p.order[i]]
		j.Text = ""
		out = append(out, j)
	}
	return out, total
}

// Stats returns current queue statistics.
func (p *Pool) Stats() QueueStats {
	return QueueStats{
		Pending:   p.Pending(),
		Running:   p.Running(),
		Completed: p.Completed(),
		Failed:    p.Failed(),
	}
}

func (p *Pool) Pending() int     { return len(p.jobs) }
func (p *Pool) Running() int     { return int(p.running.Load()) }
func (p *Pool) Completed() int64 { return p.completed.Load() }
func (p *Pool) Failed() int64    { return p.failed.Load() }

// Model returns the configured speech-to-text model name.
func (p *Pool) Model() string { return p.opts.Model }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for jobID := range p.jobs {
		p.processJob(log, jobID)
	}
}

func (p *Pool) processJob(log zerolog.Logger, jobID string) {
	log = log.With().Str("job_id", jobID).Logger()

	now := time.Now().UTC()
	snap, ok := p.update(jobID, func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = &now
		j.Message = "Starting transcription"
	})
	if !ok {
		return
	}

	if p.opts.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := p.opts.History.InsertRun(ctx, snap.runRow(p.opts.Model)); err != nil {
			log.Warn().Err(err).Msg("run history insert failed")
		}
		cancel()
	}

	if err := p.ctx.Err(); err != nil {
		p.finish(log, jobID, nil, err)
		return
	}

	p.running.Add(1)
	defer p.running.Add(-1)

	p.publish(events.TypeJobStarted, &snap)

	res, err := p.opts.Processor.Process(p.ctx, snap.Source, func(pr pipeline.Progress) {
		s, ok := p.update(jobID, func(j *Job) {
			j.Percent = pr.Percent
			j.Message = pr.Status
		})
		if ok {
			payload := s.summary()
			payload["message"] = pr.Status
			payload["done"] = pr.Done
			payload["total"] = pr.Total
			p.emit(events.TypeJobProgress, jobID, payload)
		}
	})
	p.finish(log, jobID, res, err)
}

// finish records the outcome, stores the transcript and cleans up the source.
func (p *Pool) finish(log zerolog.Logger, jobID string, res *pipeline.Result, runErr error) {
	var key string
	if runErr == nil && p.opts.Store != nil {
		k := storage.TranscriptKey(jobID)
		// The pool context may already be canceled on shutdown; the
		// transcript is done and worth keeping.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := p.opts.Store.Save(ctx, k, []byte(res.Text+"\n")); err != nil {
			log.Error().Err(err).Str("key", k).Msg("transcript save failed")
		} else {
			key = k
		}
		cancel()
	}

	done := time.Now().UTC()
	snap, ok := p.update(jobID, func(j *Job) {
		j.FinishedAt = &done
		if runErr != nil {
			j.Status = StatusFailed
			j.Error = runErr.Error()
			j.ErrorKind = pipeline.ErrorKind(runErr)
			j.Message = "Transcription failed"
			return
		}
		j.Status = StatusCompleted
		j.Percent = 100
		j.Message = "Transcription complete"
		j.Text = res.Text
		j.TranscriptKey = key
		j.Segments = res.Segments
		j.Duration = res.Duration
		j.Chunked = res.Chunked
	})
	if !ok {
		return
	}

	if snap.RemoveSource && snap.Source != "" {
		if err := os.Remove(snap.Source); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("source", snap.Source).Msg("failed to remove source file")
		}
	}

	if p.opts.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := p.opts.History.FinishRun(ctx, snap.runRow(p.opts.Model)); err != nil {
			log.Warn().Err(err).Msg("run history update failed")
		}
		cancel()
	}

	if runErr != nil {
		p.failed.Add(1)
		log.Warn().Err(runErr).Str("kind", snap.ErrorKind).Str("name", snap.Name).Msg("job failed")
		p.publish(events.TypeJobFailed, &snap)
	} else {
		p.completed.Add(1)
		log.Info().
			Str("name", snap.Name).
			Int("segments", snap.Segments).
			Float64("duration_s", snap.Duration).
			Str("transcript_key", key).
			Msg("job completed")
		p.publish(events.TypeJobCompleted, &snap)
	}
	p.trim()
}

// update applies fn to the job under the lock and returns a snapshot.
func (p *Pool) update(id string, fn func(*Job)) (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.byID[id]
	if !ok {
		return Job{}, false
	}
	fn(j)
	return *j, true
}

// trim drops the oldest finished jobs beyond the retention limit.
func (p *Pool) trim() {
	p.mu.Lock()
	defer p.mu.Unlock()

	finished := 0
	for _, id := range p.order {
		if p.byID[id].Status.Terminal() {
			finished++
		}
	}
	excess := finished - p.opts.Retain
	if excess <= 0 {
		return
	}
	kept := p.order[:0]
	for _, id := range p.order {
		if excess > 0 && p.byID[id].Status.Terminal() {
			delete(p.byID, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	p.order = kept
}

func (p *Pool) publish(eventType string, j *Job) {
	p.emit(eventType, j.ID, j.summary())
}

func (p *Pool) emit(eventType, jobID string, payload any) {
	if p.opts.PublishEvent != nil {
		p.opts.PublishEvent(eventType, jobID, payload)
	}
}

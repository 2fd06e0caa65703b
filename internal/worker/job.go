package worker

import (
	"context"
	"time"

	"github.com/snarg/audioscribe/internal/database"
	"github.com/snarg/audioscribe/internal/pipeline"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the job has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Origin says how a file reached the queue.
const (
	OriginUpload = "upload"
	OriginInbox  = "inbox"
)

// Job is one queued transcription and its observable state.
type Job struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Origin        string     `json:"origin"`
	Status        Status     `json:"status"`
	Percent       float64    `json:"percent"`
	Message       string     `json:"message,omitempty"`
	Text          string     `json:"text,omitempty"`
	TranscriptKey string     `json:"transcript_key,omitempty"`
	Error         string     `json:"error,omitempty"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	Segments      int        `json:"segments"`
	Duration      float64    `json:"duration"`
	Chunked       bool       `json:"chunked"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`

	// Source is the audio path on disk; RemoveSource deletes it when the job ends.
	Source       string `json:"-"`
	RemoveSource bool   `json:"-"`
}

// Request describes a file to enqueue.
type Request struct {
	Source       string
	Name         string
	Origin       string
	RemoveSource bool
}

// Processor turns one audio file into text. *pipeline.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, path string, onProgress pipeline.ProgressFunc) (*pipeline.Result, error)
}

// TranscriptSaver persists finished transcripts. storage.TranscriptStore implements it.
type TranscriptSaver interface {
	Save(ctx context.Context, key string, data []byte) error
}

// History records runs durably. *database.DB implements it.
type History interface {
	InsertRun(ctx context.Context, r *database.RunRow) error
	FinishRun(ctx context.Context, r *database.RunRow) error
}

// EventPublishFunc is a callback for publishing job events.
type EventPublishFunc func(eventType, jobID string, payload any)

// QueueStats reports the current state of the transcription queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Running   int   `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// summary is the event payload for lifecycle events. The transcript text is
// left out so MQTT and SSE messages stay small.
func (j *Job) summary() map[string]any {
	m := map[string]any{
		"id":      j.ID,
		"name":    j.Name,
		"origin":  j.Origin,
		"status":  j.Status,
		"percent": j.Percent,
	}
	if j.Status.Terminal() {
		m["segments"] = j.Segments
		m["duration"] = j.Duration
		m["chunked"] = j.Chunked
		m["chars"] = len(j.Text)
		if j.TranscriptKey != "" {
			m["transcript_key"] = j.TranscriptKey
		}
		if j.Error != "" {
			m["error"] = j.Error
			m["error_kind"] = j.ErrorKind
		}
	}
	return m
}

// runRow converts a job to its history row.
func (j *Job) runRow(model string) *database.RunRow {
	return &database.RunRow{
		ID:            j.ID,
		SourceName:    j.Name,
		Status:        string(j.Status),
		Chunked:       j.Chunked,
		Segments:      j.Segments,
		DurationS:     j.Duration,
		Model:         model,
		TranscriptKey: j.TranscriptKey,
		Text:          j.Text,
		ErrorKind:     j.ErrorKind,
		Error:         j.Error,
		CreatedAt:     j.CreatedAt,
		FinishedAt:    j.FinishedAt,
	}
}

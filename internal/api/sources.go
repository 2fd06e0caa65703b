package api

import (
	"context"
	"io"

	"github.com/snarg/audioscribe/internal/database"
	"github.com/snarg/audioscribe/internal/events"
	"github.com/snarg/audioscribe/internal/intake"
	"github.com/snarg/audioscribe/internal/worker"
)

// JobQueue is the worker pool as seen by the handlers.
type JobQueue interface {
	Enqueue(req worker.Request) (worker.Job, error)
	Get(id string) (worker.Job, bool)
	List(limit, offset int) ([]worker.Job, int)
	Stats() worker.QueueStats
}

// RunHistory is the durable run table. nil when no database is configured.
type RunHistory interface {
	GetRun(ctx context.Context, id string) (*database.RunRow, error)
	ListRuns(ctx context.Context, f database.RunFilter) ([]database.RunRow, int, error)
	HealthCheck(ctx context.Context) error
}

// TranscriptReader opens stored transcripts.
type TranscriptReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Type() string
}

// EventSource provides live and replayed events for SSE.
type EventSource interface {
	Subscribe(filter events.Filter) (<-chan events.Event, func())
	ReplaySince(lastEventID string, filter events.Filter) []events.Event
}

// BrokerStatus reports MQTT connectivity.
type BrokerStatus interface {
	IsConnected() bool
}

// InboxStatus reports the inbox watcher state.
type InboxStatus interface {
	Status() intake.WatcherStatus
}

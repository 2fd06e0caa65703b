// Package events fans job and progress events out to SSE subscribers and
// external sinks, keeping a ring buffer for replay on reconnect.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/snarg/audioscribe/internal/metrics"
)

// Event types published by the worker.
const (
	TypeJobQueued    = "job_queued"
	TypeJobStarted   = "job_started"
	TypeJobProgress  = "job_progress"
	TypeJobCompleted = "job_completed"
	TypeJobFailed    = "job_failed"
)

// Event is one published event as delivered to subscribers.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	JobID     string          `json:"job_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Filter restricts a subscription. Zero values match everything.
type Filter struct {
	Types []string
	JobID string
}

// SinkFunc receives every published event after subscribers.
type SinkFunc func(Event)

// Bus provides pub-sub event distribution.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	sinks       []SinkFunc
	nextID      uint64

	// ringMu guards seq as well, so ids enter the ring in order.
	seq      uint64
	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// NewBus creates an event bus with the given ring buffer size.
func NewBus(ringSize int) *Bus {
	if ringSize < 1 {
		ringSize = 1
	}
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// AddSink registers fn to receive every event. Sinks run on the publisher's
// goroutine and must not block.
func (b *Bus) AddSink(fn SinkFunc) {
	b.mu.Lock()
	b.sinks = append(b.sinks, fn)
	b.mu.Unlock()
}

// Subscribe registers a new subscriber and returns a channel and cancel function.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// ReplaySince returns buffered events published after lastEventID. When the
// ID has already left the ring, every buffered event is returned.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var all []Event
	after := -1
	for i := 0; i < b.ringSize; i++ {
		e := b.ring[(b.ringHead+i)%b.ringSize]
		if e.ID == "" {
			continue
		}
		if e.ID == lastEventID {
			after = len(all)
		}
		all = append(all, e)
	}
	if after >= 0 {
		all = all[after+1:]
	}

	var events []Event
	for _, e := range all {
		if matchesFilter(e, filter) {
			events = append(events, e)
		}
	}
	return events
}

// Publish sends an event to all matching subscribers and sinks and adds it to
// the ring buffer. Slow subscribers miss events rather than block the worker.
func (b *Bus) Publish(eventType, jobID string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}

	b.ringMu.Lock()
	b.seq++
	now := time.Now()
	event := Event{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), b.seq),
		Type:      eventType,
		Timestamp: now.UTC().Format(time.RFC3339),
		JobID:     jobID,
		Data:      data,
	}
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if matchesFilter(event, sub.filter) {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
	sinks := b.sinks
	b.mu.RUnlock()

	for _, fn := range sinks {
		fn(event)
	}
	metrics.EventsPublishedTotal.Inc()
	return event
}

func matchesFilter(e Event, f Filter) bool {
	if len(f.Types) > 0 {
		match := false
		for _, t := range f.Types {
			if strings.TrimSpace(t) == e.Type {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if f.JobID != "" && e.JobID != f.JobID {
		return false
	}
	return true
}

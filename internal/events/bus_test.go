package events

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// ── Publish/Subscribe ────────────────────────────────────────────────

func TestBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		defer cancel()

		b.Publish(TypeJobProgress, "job-1", map[string]any{"percent": 50})

		select {
		case evt := <-ch:
			if evt.Type != TypeJobProgress {
				t.Errorf("Type = %q, want %s", evt.Type, TypeJobProgress)
			}
			if evt.JobID != "job-1" {
				t.Errorf("JobID = %q, want job-1", evt.JobID)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]float64
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["percent"] != 50 {
				t.Errorf("percent = %v, want 50", payload["percent"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{Types: []string{TypeJobCompleted}})
		defer cancel()

		b.Publish(TypeJobQueued, "job-1", nil)

		select {
		case evt := <-ch:
			t.Fatalf("should not receive event, got %+v", evt)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("cancel_stops_delivery", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		cancel()
		if b.SubscriberCount() != 0 {
			t.Errorf("SubscriberCount = %d, want 0", b.SubscriberCount())
		}

		b.Publish(TypeJobQueued, "job-1", nil)

		select {
		case _, ok := <-ch:
			if ok {
				t.Fatal("should not receive event after cancel")
			}
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("slow_subscriber_does_not_block", func(t *testing.T) {
		b := NewBus(8)
		_, cancel := b.Subscribe(Filter{})
		defer cancel()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 200; i++ {
				b.Publish(TypeJobProgress, "job-1", i)
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Publish blocked on a full subscriber")
		}
	})

	t.Run("sink_receives_every_event", func(t *testing.T) {
		b := NewBus(8)
		var got []string
		b.AddSink(func(e Event) { got = append(got, e.Type) })

		b.Publish(TypeJobQueued, "a", nil)
		b.Publish(TypeJobFailed, "a", nil)

		if len(got) != 2 || got[0] != TypeJobQueued || got[1] != TypeJobFailed {
			t.Errorf("sink saw %v", got)
		}
	})
}

// ── ReplaySince ──────────────────────────────────────────────────────

func TestBusReplaySince(t *testing.T) {
	t.Run("replay_all_when_empty_lastID", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(TypeJobQueued, "a", nil)
		b.Publish(TypeJobStarted, "a", nil)

		if events := b.ReplaySince("", Filter{}); len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
	})

	t.Run("replay_after_specific_id", func(t *testing.T) {
		b := NewBus(64)
		first := b.Publish(TypeJobQueued, "a", nil)
		b.Publish(TypeJobStarted, "a", nil)

		events := b.ReplaySince(first.ID, Filter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
		if events[0].Type != TypeJobStarted {
			t.Errorf("Type = %q, want %s", events[0].Type, TypeJobStarted)
		}
	})

	t.Run("replay_with_job_filter", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(TypeJobQueued, "a", nil)
		b.Publish(TypeJobQueued, "b", nil)

		events := b.ReplaySince("", Filter{JobID: "b"})
		if len(events) != 1 || events[0].JobID != "b" {
			t.Fatalf("got %+v, want one event for job b", events)
		}
	})

	t.Run("unknown_lastID_replays_all", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(TypeJobQueued, "a", nil)

		if events := b.ReplaySince("nonexistent-id", Filter{}); len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
	})

	t.Run("concurrent_publish_keeps_ring_ordered", func(t *testing.T) {
		const publishers, each = 8, 50
		b := NewBus(publishers * each)
		var wg sync.WaitGroup
		for p := 0; p < publishers; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < each; i++ {
					b.Publish(TypeJobProgress, "a", i)
				}
			}()
		}
		wg.Wait()

		events := b.ReplaySince("", Filter{})
		if len(events) != publishers*each {
			t.Fatalf("got %d events, want %d", len(events), publishers*each)
		}
		var prev uint64
		for i, e := range events {
			_, s, ok := strings.Cut(e.ID, "-")
			if !ok {
				t.Fatalf("malformed id %q", e.ID)
			}
			seq, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				t.Fatalf("id %q: %v", e.ID, err)
			}
			if seq != prev+1 {
				t.Fatalf("events[%d] seq = %d after %d, want %d", i, seq, prev, prev+1)
			}
			prev = seq
		}
	})

	t.Run("ring_wraps_in_order", func(t *testing.T) {
		b := NewBus(3)
		for i := 0; i < 5; i++ {
			b.Publish(TypeJobProgress, "a", i)
		}
		events := b.ReplaySince("", Filter{})
		if len(events) != 3 {
			t.Fatalf("got %d events, want 3", len(events))
		}
		for i, e := range events {
			var n int
			if err := json.Unmarshal(e.Data, &n); err != nil {
				t.Fatal(err)
			}
			if n != i+2 {
				t.Errorf("events[%d] = %d, want %d", i, n, i+2)
			}
		}
	})
}

func TestMatchesFilter(t *testing.T) {
	tests := []struct {
		name   string
		event  Event
		filter Filter
		want   bool
	}{
		{"empty_filter_matches_all", Event{Type: TypeJobQueued, JobID: "a"}, Filter{}, true},
		{"type_match", Event{Type: TypeJobQueued}, Filter{Types: []string{TypeJobQueued}}, true},
		{"type_no_match", Event{Type: TypeJobQueued}, Filter{Types: []string{TypeJobFailed}}, false},
		{"type_trimmed", Event{Type: TypeJobFailed}, Filter{Types: []string{" job_failed "}}, true},
		{"job_match", Event{Type: TypeJobQueued, JobID: "a"}, Filter{JobID: "a"}, true},
		{"job_no_match", Event{Type: TypeJobQueued, JobID: "a"}, Filter{JobID: "b"}, false},
		{"type_and_job", Event{Type: TypeJobProgress, JobID: "a"}, Filter{Types: []string{TypeJobProgress}, JobID: "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesFilter(tt.event, tt.filter); got != tt.want {
				t.Errorf("matchesFilter(%+v, %+v) = %v, want %v", tt.event, tt.filter, got, tt.want)
			}
		})
	}
}

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/audioscribe/internal/events"
)

type EventsHandler struct {
	live      EventSource
	keepalive time.Duration
}

func NewEventsHandler(live EventSource) *EventsHandler {
	return &EventsHandler{live: live, keepalive: 15 * time.Second}
}

// StreamEvents opens an SSE connection and pushes filtered events.
// Query params: types (comma-separated) and job_id.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}

	filter := events.Filter{Types: QueryStringList(r, "types")}
	if v, ok := QueryString(r, "job_id"); ok {
		filter.JobID = v
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	lastSent := ""
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.live.ReplaySince(lastEventID, filter) {
			writeEvent(w, e)
			lastSent = e.ID
		}
	}
	if err := rc.Flush(); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("SSE flush not supported")
		return
	}

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if lastSent != "" {
				// Drop live duplicates of what the replay already sent.
				if replayed(event.ID, lastSent) {
					continue
				}
				lastSent = ""
			}
			writeEvent(w, event)
			rc.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			rc.Flush()
		}
	}
}

// replayed reports whether id was already covered by a replay that ended at
// last. IDs are "<unix-ms>-<seq>" with a process-wide increasing seq.
func replayed(id, last string) bool {
	seq, ok := eventSeq(id)
	lastSeq, lastOK := eventSeq(last)
	return ok && lastOK && seq <= lastSeq
}

func eventSeq(id string) (uint64, bool) {
	_, s, ok := strings.Cut(id, "-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil
}

func writeEvent(w http.ResponseWriter, e events.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}

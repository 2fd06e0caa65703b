package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/snarg/audioscribe/internal/database"
	"github.com/snarg/audioscribe/internal/intake"
	"github.com/snarg/audioscribe/internal/worker"
)

type HealthResponse struct {
	Status        string                `json:"status"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Model         string                `json:"model,omitempty"`
	Checks        map[string]string     `json:"checks"`
	Queue         *worker.QueueStats    `json:"queue,omitempty"`
	Inbox         *intake.WatcherStatus `json:"inbox,omitempty"`
	MissingTools  []string              `json:"missing_tools,omitempty"`
}

// HealthOptions lists what the health check looks at. Nil fields are
// reported as not_configured.
type HealthOptions struct {
	Queue        JobQueue
	History      RunHistory
	Broker       BrokerStatus
	Inbox        InboxStatus
	Storage      TranscriptReader
	Model        string
	MissingTools []string
	HasAPIKey    bool
	Version      string
	StartTime    time.Time
}

type HealthHandler struct {
	opts HealthOptions
}

func NewHealthHandler(opts HealthOptions) *HealthHandler {
	return &HealthHandler{opts: opts}
}

// ServeHTTP reports unhealthy (503) when transcription cannot work at all,
// and degraded when only an optional dependency is down.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	if len(h.opts.MissingTools) > 0 {
		checks["ffmpeg"] = "missing"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["ffmpeg"] = "ok"
	}

	if h.opts.HasAPIKey {
		checks["openai"] = "configured"
	} else {
		checks["openai"] = "missing_api_key"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	if h.opts.History != nil {
		if err := h.opts.History.HealthCheck(r.Context()); errors.Is(err, database.ErrSchemaNotReady) {
			checks["database"] = "schema_pending"
			degrade()
		} else if err != nil {
			checks["database"] = "error"
			degrade()
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	if h.opts.Broker != nil {
		if h.opts.Broker.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	if h.opts.Storage != nil {
		checks["storage"] = h.opts.Storage.Type()
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.opts.Version,
		UptimeSeconds: int64(time.Since(h.opts.StartTime).Seconds()),
		Model:         h.opts.Model,
		Checks:        checks,
		MissingTools:  h.opts.MissingTools,
	}
	if h.opts.Queue != nil {
		qs := h.opts.Queue.Stats()
		resp.Queue = &qs
	}
	if h.opts.Inbox != nil {
		is := h.opts.Inbox.Status()
		resp.Inbox = &is
		checks["inbox"] = is.Status
	} else {
		checks["inbox"] = "not_configured"
	}

	WriteJSON(w, httpStatus, resp)
}

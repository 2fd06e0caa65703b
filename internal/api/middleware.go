package api

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const maxRequestIDLen = 64

// RequestID tags each request with an X-Request-ID. A client-supplied ID is
// kept when it is short printable ASCII; anything else is replaced with a
// fresh UUID so it is safe to echo into logs and headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// Logger attaches a per-request logger carrying the request id, method and
// path, and writes one access line per request once the handler returns.
// Handlers can add fields with tagUpload; they show up on the access line.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return hlog.NewHandler(log)(tagRequest(hlog.AccessHandler(logRequest)(next)))
	}
}

func tagRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("request_id", r.Header.Get("X-Request-ID")).
				Str("method", r.Method).
				Str("path", r.URL.Path)
		})
		next.ServeHTTP(w, r)
	})
}

// tagUpload records the accepted job on the request logger.
func tagUpload(r *http.Request, jobID string, size int64) {
	hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("job_id", jobID).Int64("upload_bytes", size)
	})
}

func logRequest(r *http.Request, status, size int, dur time.Duration) {
	// SSE streams are long-lived; their connect/disconnect is logged by the handler.
	if strings.HasSuffix(r.URL.Path, "/events/stream") {
		return
	}
	log := hlog.FromRequest(r)
	var e *zerolog.Event
	switch {
	case status >= 500:
		e = log.Error()
	case status >= 400:
		e = log.Warn()
	case r.URL.Path == "/metrics" || r.URL.Path == "/api/v1/health":
		e = log.Debug()
	default:
		e = log.Info()
	}
	e.Int("status", status).
		Int("size", size).
		Dur("duration_ms", dur).
		Msg("request")
}

// Recoverer turns a handler panic into a 500 carrying the request id, so a
// client report can be matched to the logged stack.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				hlog.FromRequest(r).Error().
					Interface("panic", rv).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic")
				WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
					Error:  "internal server error",
					Code:   ErrInternal,
					Detail: "request_id " + r.Header.Get("X-Request-ID"),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Last-Event-ID, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", "Location, Retry-After, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerAuth rejects requests without the configured token. An empty token
// disables the check. The ?token= fallback exists for EventSource, which
// cannot set headers, so it is only honoured on GET.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := ""
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = auth[7:]
			} else if r.Method == http.MethodGet {
				provided = r.URL.Query().Get("token")
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="audioscribe"`)
				WriteErrorWithCode(w, http.StatusUnauthorized, ErrUnauthorized, "missing or invalid bearer token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

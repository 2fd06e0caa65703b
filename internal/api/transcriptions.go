package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/audioscribe/internal/database"
	"github.com/snarg/audioscribe/internal/intake"
	"github.com/snarg/audioscribe/internal/storage"
	"github.com/snarg/audioscribe/internal/worker"
)

// TranscriptionsHandler accepts uploads and reports job state.
type TranscriptionsHandler struct {
	queue       JobQueue
	history     RunHistory       // optional
	transcripts TranscriptReader // optional
	uploadDir   string
	maxBytes    int64
	log         zerolog.Logger
}

func NewTranscriptionsHandler(queue JobQueue, history RunHistory, transcripts TranscriptReader, uploadDir string, maxBytes int64, log zerolog.Logger) *TranscriptionsHandler {
	return &TranscriptionsHandler{
		queue:       queue,
		history:     history,
		transcripts: transcripts,
		uploadDir:   uploadDir,
		maxBytes:    maxBytes,
		log:         log.With().Str("handler", "transcriptions").Logger(),
	}
}

// Routes registers the transcription endpoints.
func (h *TranscriptionsHandler) Routes(r chi.Router) {
	r.Post("/transcriptions", h.Create)
	r.Get("/transcriptions", h.List)
	r.Get("/transcriptions/{id}", h.Get)
	r.Get("/transcriptions/{id}/text", h.Text)
	r.Get("/history", h.History)
}

// Create handles POST /api/v1/transcriptions. The multipart "file" part is
// streamed to the upload directory and queued; the response is 202 with the job.
func (h *TranscriptionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "expected multipart/form-data: "+err.Error())
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.writeReadError(w, err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		name := filepath.Base(part.FileName())
		if name == "." || name == string(filepath.Separator) || !intake.Supported(name) {
			part.Close()
			WriteErrorWithCode(w, http.StatusBadRequest, ErrUnsupported,
				fmt.Sprintf("unsupported file %q: accepted formats are %s", name, strings.Join(intake.Extensions, ", ")))
			return
		}

		path, size, err := h.save(part, name)
		part.Close()
		if err != nil {
			h.writeReadError(w, err)
			return
		}

		job, err := h.queue.Enqueue(worker.Request{
			Source:       path,
			Name:         name,
			Origin:       worker.OriginUpload,
			RemoveSource: true,
		})
		if err != nil {
			os.Remove(path)
			if errors.Is(err, worker.ErrQueueFull) {
				w.Header().Set("Retry-After", "60")
				WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrQueueFull, err.Error())
				return
			}
			WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrUnavailable, err.Error())
			return
		}

		tagUpload(r, job.ID, size)
		hlog.FromRequest(r).Info().Str("name", name).Msg("upload accepted")
		w.Header().Set("Location", "/api/v1/transcriptions/"+job.ID)
		WriteJSON(w, http.StatusAccepted, job)
		return
	}

	WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, `missing "file" field`)
}

// save streams one upload to disk under a unique name, keeping the extension
// so the media tools can sniff it.
func (h *TranscriptionsHandler) save(src io.Reader, name string) (string, int64, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("mkdir %s: %w", h.uploadDir, err)
	}
	path := filepath.Join(h.uploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = errEmptyUpload
	}
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	h.log.Debug().Str("path", path).Int64("bytes", n).Msg("upload saved")
	return path, n, nil
}

var errEmptyUpload = errors.New("uploaded file is empty")

func (h *TranscriptionsHandler) writeReadError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe):
		WriteErrorWithCode(w, http.StatusRequestEntityTooLarge, ErrTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", mbe.Limit))
	case errors.Is(err, errEmptyUpload):
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
	default:
		h.log.Warn().Err(err).Msg("upload failed")
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "failed to read upload: "+err.Error())
	}
}

// List handles GET /api/v1/transcriptions: jobs held in memory, newest first.
func (h *TranscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	jobs, total := h.queue.List(p.Limit, p.Offset)
	if jobs == nil {
		jobs = []worker.Job{}
	}
	WriteJSON(w, http.StatusOK, ListResponse[worker.Job]{Items: jobs, Total: total, Limit: p.Limit, Offset: p.Offset})
}

// Get handles GET /api/v1/transcriptions/{id}. Jobs that have left memory
// are looked up in the run history when a database is configured.
func (h *TranscriptionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if job, ok := h.queue.Get(id); ok {
		WriteJSON(w, http.StatusOK, job)
		return
	}
	if h.history != nil {
		run, err := h.history.GetRun(r.Context(), id)
		if err == nil {
			WriteJSON(w, http.StatusOK, run)
			return
		}
		if !errors.Is(err, database.ErrNotFound) {
			hlog.FromRequest(r).Error().Err(err).Str("id", id).Msg("run lookup failed")
			WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "run lookup failed")
			return
		}
	}
	WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "transcription not found")
}

// Text handles GET /api/v1/transcriptions/{id}/text and returns the
// transcript as plain text.
func (h *TranscriptionsHandler) Text(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if job, ok := h.queue.Get(id); ok {
		if job.Status != worker.StatusCompleted {
			WriteErrorWithCode(w, http.StatusConflict, ErrBadRequest, "transcription is "+string(job.Status))
			return
		}
		writeText(w, job.Text)
		return
	}
	if h.transcripts == nil {
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "transcription not found")
		return
	}
	rc, err := h.transcripts.Open(r.Context(), storage.TranscriptKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "transcription not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("id", id).Msg("transcript open failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "transcript unavailable")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.Copy(w, rc)
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, text+"\n")
}

// History handles GET /api/v1/history: runs from the database, newest first.
func (h *TranscriptionsHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrUnavailable, "run history requires DATABASE_URL")
		return
	}
	p, err := ParsePagination(r)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	status, _ := QueryString(r, "status")
	runs, total, err := h.history.ListRuns(r.Context(), database.RunFilter{Status: status, Limit: p.Limit, Offset: p.Offset})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("run history query failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "run history query failed")
		return
	}
	if runs == nil {
		runs = []database.RunRow{}
	}
	WriteJSON(w, http.StatusOK, ListResponse[database.RunRow]{Items: runs, Total: total, Limit: p.Limit, Offset: p.Offset})
}

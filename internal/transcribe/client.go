package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// MaxUploadBytes is the largest payload the transcription endpoint accepts.
const MaxUploadBytes = 25 * 1024 * 1024

// ErrMissingAPIKey is returned for every call when no credential is configured.
var ErrMissingAPIKey = errors.New("missing API key")

// Error wraps any failure of a transcription request: network errors,
// authentication failures and service-side rejections.
type Error struct {
	Path       string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transcribe %s: status %d: %v", filepath.Base(e.Path), e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transcribe %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Unauthorized reports whether the service rejected the credential.
func (e *Error) Unauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// Options configures a Client.
type Options struct {
	APIKey   string
	BaseURL  string // empty = api.openai.com
	Model    string // e.g. "whisper-1"
	Language string // ISO-639-1, e.g. "en"
	Timeout  time.Duration
}

// Client calls the OpenAI /v1/audio/transcriptions endpoint and asks for
// plain-text output.
type Client struct {
	api      *openai.Client
	hasKey   bool
	model    string
	language string
}

// NewClient creates a transcription client. The client is safe for
// concurrent use but the pipeline only ever issues one request at a time.
func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	model := opts.Model
	if model == "" {
		model = openai.Whisper1
	}
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	return &Client{
		api:      openai.NewClientWithConfig(cfg),
		hasKey:   opts.APIKey != "",
		model:    model,
		language: lang,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Transcribe uploads the audio file at audioPath and returns the raw
// transcript text. The text is not trimmed. Errors are *Error and are never
// retried here.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if !c.hasKey {
		return "", &Error{Path: audioPath, StatusCode: http.StatusUnauthorized, Err: ErrMissingAPIKey}
	}

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: audioPath,
		Language: c.language,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", newError(audioPath, err)
	}
	return resp.Text, nil
}

func newError(path string, err error) *Error {
	e := &Error{Path: path, Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		e.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		e.StatusCode = reqErr.HTTPStatusCode
	}
	return e
}

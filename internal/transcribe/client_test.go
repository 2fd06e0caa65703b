package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment-0.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVEfmt "), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestClient(url, key string) *Client {
	return NewClient(Options{
		APIKey:   key,
		BaseURL:  url + "/v1",
		Model:    "whisper-1",
		Language: "en",
		Timeout:  5 * time.Second,
	})
}

func TestTranscribe(t *testing.T) {
	var (
		gotPath   string
		gotAuth   string
		gotFields = map[string]string{}
		gotFile   string
		gotBytes  int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, k := range []string{"model", "language", "response_format"} {
			gotFields[k] = r.FormValue(k)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		gotFile = hdr.Filename
		gotBytes = len(b)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, " Hello from the first segment.\n")
	}))
	defer srv.Close()

	audio := writeAudio(t)
	c := newTestClient(srv.URL, "sk-test")
	text, err := c.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != " Hello from the first segment.\n" {
		t.Errorf("text = %q, want untrimmed transcript", text)
	}
	if gotPath != "/v1/audio/transcriptions" {
		t.Errorf("path = %q, want /v1/audio/transcriptions", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotFields["model"] != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", gotFields["model"])
	}
	if gotFields["language"] != "en" {
		t.Errorf("language = %q, want en", gotFields["language"])
	}
	if gotFields["response_format"] != "text" {
		t.Errorf("response_format = %q, want text", gotFields["response_format"])
	}
	if gotFile != "segment-0.wav" {
		t.Errorf("file name = %q, want segment-0.wav", gotFile)
	}
	if gotBytes != len("RIFF....WAVEfmt ") {
		t.Errorf("file bytes = %d", gotBytes)
	}
}

func TestTranscribeErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{
			name:       "unauthorized",
			status:     http.StatusUnauthorized,
			body:       `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "payload_too_large",
			status:     http.StatusRequestEntityTooLarge,
			body:       `Maximum content size limit exceeded`,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "unsupported_format",
			status:     http.StatusBadRequest,
			body:       `{"error":{"message":"Invalid file format.","type":"invalid_request_error"}}`,
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(srv.URL, "sk-test")
			_, err := c.Transcribe(context.Background(), writeAudio(t))
			var te *Error
			if !errors.As(err, &te) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if te.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", te.StatusCode, tt.wantStatus)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1 (no retries)", calls)
			}
		})
	}
}

func TestTranscribeMissingKey(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	_, err := c.Transcribe(context.Background(), writeAudio(t))
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if !te.Unauthorized() {
		t.Errorf("Unauthorized() = false, StatusCode = %d", te.StatusCode)
	}
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestTranscribeNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(url, "sk-test")
	_, err := c.Transcribe(context.Background(), writeAudio(t))
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if te.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for a network failure", te.StatusCode)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", "sk-test")
	_, err := c.Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.wav"))
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *Error", err)
	}
}

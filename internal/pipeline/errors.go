package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/snarg/audioscribe/internal/media"
	"github.com/snarg/audioscribe/internal/transcribe"
)

// ErrSizeLimitExceeded matches any *SizeLimitError via errors.Is.
var ErrSizeLimitExceeded = errors.New("size limit exceeded")

// SizeLimitError is returned when the whole-file artifact is still larger
// than the upload cap after normalization. No request is sent in that case.
type SizeLimitError struct {
	Path  string
	Size  int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("file still too large after compression (%.1f MB, limit %.1f MB); please try a shorter audio file",
		float64(e.Size)/(1024*1024), float64(e.Limit)/(1024*1024))
}

func (e *SizeLimitError) Is(target error) bool { return target == ErrSizeLimitExceeded }

// ErrorKind classifies a Process error for logs, metrics and API responses.
func ErrorKind(err error) string {
	var (
		probeErr *media.ProbeError
		splitErr *media.SplitError
		sizeErr  *SizeLimitError
		stt      *transcribe.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &probeErr):
		return "probe"
	case errors.As(err, &splitErr):
		return "split"
	case errors.As(err, &sizeErr):
		return "size_limit"
	case errors.As(err, &stt):
		return "transcription"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

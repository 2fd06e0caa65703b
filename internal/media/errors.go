package media

import (
	"errors"
	"fmt"
)

// ErrNoDuration indicates ffprobe ran but reported no usable duration.
var ErrNoDuration = errors.New("no parseable duration")

// ProbeError is returned when a source recording cannot be read or has no
// parseable duration.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// SplitError is returned when ffmpeg fails to produce a normalized artifact.
// Index is the segment index, or -1 for the whole-file artifact.
type SplitError struct {
	Index int
	Path  string
	Err   error
}

func (e *SplitError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("normalize audio: %v", e.Err)
	}
	return fmt.Sprintf("split segment %d: %v", e.Index, e.Err)
}

func (e *SplitError) Unwrap() error { return e.Err }

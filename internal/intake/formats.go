// Package intake accepts audio files from the user: a path prompt for the
// CLI and a watched inbox directory for the server.
package intake

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extensions lists the accepted audio formats, lower-case and without dots.
var Extensions = []string{"mp3", "m4a", "wav"}

var ErrUnsupported = errors.New("unsupported audio format")

// Supported reports whether path has an accepted audio extension. The check
// is case-insensitive.
func Supported(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Validate checks that path names an existing regular file in a supported
// format.
func Validate(path string) error {
	if !Supported(path) {
		return fmt.Errorf("%w: %q (accepted: %s)", ErrUnsupported, filepath.Base(path), strings.Join(Extensions, ", "))
	}
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}

package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes an external media tool and returns its stdout.
// On failure the returned error carries the tool's stderr.
type Runner interface {
	Run(ctx context.Context, name string, args []string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return stdout.Bytes(), nil
}

// Option configures a Prober or Splitter.
type Option func(*options)

type options struct {
	runner Runner
}

// WithRunner replaces the os/exec runner, mainly for tests.
func WithRunner(r Runner) Option {
	return func(o *options) {
		o.runner = r
	}
}

func buildOptions(opts []Option) options {
	o := options{runner: execRunner{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CheckTools returns the tools from the list that cannot be found in PATH.
// Call once at startup.
func CheckTools(tools ...string) []string {
	var missing []string
	for _, t := range tools {
		if _, err := exec.LookPath(t); err != nil {
			missing = append(missing, t)
		}
	}
	return missing
}

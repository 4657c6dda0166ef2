package isorun

import (
	"io"
	"log/slog"

	"github.com/limkokhole/isorun/cache"
)

type runConfig struct {
	logger  *slog.Logger
	metrics cache.Metrics
	verify  bool
	noRun   bool
	stdout  io.Writer
	stderr  io.Writer
}

// Option configures a Run.
type Option func(*runConfig)

// WithLogger sets the logger used by every component of the run.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the cache observability backend.
func WithMetrics(m cache.Metrics) Option {
	return func(c *runConfig) {
		c.metrics = m
	}
}

// WithVerify enables hashing fetched blobs against their content ids.
func WithVerify(enabled bool) Option {
	return func(c *runConfig) {
		c.verify = enabled
	}
}

// WithNoRun fetches and materializes the tree, then tears it down
// without executing the command. The run reports exit code 0.
func WithNoRun(enabled bool) Option {
	return func(c *runConfig) {
		c.noRun = enabled
	}
}

// WithOutput captures the child's stdout and stderr instead of
// inheriting this process's. Either writer may be nil to keep
// inheritance for that stream.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(c *runConfig) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// Package tree projects a manifest onto a throwaway directory: content
// blobs are hardlinked out of the local cache (copied when linking is
// impossible), symlink entries are created with their literal targets,
// and permission bits are applied. It also owns removal of the tree,
// including undoing a read-only projection first.
package tree

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/limkokhole/isorun/internal/fsutil"
	"github.com/limkokhole/isorun/manifest"
)

// ErrMapping is wrapped when materialization hits a destination that
// already exists or a cache source that is missing. Either means cache
// corruption or a self-contradictory manifest, so it is fatal rather
// than silently papered over.
var ErrMapping = errors.New("failed to map tree")

// removeRetries bounds RemoveAll attempts during teardown. A child
// process can outlive the test briefly and hold handles open.
const removeRetries = 4

// Library is the cache surface materialization needs: a blob lookup
// that bumps recency and the path the blob lives at.
type Library interface {
	Retrieve(id string) (bool, error)
	Path(id string) string
}

type config struct {
	logger *slog.Logger
}

// Option configures Materialize and Remove.
type Option func(*config)

// WithLogger sets the logger for tree operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Materialize builds the manifest's file mapping under root. Every
// digest it references must already be fetchable from lib as a cache
// hit (the cache is warmed beforehand); a missing source or an already
// present destination wraps ErrMapping. After all entries are placed
// the relative cwd is created if nothing populated it, and with
// read_only set the write bit is stripped from the whole tree.
func Materialize(root string, m *manifest.Manifest, lib Library, opts ...Option) error {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := log(cfg.logger)

	for _, path := range m.Paths() {
		entry := m.Files[path]
		dest := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		switch {
		case entry.Digest != "":
			if err := placeBlob(dest, entry.Digest, lib, logger); err != nil {
				return err
			}
		case entry.IsLink():
			// The target is taken literally: not resolved, not
			// validated against cache content.
			if err := os.Symlink(entry.Link, dest); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %q has neither sha-1 nor link", manifest.ErrInvalid, path)
		}
		if entry.Mode != nil && !entry.IsLink() && runtime.GOOS != "windows" {
			if err := os.Chmod(dest, os.FileMode(*entry.Mode)); err != nil { //nolint:gosec // manifest modes are permission bits
				return err
			}
		}
	}

	cwd := filepath.Join(root, filepath.FromSlash(m.RelativeCwd))
	if err := os.MkdirAll(cwd, 0o755); err != nil {
		return err
	}
	if m.ReadOnly {
		logger.Debug("stripping write bits", "root", root)
		if err := fsutil.MakeTreeWritable(root, false); err != nil {
			return err
		}
	}
	return nil
}

// placeBlob links the cached blob into the tree, copying when the link
// fails (different filesystem).
func placeBlob(dest, id string, lib Library, logger *slog.Logger) error {
	if _, err := lib.Retrieve(id); err != nil {
		return err
	}
	src := lib.Path(id)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: source %s is missing", ErrMapping, src)
	}
	if _, err := os.Lstat(dest); err == nil {
		return fmt.Errorf("%w: %s already exists", ErrMapping, dest)
	}
	logger.Debug("mapping blob", "id", id, "dest", dest)
	if err := os.Link(src, dest); err != nil {
		logger.Warn("hardlink failed, copying", "src", src, "dest", dest, "error", err)
		return fsutil.CopyFile(src, dest)
	}
	return nil
}

// Remove deletes the materialized tree. Write bits are restored first
// (a read-only tree cannot be deleted everywhere), and removal is
// retried with increasing delay for children that release file handles
// asynchronously after exit.
func Remove(root string, opts ...Option) error {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := log(cfg.logger)

	if err := fsutil.MakeTreeWritable(root, true); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to restore write bits", "root", root, "error", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	attempt := 0
	op := func() error {
		err := os.RemoveAll(root)
		if err != nil {
			attempt++
			logger.Warn("tree removal failed, retrying", "root", root, "attempt", attempt, "error", err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(policy, removeRetries)); err != nil {
		return fmt.Errorf("tree: removing %s: %w", root, err)
	}
	return nil
}

func log(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}

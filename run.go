package isorun

import (
	"context"
	"errors"

	"github.com/limkokhole/isorun/cache"
	"github.com/limkokhole/isorun/internal/fsutil"
	"github.com/limkokhole/isorun/manifest"
	"github.com/limkokhole/isorun/remote"
	"github.com/limkokhole/isorun/tree"
)

// Run executes the manifest's command inside a tree materialized from
// the backing store at store, using the LRU cache at cacheDir.
//
// The returned exit code is the child's own when it ran; err reports
// conditions that prevented the run (bad manifest, fetch or mapping
// failure, spawn failure). The materialized tree is removed on every
// path; a removal failure after a completed child is joined onto err
// so it never masks the child's result.
func Run(ctx context.Context, m *manifest.Manifest, store, cacheDir string, policies cache.Policies, opts ...Option) (exitCode int, err error) {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(m.Command) == 0 {
		return 0, errors.New("isorun: manifest has no command to run")
	}

	fetcher, err := remote.New(store,
		remote.WithVerify(cfg.verify),
		remote.WithFetcherLogger(cfg.logger))
	if err != nil {
		return 0, err
	}
	pool := remote.NewPool(fetcher, remote.WithPoolLogger(cfg.logger))
	defer pool.Close()

	c, err := cache.Open(cacheDir, pool, policies,
		cache.WithLogger(cfg.logger),
		cache.WithMetrics(metricsOrNop(cfg.metrics)))
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	// The tree must share a filesystem with the cache for hardlinks.
	root, err := fsutil.TempDirNear("isorun-", cacheDir)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rerr := tree.Remove(root, tree.WithLogger(cfg.logger)); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	if err := c.Warm(m.Digests()); err != nil {
		return 0, err
	}
	if err := tree.Materialize(root, m, c, tree.WithLogger(cfg.logger)); err != nil {
		return 0, err
	}
	if cfg.noRun {
		return 0, nil
	}
	return execute(ctx, m, root, &cfg)
}

func metricsOrNop(m cache.Metrics) cache.Metrics {
	if m == nil {
		return cache.NoopMetrics{}
	}
	return m
}

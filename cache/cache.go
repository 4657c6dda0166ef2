// Package cache keeps previously fetched blobs on local disk under a
// size-, age-, and count-bounded LRU policy.
//
// Blobs live at dir/<content-id>; the LRU order is persisted to
// state.json (oldest first) after every mutation, so a crash mid-run
// leaves a consistent on-disk index. One Cache instance owns a cache
// directory at a time: all state mutation happens on the goroutine
// driving Retrieve/Warm/Trim, which is why the LRU list needs no lock.
package cache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/limkokhole/isorun/internal/fsutil"
	"github.com/limkokhole/isorun/remote"
)

const dirPerm = 0o700

// Policies bounds the cache. All limits are soft: they are enforced by
// eviction during Trim, not by blocking writes.
type Policies struct {
	// MaxSize is the total tracked size in bytes to trim down to.
	// 0 disables the bound.
	MaxSize int64
	// MinFreeSpace is the number of bytes that must stay free on the
	// cache's filesystem. 0 disables the bound.
	MinFreeSpace int64
	// MaxItems caps the entry count. 0 disables the bound.
	MaxItems int
}

// Cache is the durable LRU index over fetched blobs. It owns the pool
// for its lifetime and fills misses through it.
type Cache struct {
	dir       string
	statePath string
	pool      *remote.Pool
	policies  Policies
	logger    *slog.Logger
	metrics   Metrics

	// state holds content ids, oldest first (index 0 is the next
	// eviction candidate).
	state []string

	// Run statistics, reported at Close.
	addedFiles   int
	addedBytes   int64
	removedFiles int
	removedBytes int64
	retrieveTime time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for cache events.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics sets the observability backend. Defaults to NoopMetrics.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// Open loads (or creates) the cache at dir. A missing or corrupt state
// file starts the cache empty rather than failing; a trim pass then
// repairs the index against what is physically present and enforces
// the policies.
func Open(dir string, pool *remote.Pool, policies Policies, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache: dir is empty")
	}
	c := &Cache{
		dir:       dir,
		statePath: filepath.Join(dir, stateFileName),
		pool:      pool,
		policies:  policies,
		metrics:   NoopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, err
	}
	state, err := loadState(c.statePath)
	if err != nil {
		// Too bad. The state will be rebuilt and the cache trimmed.
		c.log().Error("broken cache state, starting empty", "path", c.statePath, "error", err)
		state = nil
	}
	c.state = state
	if err := c.Trim(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns where the blob for id lives (or would live). Pure path
// join, no I/O.
func (c *Cache) Path(id string) string {
	return filepath.Join(c.dir, id)
}

// Retrieve makes the blob for id available at Path(id) and reports
// whether it was already cached. A hit only bumps the id to the MRU
// end; a miss fetches synchronously through the pool. The state file
// is persisted either way.
func (c *Cache) Retrieve(id string) (hit bool, err error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	defer func() {
		if serr := c.save(); serr != nil && err == nil {
			err = serr
		}
	}()

	if c.touch(id) {
		c.metrics.Hit()
		return true, nil
	}
	c.metrics.Miss()

	start := time.Now()
	c.pool.Fetch(remote.Med, id, c.Path(id))
	_, err = c.pool.Result()
	c.retrieveTime += time.Since(start)
	if err != nil {
		return false, err
	}
	c.admit(id)
	return false, nil
}

// Warm fills the cache for every id in one pass: hits are bumped, all
// misses are enqueued up front so the pool can fan out, then the
// results are drained here on the calling goroutine. LRU mutation
// stays single-writer throughout. Every enqueued result is drained
// even after a failure, so no fetch is still landing files while a
// shutdown trim scans the directory; the first error is returned.
func (c *Cache) Warm(ids []string) (err error) {
	defer func() {
		if serr := c.save(); serr != nil && err == nil {
			err = serr
		}
	}()

	queued := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if err := checkID(id); err != nil {
			return err
		}
		if c.touch(id) {
			c.metrics.Hit()
			continue
		}
		if _, dup := queued[id]; dup {
			continue
		}
		queued[id] = struct{}{}
		c.metrics.Miss()
		c.pool.Fetch(remote.Med, id, c.Path(id))
	}

	start := time.Now()
	defer func() { c.retrieveTime += time.Since(start) }()
	for i := 0; i < len(queued); i++ {
		id, rerr := c.pool.Result()
		if rerr != nil {
			if err == nil {
				err = rerr
			}
			continue
		}
		c.admit(id)
	}
	return err
}

// touch moves a tracked id to the MRU end and reports whether it was
// tracked at all.
func (c *Cache) touch(id string) bool {
	i := slices.Index(c.state, id)
	if i < 0 {
		return false
	}
	c.state = append(slices.Delete(c.state, i, i+1), id)
	return true
}

// admit appends a freshly fetched id at the MRU end and records its
// size. A blob the fetch claimed to deliver but which is not on disk
// is logged and left untracked; materialization will surface it.
func (c *Cache) admit(id string) {
	info, err := os.Stat(c.Path(id))
	if err != nil {
		c.log().Error("fetched blob not in cache", "id", id, "error", err)
		return
	}
	c.state = append(c.state, id)
	c.addedFiles++
	c.addedBytes += info.Size()
}

// Trim repairs the index and enforces the policies: drop entries whose
// backing file vanished, adopt foreign files at the oldest position,
// then evict oldest-first for the free-space, total-size, and
// item-count bounds, in that order. Idempotent; persists the result.
func (c *Cache) Trim() (err error) {
	defer func() {
		if serr := c.save(); serr != nil && err == nil {
			err = serr
		}
	}()

	// Drop state entries whose backing file no longer exists.
	c.state = slices.DeleteFunc(c.state, func(id string) bool {
		if _, err := os.Stat(c.Path(id)); err != nil {
			c.log().Info("removing lost entry", "id", id)
			c.metrics.Evict(EvictLost, 0)
			return true
		}
		return false
	})

	// Files we don't know about are adopted at the oldest position:
	// candidates for immediate eviction, never trusted as fresh.
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	tracked := make(map[string]struct{}, len(c.state))
	for _, id := range c.state {
		tracked[id] = struct{}{}
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == stateFileName {
			continue
		}
		if _, ok := tracked[name]; ok {
			continue
		}
		if entry.IsDir() {
			c.log().Warn("unexpected directory in cache", "name", name)
			continue
		}
		c.log().Warn("adopting foreign cache file", "name", name)
		c.state = append([]string{name}, c.state...)
	}

	// Ensure enough free space.
	for c.policies.MinFreeSpace > 0 && len(c.state) > 0 {
		free, err := fsutil.FreeSpace(c.dir)
		if err != nil {
			return err
		}
		if free >= c.policies.MinFreeSpace {
			break
		}
		c.removeOldest(EvictFreeSpace)
	}

	// Ensure maximum cache size.
	total := c.trackedBytes()
	if c.policies.MaxSize > 0 {
		for total > c.policies.MaxSize && len(c.state) > 0 {
			total -= c.removeOldest(EvictSize)
		}
	}

	// Ensure maximum number of items.
	if c.policies.MaxItems > 0 {
		for len(c.state) > c.policies.MaxItems {
			total -= c.removeOldest(EvictItems)
		}
	}

	c.metrics.Size(len(c.state), total)
	return nil
}

// Close runs the shutdown trim and reports the run's cache traffic.
func (c *Cache) Close() error {
	err := c.Trim()
	c.log().Info("cache summary",
		"files_added", c.addedFiles,
		"bytes_added", c.addedBytes,
		"files_removed", c.removedFiles,
		"bytes_removed", c.removedBytes,
		"retrieve_time", c.retrieveTime)
	return err
}

// removeOldest evicts the LRU entry and returns its size. Removal
// failures are logged, not fatal: the entry is dropped from tracking
// either way to avoid retrying it forever.
func (c *Cache) removeOldest(reason EvictReason) int64 {
	id := c.state[0]
	c.state = c.state[1:]

	var size int64
	if info, err := os.Stat(c.Path(id)); err == nil {
		size = info.Size()
	}
	c.log().Info("trimming cache entry", "id", id, "size", size)
	if err := os.Remove(c.Path(id)); err != nil {
		c.log().Error("failed to remove cache entry", "id", id, "error", err)
	}
	c.removedFiles++
	c.removedBytes += size
	c.metrics.Evict(reason, size)
	return size
}

func (c *Cache) trackedBytes() int64 {
	var total int64
	for _, id := range c.state {
		if info, err := os.Stat(c.Path(id)); err == nil {
			total += info.Size()
		}
	}
	return total
}

func (c *Cache) save() error {
	return saveState(c.statePath, c.state)
}

func (c *Cache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.logger
}

// checkID rejects ids that could escape the cache directory. Content
// ids are bare hex names, never paths.
func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id != filepath.Base(id) {
		return fmt.Errorf("cache: invalid content id %q", id)
	}
	return nil
}

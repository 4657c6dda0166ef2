// Package remote retrieves content-addressed blobs from a backing
// store into local files.
//
// A Fetcher is a single-blob strategy (directory copy or HTTP
// download). A Pool fans fetches out across worker goroutines with
// class-based prioritization, FIFO ordering within a class, and
// bounded retry of transient failures.
package remote

import (
	"crypto/sha1" //nolint:gosec // content ids are SHA-1 by the manifest wire contract
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzhttp"
)

// ErrVerify is wrapped when fetched content does not hash to its id.
// Verification failures are fatal and never retried.
var ErrVerify = errors.New("content verification failed")

var urlScheme = regexp.MustCompile(`^https?://`)

// transientError tags failures worth retrying. The fetch strategy
// decides retryability; the pool only checks the tag.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient tags err as retryable. Custom Fetcher implementations use
// it to tell the pool which of their failures are worth another
// attempt; untagged errors are fatal on first sight.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was tagged as retryable by a fetch
// strategy.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Fetcher copies the blob named by id from a backing store into the
// file at dest. Implementations are safe for concurrent use.
type Fetcher interface {
	Fetch(id, dest string) error
}

type fetcherConfig struct {
	verify bool
	client *http.Client
	logger *slog.Logger
}

// FetcherOption configures a Fetcher built by New.
type FetcherOption func(*fetcherConfig)

// WithVerify enables hashing of the fetched bytes and comparison
// against the content id. A mismatch is fatal.
func WithVerify(enabled bool) FetcherOption {
	return func(c *fetcherConfig) {
		c.verify = enabled
	}
}

// WithClient sets the HTTP client used for downloads. Ignored by the
// directory strategy.
func WithClient(client *http.Client) FetcherOption {
	return func(c *fetcherConfig) {
		c.client = client
	}
}

// WithFetcherLogger sets the logger for fetch operations.
// If not set, logging is disabled.
func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(c *fetcherConfig) {
		c.logger = logger
	}
}

// New selects a fetch strategy for the store location: an HTTP store
// for http(s) URLs, a directory store for everything else.
func New(store string, opts ...FetcherOption) (Fetcher, error) {
	if store == "" {
		return nil, errors.New("remote: store location is empty")
	}
	cfg := fetcherConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if urlScheme.MatchString(store) {
		client := cfg.client
		if client == nil {
			client = &http.Client{Transport: gzhttp.Transport(http.DefaultTransport)}
		}
		return &httpFetcher{
			base:   strings.TrimRight(store, "/") + "/",
			client: client,
			verify: cfg.verify,
			logger: cfg.logger,
		}, nil
	}
	return &dirFetcher{
		root:   store,
		verify: cfg.verify,
		logger: cfg.logger,
	}, nil
}

// dirFetcher copies blobs out of a local (or mounted) directory.
type dirFetcher struct {
	root   string
	verify bool
	logger *slog.Logger
}

func (f *dirFetcher) Fetch(id, dest string) error {
	src := filepath.Join(f.root, id)
	log(f.logger).Debug("copying blob", "src", src, "dest", dest)

	in, err := os.Open(src)
	if err != nil {
		return Transient(err)
	}
	defer in.Close()

	return writeBlob(id, dest, in, f.verify)
}

// httpFetcher downloads blobs from baseURL + id.
type httpFetcher struct {
	base   string
	client *http.Client
	verify bool
	logger *slog.Logger
}

func (f *httpFetcher) Fetch(id, dest string) error {
	url := f.base + id
	log(f.logger).Debug("downloading blob", "url", url, "dest", dest)

	resp, err := f.client.Get(url)
	if err != nil {
		// Transport-level failures (DNS, reset, timeout) are the
		// flakiness the retry loop exists for.
		return Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("remote: GET %s: %s", url, resp.Status)
		if retryableStatus(resp.StatusCode) {
			return Transient(err)
		}
		return err
	}
	return writeBlob(id, dest, resp.Body, f.verify)
}

func retryableStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	}
	return false
}

// writeBlob lands the blob atomically: temp file in the destination
// directory, then rename. With verify set the bytes are hashed on the
// way through and a mismatch discards the temp file.
func writeBlob(id, dest string, src io.Reader, verify bool) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "fetch-*")
	if err != nil {
		return Transient(err)
	}
	tmpPath := tmp.Name()

	var out io.Writer = tmp
	h := sha1.New() //nolint:gosec // see package note on SHA-1
	if verify {
		out = io.MultiWriter(tmp, h)
	}
	if _, err := io.Copy(out, src); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return Transient(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return Transient(err)
	}
	if verify {
		sum := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(sum, id) {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("%w: got %s, want %s", ErrVerify, sum, strings.ToLower(id))
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return Transient(err)
	}
	return nil
}

// log returns the logger, falling back to a discard logger if nil.
func log(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}

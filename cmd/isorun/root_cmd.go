package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzhttp"
	"github.com/spf13/cobra"

	"github.com/limkokhole/isorun"
	"github.com/limkokhole/isorun/cache"
	"github.com/limkokhole/isorun/internal/config"
	"github.com/limkokhole/isorun/manifest"
)

var manifestURL = regexp.MustCompile(`^https?://`)

func newRootCmd() *cobra.Command {
	var (
		manifestSrc  string
		manifestHash string
		remoteSrc    string
		cacheDir     string
		maxSize      int64
		minFree      int64
		maxItems     int
		verbose      int
		noRun        bool
		verify       bool
		configPath   string
	)

	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "isorun",
		Short: "Run a test in a private tree built from a manifest",
		Long: `Reads a manifest, fetches the files it names from a content-addressed
store into a local LRU cache, hardlinks them into a temporary tree and
runs the test there. The tree is removed afterwards on every path.

The child's exit code is propagated verbatim; exit code 2 means the
run could not be set up at all.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)

			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if !flags.Changed("remote") && cfg.Remote != "" {
				remoteSrc = cfg.Remote
			}
			if !flags.Changed("cache") {
				cacheDir = cfg.CacheDir
			}
			if !flags.Changed("max-cache-size") {
				maxSize = cfg.Cache.MaxSize
			}
			if !flags.Changed("min-free-space") {
				minFree = cfg.Cache.MinFreeSpace
			}
			if !flags.Changed("max-items") {
				maxItems = cfg.Cache.MaxItems
			}
			if !flags.Changed("verify") {
				verify = cfg.Verify
			}

			if (manifestSrc == "") == (manifestHash == "") {
				return fmt.Errorf("one and only one of --manifest or --hash is required")
			}
			if remoteSrc == "" {
				return fmt.Errorf("--remote is required")
			}
			if manifestHash != "" {
				manifestSrc = joinStore(remoteSrc, manifestHash)
			}

			data, err := readManifest(manifestSrc)
			if err != nil {
				return fmt.Errorf("reading manifest %s: %w", manifestSrc, err)
			}
			m, err := manifest.Load(data)
			if err != nil {
				return err
			}

			absCache, err := filepath.Abs(cacheDir)
			if err != nil {
				return err
			}
			policies := cache.Policies{
				MaxSize:      maxSize,
				MinFreeSpace: minFree,
				MaxItems:     maxItems,
			}

			code, runErr := isorun.Run(cmd.Context(), m, remoteSrc, absCache, policies,
				isorun.WithLogger(logger),
				isorun.WithVerify(verify),
				isorun.WithNoRun(noRun))
			if runErr != nil {
				// A failed teardown can accompany a real child result;
				// report it without masking the exit code.
				if code != 0 {
					fmt.Fprintln(os.Stderr, "isorun:", runErr)
					return &exitError{code: code}
				}
				return runErr
			}
			if code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&manifestSrc, "manifest", "m", "", "file or URL describing what to map and run")
	flags.StringVarP(&manifestHash, "hash", "H", "", "content id of the manifest, fetched from the store")
	flags.StringVarP(&remoteSrc, "remote", "r", "", "backing store: directory or http(s) URL")
	flags.StringVar(&cacheDir, "cache", defaults.CacheDir, "cache directory")
	flags.Int64Var(&maxSize, "max-cache-size", defaults.Cache.MaxSize, "trim if the cache grows past this many bytes (0 = unlimited)")
	flags.Int64Var(&minFree, "min-free-space", defaults.Cache.MinFreeSpace, "trim if free disk space drops below this many bytes (0 = off)")
	flags.IntVar(&maxItems, "max-items", defaults.Cache.MaxItems, "trim if the cache holds more than this many entries (0 = unlimited)")
	flags.BoolVar(&noRun, "no-run", false, "fetch and materialize only, skip running the command")
	flags.BoolVar(&verify, "verify", false, "hash fetched blobs against their content ids")
	flags.StringVar(&configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	flags.CountVarP(&verbose, "verbose", "v", "use multiple times for more detail")
	return cmd
}

// newLogger maps repeated -v flags onto slog levels the way the rest
// of our tooling does: errors only, then info, then debug.
func newLogger(verbose int) *slog.Logger {
	level := slog.LevelError
	switch {
	case verbose >= 2:
		level = slog.LevelDebug
	case verbose == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// readManifest fetches the manifest document from a local path or URL.
func readManifest(src string) ([]byte, error) {
	if !manifestURL.MatchString(src) {
		return os.ReadFile(src)
	}
	client := &http.Client{Transport: gzhttp.Transport(http.DefaultTransport)}
	resp, err := client.Get(src)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", src, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func joinStore(store, id string) string {
	if manifestURL.MatchString(store) {
		return strings.TrimRight(store, "/") + "/" + id
	}
	return filepath.Join(store, id)
}

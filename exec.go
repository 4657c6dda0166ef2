package isorun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/limkokhole/isorun/manifest"
)

// execute runs the manifest's command with the materialized tree as
// its world and returns the child's exit code.
func execute(ctx context.Context, m *manifest.Manifest, root string, cfg *runConfig) (int, error) {
	cwd := filepath.Join(root, filepath.FromSlash(m.RelativeCwd))
	argv := buildCommand(m.Command)

	stdout := cfg.stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := cfg.stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger.Info("running command", "argv", argv, "cwd", cwd)
	return runCommand(ctx, argv, cwd, stdout, stderr)
}

// runCommand spawns argv with cwd inside the tree and waits for it.
// The child's exit code is propagated verbatim; only a failure to
// spawn at all is an error.
func runCommand(ctx context.Context, argv []string, cwd string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Stdin = os.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return exit.ExitCode(), nil
	}
	if err != nil {
		return 0, fmt.Errorf("isorun: running %q in %s: %w", argv[0], cwd, err)
	}
	return 0, nil
}

// buildCommand normalizes argv for the host: path separators in the
// program name, and an explicit interpreter for python commands so the
// manifest stays portable across machines with different install
// paths.
func buildCommand(command []string) []string {
	argv := slices.Clone(command)
	argv[0] = filepath.FromSlash(argv[0])
	switch {
	case filepath.Base(argv[0]) == "python" || filepath.Base(argv[0]) == "python3":
		argv[0] = pythonPath()
	case strings.HasSuffix(argv[0], ".py"):
		argv = append([]string{pythonPath()}, argv...)
	}
	return argv
}

func pythonPath() string {
	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return "python3"
}

package main

import (
	"errors"
	"fmt"
	"os"
)

// exitSetupFailure is used when the manifest, fetch, or mapping stage
// failed before the test could run; it is distinct from any likely
// child exit code.
const exitSetupFailure = 2

// exitError carries a child's exit code through cobra to main.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "isorun:", err)
	os.Exit(exitSetupFailure)
}

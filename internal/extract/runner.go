package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner launches the external logtool.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) error
}

// ExtractionError reports a failed or incomplete extractor run.
type ExtractionError struct {
	GameID    string
	Extractor string
	ExitCode  int // -1 when the process did not exit normally
	Stderr    string
	Err       error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("game %s: %s: %v", e.GameID, e.Extractor, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ExitError carries the exit status and stderr tail of a failed process.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExecRunner runs the logtool with os/exec.
type ExecRunner struct {
	// TailBytes limits how much stderr is kept for error reports.
	TailBytes int
}

// Run executes argv in dir; stdout is discarded.
func (r ExecRunner) Run(ctx context.Context, dir string, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Code: ee.ExitCode(), Stderr: tail(stderr.String(), r.tailBytes())}
	}
	return err
}

func (r ExecRunner) tailBytes() int {
	if r.TailBytes <= 0 {
		return 2048
	}
	return r.TailBytes
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

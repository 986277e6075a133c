// Package executil runs external tools with a bounded timeout and captures
// their combined output.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/perf-cascade/runner/types"
)

// waitDelay bounds how long Wait blocks on output pipes after the process is killed
const waitDelay = 2 * time.Second

// Command describes one external process invocation
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
	// Stream, when set, receives the combined output as it is produced
	Stream io.Writer
}

// Result is the outcome of a finished process
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// Run starts cmd and waits for it. A missing binary, a non-zero exit, a
// timeout or a cancelled context are reported as *types.ExternalToolError;
// the output captured so far is returned in both the Result and the error.
// Hitting either cmd.Timeout or a deadline on ctx sets TimedOut.
func Run(ctx context.Context, cmd Command) (Result, error) {
	limit := effectiveTimeout(ctx, cmd.Timeout)
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	var buf syncBuffer
	var out io.Writer = &buf
	if cmd.Stream != nil {
		out = io.MultiWriter(&buf, cmd.Stream)
	}

	c := exec.CommandContext(runCtx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stdout = out
	c.Stderr = out
	c.WaitDelay = waitDelay
	setProcessGroup(c)

	start := time.Now()
	err := c.Run()
	res := Result{
		ExitCode: exitCode(c),
		Output:   buf.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	toolErr := &types.ExternalToolError{
		Tool:     cmd.Name,
		ExitCode: res.ExitCode,
		Timeout:  cmd.Timeout,
		Output:   res.Output,
		Err:      err,
	}

	// a deadline inherited from ctx is a timeout as well, reported with the
	// budget that was actually left
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		toolErr.TimedOut = true
		toolErr.Timeout = limit
		toolErr.ExitCode = -1
	case ctx.Err() != nil:
		toolErr.Err = fmt.Errorf("%w: %v", ctx.Err(), err)
		toolErr.ExitCode = -1
	}

	return res, toolErr
}

// effectiveTimeout is the smaller of timeout and the time left before ctx's deadline
func effectiveTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return timeout
	}
	left := time.Until(deadline).Round(time.Millisecond)
	if left < 0 {
		left = 0
	}
	if timeout <= 0 || left < timeout {
		return left
	}
	return timeout
}

// LookPath reports whether name resolves to an executable and its path
func LookPath(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", false
	}
	return path, true
}

func exitCode(c *exec.Cmd) int {
	if c.ProcessState == nil {
		return -1
	}
	return c.ProcessState.ExitCode()
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a MultiWriter
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Package functional runs the external functional test suite and summarizes
// its outcome from the captured output.
package functional

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/perf-cascade/runner/config"
	"github.com/perf-cascade/runner/executil"
	"github.com/perf-cascade/runner/types"
)

// Runner invokes the configured test command
type Runner struct {
	cfg config.FunctionalConfig
	log logrus.FieldLogger
	// Echo, when set, also receives the live output
	Echo io.Writer
}

// NewRunner creates a test runner
func NewRunner(cfg config.FunctionalConfig, log logrus.FieldLogger) *Runner {
	return &Runner{cfg: cfg, log: log.WithField("component", "functional")}
}

// Enabled reports whether a command is configured
func (r *Runner) Enabled() bool {
	return len(r.cfg.Command) > 0
}

// Available reports whether the command's executable can be found
func (r *Runner) Available() bool {
	if !r.Enabled() {
		return false
	}
	_, ok := executil.LookPath(r.cfg.Command[0])
	return ok
}

// Command returns the configured command line
func (r *Runner) Command() []string {
	return r.cfg.Command
}

// Run executes the suite while capture records its output. The summary is
// always populated on a best-effort basis, also when err is non-nil (timeout,
// non-zero exit, missing runner).
func (r *Runner) Run(ctx context.Context, capture *Capture) (types.FunctionalSummary, error) {
	if !r.Enabled() {
		return types.FunctionalSummary{Message: "functional tests disabled: no command configured"}, nil
	}
	if capture == nil {
		capture = NewCapture(0)
	}

	var stream io.Writer = capture
	if r.Echo != nil {
		stream = io.MultiWriter(capture, r.Echo)
	}

	log := r.log.WithField("command", r.cfg.Command)
	log.Info("Running functional tests")

	capture.Start()
	res, runErr := executil.Run(ctx, executil.Command{
		Name:    r.cfg.Command[0],
		Args:    r.cfg.Command[1:],
		Dir:     r.cfg.Dir,
		Env:     envList(r.cfg.Env),
		Timeout: r.cfg.Timeout,
		Stream:  stream,
	})
	capture.Stop()

	summary := Summarize(capture.Output(), res.ExitCode, runErr)

	fields := logrus.Fields{
		"total":    summary.Total,
		"failures": summary.Failures,
		"errors":   summary.Errors,
		"skipped":  summary.Skipped,
		"exit":     summary.ExitCode,
		"elapsed":  capture.Elapsed(),
	}
	if runErr != nil {
		log.WithFields(fields).WithError(runErr).Warn("Functional tests did not pass")
		return summary, runErr
	}
	if !summary.Passed {
		log.WithFields(fields).Warn("Functional tests reported failures")
		return summary, fmt.Errorf("functional tests reported failures: %s", summary.Message)
	}

	log.WithFields(fields).Info("Functional tests passed")
	return summary, nil
}

// Summarize builds a FunctionalSummary from captured output and the process outcome
func Summarize(output string, exitCode int, runErr error) types.FunctionalSummary {
	counts := ScanOutput(output)

	summary := types.FunctionalSummary{
		Executed: true,
		Total:    counts.Total,
		Failures: counts.Failures,
		Errors:   counts.Errors,
		Skipped:  counts.Skipped,
		ExitCode: exitCode,
	}

	cancelled := errors.Is(runErr, context.Canceled)
	var toolErr *types.ExternalToolError
	if errors.As(runErr, &toolErr) {
		summary.TimedOut = toolErr.TimedOut
		if toolErr.ExitCode == -1 && !toolErr.TimedOut && !cancelled && output == "" {
			summary.Executed = false
		}
	} else if runErr != nil && !cancelled && output == "" {
		summary.Executed = false
	}

	summary.Passed = runErr == nil &&
		exitCode == 0 &&
		counts.Failures == 0 &&
		counts.Errors == 0 &&
		counts.BuildResult != "FAILURE"

	var detail string
	if counts.Found {
		detail = fmt.Sprintf("%d tests, %d failures, %d errors, %d skipped",
			counts.Total, counts.Failures, counts.Errors, counts.Skipped)
	} else {
		detail = "no test counts found in output"
	}

	switch {
	case summary.TimedOut:
		summary.Message = fmt.Sprintf("timed out after %s (partial: %s)", toolErr.Timeout, detail)
	case cancelled:
		summary.Message = fmt.Sprintf("cancelled (partial: %s)", detail)
	case !summary.Executed:
		summary.Message = fmt.Sprintf("test runner could not be started: %v", runErr)
	case summary.Passed:
		summary.Message = detail
	default:
		summary.Message = fmt.Sprintf("exit code %d: %s", exitCode, detail)
	}

	return summary
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

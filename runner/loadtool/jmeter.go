// Package loadtool drives the external load-testing tool (Apache JMeter in
// non-GUI mode). No load is generated in-process.
package loadtool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perf-cascade/runner/config"
	"github.com/perf-cascade/runner/executil"
)

// Detection is the result of probing for the load tool
type Detection struct {
	Binary    string
	Path      string
	Available bool
	Reason    string
}

// Detect looks the configured binary up on PATH
func Detect(cfg config.LoadToolConfig) Detection {
	d := Detection{Binary: cfg.Binary}
	switch {
	case cfg.Disabled:
		d.Reason = "load tool disabled by configuration"
	case cfg.Binary == "":
		d.Reason = "no load tool binary configured"
	default:
		if path, ok := executil.LookPath(cfg.Binary); ok {
			d.Path = path
			d.Available = true
		} else {
			d.Reason = fmt.Sprintf("%s not found on PATH", cfg.Binary)
		}
	}
	return d
}

// RunRequest is one scenario plan executed at one concurrency level
type RunRequest struct {
	Scenario  string
	Plan      string
	Users     int
	OutputDir string
}

// RunResult points at the files produced by a run
type RunResult struct {
	SamplesPath string
	LogPath     string
	Duration    time.Duration
}

// JMeter runs test plans with `jmeter -n -t <plan> -l <samples> -j <log> -Jusers=<n>`
type JMeter struct {
	cfg       config.LoadToolConfig
	detection Detection
	log       logrus.FieldLogger
}

// NewJMeter creates a runner and probes for the binary
func NewJMeter(cfg config.LoadToolConfig, log logrus.FieldLogger) *JMeter {
	return &JMeter{
		cfg:       cfg,
		detection: Detect(cfg),
		log:       log.WithField("component", "loadtool"),
	}
}

// Available reports whether the binary was found
func (j *JMeter) Available() bool {
	return j.detection.Available
}

// Detection returns the probe result
func (j *JMeter) Detection() Detection {
	return j.detection
}

// Args builds the non-GUI command line for req
func (j *JMeter) Args(req RunRequest, samplesPath, logPath string) []string {
	args := []string{
		"-n",
		"-t", req.Plan,
		"-l", samplesPath,
		"-j", logPath,
		"-Jusers=" + strconv.Itoa(req.Users),
	}
	return append(args, j.cfg.ExtraArgs...)
}

// Run executes one plan. The samples file is named after the scenario and
// user count so the scenario rule can recognise it later.
func (j *JMeter) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	if !j.detection.Available {
		return RunResult{}, fmt.Errorf("load tool unavailable: %s", j.detection.Reason)
	}
	if req.Plan == "" {
		return RunResult{}, fmt.Errorf("scenario %q has no test plan", req.Scenario)
	}
	if _, err := os.Stat(req.Plan); err != nil {
		return RunResult{}, fmt.Errorf("failed to access test plan: %w", err)
	}
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return RunResult{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	base := SamplesFileBase(req.Scenario, req.Users)
	samplesPath := filepath.Join(req.OutputDir, base+".jtl")
	logPath := filepath.Join(req.OutputDir, base+".log")

	// jmeter appends to an existing results file
	if err := os.Remove(samplesPath); err != nil && !os.IsNotExist(err) {
		return RunResult{}, fmt.Errorf("failed to remove stale samples file: %w", err)
	}

	log := j.log.WithFields(logrus.Fields{
		"scenario": req.Scenario,
		"users":    req.Users,
		"plan":     req.Plan,
	})
	log.Info("Starting load tool")

	res, err := executil.Run(ctx, executil.Command{
		Name:    j.detection.Path,
		Args:    j.Args(req, samplesPath, logPath),
		Timeout: j.cfg.Timeout,
	})
	if err != nil {
		log.WithError(err).Warn("Load tool run failed")
		return RunResult{}, err
	}

	log.WithField("duration", res.Duration).Info("Load tool run finished")
	return RunResult{SamplesPath: samplesPath, LogPath: logPath, Duration: res.Duration}, nil
}

// SamplesFileBase returns e.g. "get_masivo_50u" for ("GET Masivo", 50)
func SamplesFileBase(scenario string, users int) string {
	slug := config.ScenarioSlug(scenario)
	if slug == "" {
		slug = "scenario"
	}
	return fmt.Sprintf("%s_%du", slug, users)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/perf-cascade/runner/comparator"
	"github.com/perf-cascade/runner/pipeline"
	"github.com/perf-cascade/runner/types"
)

type runOptions struct {
	workers      int
	evidenceDir  string
	noFunctional bool
	noLoadTool   bool
	jsonOutput   bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full analysis pipeline",
		Long: `Runs functional tests, resolves performance metrics (result files, rendered
reports, a fresh load-tool run, or simulation), writes evidence and prints the
compiled result. The exit code reflects the status: 0 SUCCESS,
1 SUCCESS_WITH_WARNINGS, 2 PARTIAL, 3 FAILED.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.apply(a)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := a.runPipeline(ctx, nil)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return fmt.Errorf("failed to encode result: %w", err)
				}
			} else {
				printResult(a.stdout, result)
			}

			if code := result.Status.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.workers, "workers", 0, "Worker pool size (overrides pipeline.workers)")
	flags.StringVar(&opts.evidenceDir, "evidence-dir", "", "Evidence output directory (overrides evidence_dir)")
	flags.BoolVar(&opts.noFunctional, "no-functional", false, "Skip the functional test suite")
	flags.BoolVar(&opts.noLoadTool, "no-load-tool", false, "Never start a fresh load-tool run")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print the result as JSON")
	return cmd
}

func (o runOptions) apply(a *app) {
	if o.workers > 0 {
		a.cfg.Pipeline.Workers = o.workers
	}
	if o.evidenceDir != "" {
		a.cfg.EvidenceDir = o.evidenceDir
	}
	if o.noFunctional {
		a.cfg.Functional.Command = []string{}
	}
	if o.noLoadTool {
		a.cfg.LoadTool.Disabled = true
	}
}

// runPipeline runs one analysis to completion. Storage problems degrade the
// run to file-only evidence rather than failing it.
func (a *app) runPipeline(ctx context.Context, observers []pipeline.Observer) (types.AnalysisResult, error) {
	store, err := openStore(ctx, a.cfg, a.log)
	if err != nil {
		a.log.WithError(err).Warn("Result store unavailable, continuing without history")
	}
	if store != nil {
		defer store.Close()
	}

	orch, err := buildPipeline(a.cfg, store, nil, observers, a.log)
	if err != nil {
		return types.AnalysisResult{}, fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() {
		if err := orch.Shutdown(a.cfg.Pipeline.ShutdownGrace); err != nil {
			a.log.WithError(err).Warn("Pipeline did not shut down cleanly")
		}
	}()

	// the future never fails; an interrupted run still yields a result
	return orch.Run(ctx).Get(context.Background())
}

func printResult(w io.Writer, result types.AnalysisResult) {
	fmt.Fprintf(w, "Run %s: %s\n", result.RunID, result.Status)
	fmt.Fprintf(w, "Performance data: %s\n", result.Performance.Provenance.Describe())

	f := result.Functional
	switch {
	case !f.Executed:
		fmt.Fprintf(w, "Functional tests: not executed (%s)\n", f.Message)
	case f.Passed:
		fmt.Fprintf(w, "Functional tests: passed (%d tests)\n", f.Total)
	default:
		fmt.Fprintf(w, "Functional tests: FAILED (%d failures, %d errors of %d tests)\n", f.Failures, f.Errors, f.Total)
	}

	fmt.Fprintln(w)
	tiers := make(map[string]types.Tier, len(result.Performance.Metrics))
	for _, m := range result.Performance.Metrics {
		tiers[m.Key()] = m.Tier
	}
	fmt.Fprint(w, comparator.Render(result.Performance.Comparison, func(m types.PerformanceMetric) types.Tier {
		return tiers[m.Key()]
	}))

	fmt.Fprintln(w, "\nStages:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range result.Stages {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", s.Stage, s.Status, s.Duration.Round(time.Millisecond), s.Message)
	}
	tw.Flush()

	if len(result.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, r := range result.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
	if len(result.Artifacts) > 0 {
		fmt.Fprintln(w, "\nArtifacts:")
		for _, p := range result.Artifacts {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
}

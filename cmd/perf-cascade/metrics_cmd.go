package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/perf-cascade/runner/comparator"
	"github.com/perf-cascade/runner/metrics"
	"github.com/perf-cascade/runner/types"
)

func newMetricsCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "metrics <samples.jtl>...",
		Short: "Compute and classify metrics for sample files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scored, err := a.scoreFiles(args)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(scored)
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tSCENARIO\tUSERS\tSAMPLES\tAVG (ms)\tP95 (ms)\tTHROUGHPUT (req/s)\tERRORS (%)\tTIER")
			for _, m := range scored {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
					m.Source, m.ScenarioName, m.ConcurrentUsers, m.SampleCount,
					m.AvgMs, m.P95Ms, m.ThroughputPerSec, m.ErrorRatePct, m.Tier)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the metrics as JSON")
	return cmd
}

func newCompareCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <samples.jtl>...",
		Short: "Compare metrics across sample files grouped by scenario",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scored, err := a.scoreFiles(args)
			if err != nil {
				return err
			}

			plain := make([]types.PerformanceMetric, len(scored))
			tiers := make(map[string]types.Tier, len(scored))
			for i, m := range scored {
				plain[i] = m.PerformanceMetric
				tiers[m.Key()] = m.Tier
			}

			report := comparator.Compare(plain)
			fmt.Fprint(a.stdout, comparator.Render(report, func(m types.PerformanceMetric) types.Tier {
				return tiers[m.Key()]
			}))
			return nil
		},
	}
}

// scoreFiles computes one metric per sample file. Malformed lines are logged
// and skipped; a file without any valid sample is an error.
func (a *app) scoreFiles(paths []string) ([]types.ScoredMetric, error) {
	engine := metrics.NewEngine(metrics.NewScenarioRule(a.cfg.ScenarioRule, a.cfg.ScenarioNames()...))
	classifier, err := metrics.NewClassifier(a.cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	computed := make([]types.PerformanceMetric, 0, len(paths))
	for _, path := range paths {
		samples, stats, err := metrics.ParseFile(path)
		if err != nil {
			return nil, err
		}
		if len(stats.Malformed) > 0 {
			a.log.WithFields(logrus.Fields{
				"file":      path,
				"malformed": len(stats.Malformed),
				"first":     stats.Malformed[0].Error(),
			}).Warn("Skipped malformed sample lines")
		}

		m, err := engine.ComputeMetric(samples, filepath.Base(path))
		if err != nil {
			return nil, fmt.Errorf("failed to compute metrics for %s: %w", path, err)
		}
		computed = append(computed, m)
	}

	return classifier.Score(computed), nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/perf-cascade/runner/api"
	"github.com/perf-cascade/runner/pipeline"
	"github.com/perf-cascade/runner/storage"
	"github.com/perf-cascade/runner/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr       string
		runOnStart bool
		runOpts    runOptions
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored results, pipeline metrics and live stage progress",
		Long: `Serves the results API. Results come from PostgreSQL when storage is
enabled, otherwise from memory seeded with the last analysis-result.json in the
evidence directory. With --run an analysis starts immediately and its stage
progress streams over /api/ws.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runOpts.apply(a)
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := a.serveStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			hub := api.NewWSHub(api.DefaultWSHubConfig(), a.log)
			tm := telemetry.New()
			server, err := api.NewServer(api.Options{
				Addr:        a.cfg.Server.Addr,
				Store:       store,
				Hub:         hub,
				Metrics:     tm.Handler(),
				EvidenceDir: a.cfg.EvidenceDir,
			}, a.log)
			if err != nil {
				return err
			}
			errCh := server.Start()

			var run *backgroundRun
			if runOnStart {
				run = startBackground(ctx, func(ctx context.Context) {
					a.serveRun(ctx, store, hub, tm)
				})
			}

			var serveErr error
			select {
			case serveErr = <-errCh:
			case <-ctx.Done():
				a.log.Info("Received shutdown signal, stopping API server")
			}

			// the run writes to store and hub, so it finishes before either goes away
			if run != nil {
				if err := run.stop(a.cfg.Pipeline.ShutdownGrace); err != nil {
					a.log.WithError(err).Warn("Analysis run did not stop in time")
				}
			}
			if serveErr != nil {
				return serveErr
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Pipeline.ShutdownGrace)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	flags.BoolVar(&runOnStart, "run", false, "Start an analysis run when the server comes up")
	flags.BoolVar(&runOpts.noFunctional, "no-functional", false, "Skip the functional test suite for --run")
	flags.BoolVar(&runOpts.noLoadTool, "no-load-tool", false, "Never start a fresh load-tool run for --run")
	return cmd
}

func (a *app) serveStore(ctx context.Context) (resultStore, error) {
	store, err := openStore(ctx, a.cfg, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	if store != nil {
		return store, nil
	}

	mem := storage.NewMemoryStore()
	last, err := loadEvidenceResult(a.cfg.EvidenceDir)
	if err != nil {
		a.log.WithError(err).Warn("Failed to read previous analysis result")
	}
	if last != nil {
		if _, err := mem.Save(ctx, *last); err != nil {
			return nil, err
		}
		a.log.WithField("run_id", last.RunID).Info("Loaded previous analysis result")
	}
	return mem, nil
}

// serveRun runs one pipeline whose telemetry is exported on the server's
// /metrics and whose result lands in the served store
func (a *app) serveRun(ctx context.Context, store resultStore, hub *api.WSHub, tm *telemetry.Metrics) {
	orch, err := buildPipeline(a.cfg, store, tm, []pipeline.Observer{hub}, a.log)
	if err != nil {
		a.log.WithError(err).Error("Failed to build pipeline")
		return
	}
	defer func() {
		if err := orch.Shutdown(a.cfg.Pipeline.ShutdownGrace); err != nil {
			a.log.WithError(err).Warn("Pipeline did not shut down cleanly")
		}
	}()

	result, _ := orch.Run(ctx).Get(context.Background())
	a.log.WithField("status", result.Status).Info("Analysis run from serve finished")
}

// backgroundRun is a goroutine the serve command cancels and joins on shutdown
type backgroundRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startBackground(ctx context.Context, fn func(ctx context.Context)) *backgroundRun {
	runCtx, cancel := context.WithCancel(ctx)
	b := &backgroundRun{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(b.done)
		fn(runCtx)
	}()
	return b
}

// stop cancels the run and waits up to grace for it to return
func (b *backgroundRun) stop(grace time.Duration) error {
	b.cancel()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-b.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("analysis run still active after %s", grace)
	}
}

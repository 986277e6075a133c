package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/perf-cascade/runner/config"
	"github.com/perf-cascade/runner/types"
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error {
	return e.err
}

// app holds the state shared by every subcommand
type app struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	log    *logrus.Logger
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, log: logrus.New()}
	a.log.SetOutput(stderr)

	cmd := &cobra.Command{
		Use:           "perf-cascade",
		Short:         "Functional and performance analysis pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to YAML configuration file")
	flags.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "Env files loaded before the config is parsed")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (overrides log.level)")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format: text or json (overrides log.format)")

	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newMetricsCmd(a))
	cmd.AddCommand(newCompareCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newPruneCmd(a))
	return cmd
}

func (a *app) setup() error {
	if _, err := config.LoadEnvFiles(a.envFiles); err != nil {
		return err
	}

	cfg, err := config.LoadFromFile(a.configPath, a.log)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	return configureLogger(a.log, cfg.Log)
}

func configureLogger(log *logrus.Logger, cfg config.LogConfig) error {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q (expected text|json)", cfg.Format)
	}
	return nil
}

// Execute runs the CLI and returns the process exit code. Errors that abort
// a command before a pipeline status exists map to FAILED.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	return types.StatusFailed.ExitCode()
}

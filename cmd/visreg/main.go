// Command visreg captures screenshots of a site before and after a change,
// compares them pixel by pixel and reports what moved.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/history"
	"github.com/hazyhaar/visreg/runner"
)

var version = "dev"

type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	noHistory  bool
}

// app is the state shared by subcommands once flags are parsed.
type app struct {
	flags  *rootFlags
	logger *slog.Logger
	out    io.Writer
}

// exitError carries a non-default process exit code.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()

	var ee exitError
	switch {
	case err == nil:
	case errors.As(err, &ee):
		os.Exit(ee.code)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(runner.ExitFatal)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{flags: &rootFlags{}, out: out}

	rootCmd := &cobra.Command{
		Use:   "visreg",
		Short: "Visual regression testing for websites",
		Long: `visreg captures full-page screenshots of a site across device profiles,
compares a "before" set against an "after" set, and writes an HTML, JSON and
Markdown report of every visual change.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), a.flags.logLevel, a.flags.logFormat)
			if err != nil {
				return err
			}
			a.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "visreg.yaml", "configuration file")
	pf.StringVar(&a.flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&a.flags.logFormat, "log-format", "text", "log format: text or json")
	pf.BoolVar(&a.flags.noHistory, "no-history", false, "do not record runs in the history database")

	rootCmd.AddCommand(
		newCaptureCmd(a),
		newCompareCmd(a),
		newReportCmd(a),
		newRunCmd(a),
		newHealthCmd(a),
		newCleanupCmd(a),
		newServeCmd(a),
		newRunsCmd(a),
		newMCPCmd(a),
	)
	return rootCmd
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: "15:04:05",
		})), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want text or json)", format)
	}
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.LoadFile(a.flags.configPath)
}

// openHistory returns nil when history is disabled or cannot be opened;
// runs still proceed without it.
func (a *app) openHistory(cfg *config.Config) *history.Store {
	if a.flags.noHistory {
		return nil
	}
	store, err := history.Open(cfg.Paths.History)
	if err != nil {
		a.logger.Warn("history unavailable", "path", cfg.Paths.History, "error", err)
		return nil
	}
	return store
}

// runPhases executes phases, prints the summary and maps the outcome to
// an exit code.
func (a *app) runPhases(ctx context.Context, suite string, failOnChanges bool, phases ...runner.Phase) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	store := a.openHistory(cfg)
	if store != nil {
		defer store.Close()
	}

	r := runner.New(runner.Options{
		Config:  cfg,
		Suite:   suite,
		History: store,
		Logger:  a.logger,
	})
	start := time.Now()
	out, runErr := r.Run(ctx, phases...)
	fmt.Fprintln(a.out, renderOutcome(out, cfg, time.Since(start)))
	if runErr != nil {
		return runErr
	}
	if code := out.ExitCode(failOnChanges); code != runner.ExitOK {
		return exitError{code: code}
	}
	return nil
}

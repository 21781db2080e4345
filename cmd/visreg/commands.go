package main

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/visreg/capture"
	"github.com/hazyhaar/visreg/cleanup"
	"github.com/hazyhaar/visreg/health"
	"github.com/hazyhaar/visreg/matrix"
	"github.com/hazyhaar/visreg/runner"
	"github.com/hazyhaar/visreg/server"
)

func newCaptureCmd(a *app) *cobra.Command {
	var suite string
	cmd := &cobra.Command{
		Use:       "capture <before|after>",
		Short:     "Capture every page on every device",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(matrix.ModeBefore), string(matrix.ModeAfter)},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := matrix.ParseMode(args[0])
			if err != nil {
				return err
			}
			return a.runPhases(cmd.Context(), suite, false, runner.CapturePhase(mode))
		},
	}
	cmd.Flags().StringVarP(&suite, "suite", "s", "", "page suite to capture (default: homepage only)")
	return cmd
}

func newCompareCmd(a *app) *cobra.Command {
	var failOnChanges bool
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare the before and after sets and write the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPhases(cmd.Context(), "", failOnChanges, runner.PhaseCompare)
		},
	}
	cmd.Flags().BoolVar(&failOnChanges, "fail-on-changes", false, "exit with status 2 when any page changed")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Re-render the report from the last comparison results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPhases(cmd.Context(), "", false, runner.PhaseReport)
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	var (
		suite         string
		failOnChanges bool
	)
	cmd := &cobra.Command{
		Use:   "run [phase...]",
		Short: "Run several phases in order",
		Long: fmt.Sprintf(`Run phases in the given order, stopping at the first fatal error.
Phases: %s. Without arguments runs capture-before, capture-after and compare.`,
			runner.FormatPhases(runner.Phases)),
		Example: `  visreg run capture-after compare --suite shop --fail-on-changes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			phases := []runner.Phase{runner.PhaseCaptureBefore, runner.PhaseCaptureAfter, runner.PhaseCompare}
			if len(args) > 0 {
				phases = phases[:0]
				for _, arg := range args {
					p, err := runner.ParsePhase(arg)
					if err != nil {
						return err
					}
					phases = append(phases, p)
				}
			}
			return a.runPhases(cmd.Context(), suite, failOnChanges, phases...)
		},
	}
	cmd.Flags().StringVarP(&suite, "suite", "s", "", "page suite to capture (default: homepage only)")
	cmd.Flags().BoolVar(&failOnChanges, "fail-on-changes", false, "exit with status 2 when any page changed")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	var skipBrowser bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the site, login form, output folders and browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			opts := health.Options{Config: cfg, Logger: a.logger}
			if !skipBrowser {
				open := capture.RodOpener(cfg, a.logger)
				opts.Browser = func(ctx context.Context) error {
					s, err := open(ctx)
					if err != nil {
						return err
					}
					return s.Close()
				}
			}
			rep := health.Run(cmd.Context(), opts)
			fmt.Fprintln(a.out, renderHealth(rep))
			if !rep.OK {
				return exitError{code: runner.ExitFatal}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipBrowser, "skip-browser", false, "do not try to launch a browser")
	return cmd
}

func newCleanupCmd(a *app) *cobra.Command {
	var usageOnly bool
	cmd := &cobra.Command{
		Use:       "cleanup [before|after|diff|reports|all]",
		Short:     "Delete screenshots and reports",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"before", "after", "diff", "reports", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			usage, err := cleanup.Storage(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, renderStorage(usage))
			if usageOnly {
				return nil
			}

			target := cleanup.All
			if len(args) == 1 {
				if target, err = cleanup.ParseTarget(args[0]); err != nil {
					return err
				}
			}
			removed, err := cleanup.Clean(cfg, target)
			a.logger.Info("cleanup done", "target", target, "files", removed.Files, "bytes", removed.Bytes)
			fmt.Fprintf(a.out, "Removed %d files (%s)\n", removed.Files, cleanup.FormatBytes(removed.Bytes))
			return err
		},
	}
	cmd.Flags().BoolVar(&usageOnly, "usage", false, "only show storage usage")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the report, screenshots and results API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			store := a.openHistory(cfg)
			if store != nil {
				defer store.Close()
			}
			h := server.Handler(server.Options{Config: cfg, History: store, Logger: a.logger})
			return server.Serve(cmd.Context(), addr, h, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or the comparisons of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			a.flags.noHistory = false
			store := a.openHistory(cfg)
			if store == nil {
				return fmt.Errorf("history database %s cannot be opened", cfg.Paths.History)
			}
			defer store.Close()

			if len(args) == 1 {
				results, err := store.RunComparisons(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, renderComparisons(args[0], results))
				return nil
			}
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, renderRuns(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the visreg tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			store := a.openHistory(cfg)
			if store != nil {
				defer store.Close()
			}
			r := runner.New(runner.Options{Config: cfg, History: store, Logger: a.logger})

			srv := mcp.NewServer(&mcp.Implementation{Name: "visreg", Version: version}, nil)
			r.RegisterMCP(srv)
			a.logger.Info("mcp: serving on stdio")
			return srv.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

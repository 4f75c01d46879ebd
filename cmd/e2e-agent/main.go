// Command e2e-agent drives a promptdeck deployment through its web UI and
// REST API, one scenario at a time, and reports a pass/fail/skip outcome for
// each.
//
//	e2e-agent [run]            run every selected scenario (default)
//	e2e-agent list             print groups and scenario ids
//	e2e-agent render FILE      re-render a saved report.json
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuitang/promptdeck-e2e/internal/config"
	"github.com/kuitang/promptdeck-e2e/internal/obs"
	"github.com/kuitang/promptdeck-e2e/internal/report"
	"github.com/kuitang/promptdeck-e2e/internal/suites"
)

var version = "dev"

// errScenariosFailed makes the process exit 1 without printing an error;
// the report already explains what failed.
var errScenariosFailed = errors.New("one or more scenarios failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(defaultAgent()).ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errScenariosFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd(a *agent) *cobra.Command {
	var ov config.Overrides

	root := &cobra.Command{
		Use:           "e2e-agent",
		Short:         "End-to-end checks for a promptdeck deployment",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCmd(cmd, a, ov)
		},
	}
	addRunFlags(root, &ov)

	run := &cobra.Command{
		Use:   "run",
		Short: "Run every selected scenario and write the reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCmd(cmd, a, ov)
		},
	}
	addRunFlags(run, &ov)

	root.AddCommand(run, newListCmd(), newRenderCmd())
	return root
}

func addRunFlags(cmd *cobra.Command, ov *config.Overrides) {
	f := cmd.Flags()
	f.StringVar(&ov.EnvFile, "env-file", "", "load environment from this file (default .env when present)")
	f.StringVar(&ov.BaseURL, "base-url", "", "target base URL (E2E_BASE_URL)")
	f.StringVar(&ov.PlanPath, "plan", "", "YAML plan selecting groups, scenarios and fixtures (E2E_PLAN)")
	f.StringVar(&ov.RunID, "run-id", "", "run identifier (E2E_RUN_ID, generated when empty)")
	f.StringVar(&ov.ArtifactDir, "artifacts", "", "artifact parent directory (E2E_ARTIFACT_DIR)")
	f.StringVar(&ov.MetricsPath, "metrics", "", "write Prometheus metrics to this file (E2E_METRICS_PATH)")
	f.StringVar(&ov.LogLevel, "log-level", "", "debug, info, warn or error (E2E_LOG_LEVEL)")
	f.StringVar(&ov.LogFormat, "log-format", "", "json or text (E2E_LOG_FORMAT)")
	f.BoolVar(&ov.Headed, "headed", false, "show the browser window")
	f.BoolVar(&ov.Install, "install", false, "install the Playwright driver and Chromium before launching")
	f.StringSliceVar(&ov.Groups, "group", nil, "run only these groups (name or id, repeatable)")
	f.StringSliceVar(&ov.Only, "only", nil, "run only these scenario ids")
	f.StringSliceVar(&ov.Skip, "skip", nil, "skip these scenario ids")
}

func runCmd(cmd *cobra.Command, a *agent, ov config.Overrides) error {
	cfg, err := config.LoadConfig(ov)
	var invalid *config.ValidationError
	if errors.As(err, &invalid) && cfg != nil {
		obs.Init(obs.Options{Level: obs.ParseLevel(cfg.LogLevel), Format: cfg.LogFormat})
		if _, rerr := a.reportInvalidConfig(cmd.Context(), cfg, err, cmd.OutOrStdout()); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	if err != nil {
		return err
	}
	obs.Init(obs.Options{Level: obs.ParseLevel(cfg.LogLevel), Format: cfg.LogFormat})
	cfg.PrintStartupSummary(cmd.ErrOrStderr())

	rep, err := a.run(cmd.Context(), cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if rep.HasFailures() {
		return errScenariosFailed
	}
	return nil
}

func newListCmd() *cobra.Command {
	var (
		planPath string
		ov       config.Overrides
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the groups and scenario ids in run order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := &config.Plan{}
			if planPath != "" {
				p, err := config.LoadPlan(planPath)
				if err != nil {
					return err
				}
				plan = p
			}
			plan.Groups = append(plan.Groups, ov.Groups...)
			plan.Only = append(plan.Only, ov.Only...)
			plan.Skip = append(plan.Skip, ov.Skip...)
			printPlan(cmd.OutOrStdout(), suites.All(), plan)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&planPath, "plan", "", "YAML plan to apply")
	f.StringSliceVar(&ov.Groups, "group", nil, "groups to select")
	f.StringSliceVar(&ov.Only, "only", nil, "scenario ids to select")
	f.StringSliceVar(&ov.Skip, "skip", nil, "scenario ids to skip")
	return cmd
}

func newRenderCmd() *cobra.Command {
	var markdown bool
	cmd := &cobra.Command{
		Use:   "render [report.json]",
		Short: "Re-render a saved JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := report.Load(args[0])
			if err != nil {
				return err
			}
			if markdown {
				_, err = fmt.Fprint(cmd.OutOrStdout(), rep.Markdown())
				return err
			}
			rep.RenderConsole(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "print Markdown instead of the console table")
	return cmd
}

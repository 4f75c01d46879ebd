package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kuitang/promptdeck-e2e/internal/apiclient"
	"github.com/kuitang/promptdeck-e2e/internal/artifacts"
	"github.com/kuitang/promptdeck-e2e/internal/browser"
	"github.com/kuitang/promptdeck-e2e/internal/config"
	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/fallback"
	"github.com/kuitang/promptdeck-e2e/internal/metrics"
	"github.com/kuitang/promptdeck-e2e/internal/obs"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
	"github.com/kuitang/promptdeck-e2e/internal/ratelimit"
	"github.com/kuitang/promptdeck-e2e/internal/report"
	"github.com/kuitang/promptdeck-e2e/internal/s3client"
	"github.com/kuitang/promptdeck-e2e/internal/scenario"
	"github.com/kuitang/promptdeck-e2e/internal/suites"
	"github.com/kuitang/promptdeck-e2e/internal/world"
)

const mirrorTimeout = 2 * time.Minute

// agent wires one run together. launch and mirrorClient are swapped out in
// tests.
type agent struct {
	launch       func(ctx context.Context, opts browser.Options) (browser.Driver, error)
	mirrorClient func(ctx context.Context, cfg *config.Config) (*s3client.Client, error)
	groups       func() []scenario.Group
}

func defaultAgent() *agent {
	return &agent{
		launch: func(ctx context.Context, opts browser.Options) (browser.Driver, error) {
			sess, err := browser.Launch(ctx, opts)
			if err != nil {
				return nil, err
			}
			return sess, nil
		},
		mirrorClient: func(ctx context.Context, cfg *config.Config) (*s3client.Client, error) {
			return s3client.New(ctx, s3client.Config{
				Endpoint:        cfg.MirrorEndpoint,
				Region:          cfg.MirrorRegion,
				AccessKeyID:     cfg.MirrorAccessKeyID,
				SecretAccessKey: cfg.MirrorSecretAccessKey,
				BucketName:      cfg.MirrorBucket,
				Prefix:          cfg.MirrorPrefix,
				UsePathStyle:    cfg.MirrorPathStyle,
			})
		},
		groups: suites.All,
	}
}

// run executes the selected scenarios and writes every report. It returns
// an error only when no report could be produced.
func (a *agent) run(ctx context.Context, cfg *config.Config, out io.Writer) (*report.Report, error) {
	ctx = obs.WithRun(ctx, cfg.RunID)
	logger := obs.From(ctx).With("pkg", "main")
	started := time.Now()

	writer, setupErr, err := openWriter(cfg)
	if err != nil {
		return nil, err
	}
	collector := metrics.NewCollector()
	collector.ObserveRun(cfg.RunID, cfg.BaseURL, "chromium")
	if setupErr != nil {
		logger.Error("artifact_dir_unusable", "dir", cfg.RunDir(), "fallback", writer.RunDir, "error", setupErr.Error())
		return a.finish(ctx, cfg, writer, collector, []*outcome.Record{scenario.SetupFailure(setupErr)}, started, out), nil
	}

	pacer := ratelimit.NewPacer(cfg.Pacing)
	defer pacer.Stop()

	w := &world.World{
		Config:    cfg,
		API:       apiclient.New(cfg.BaseURL, apiclient.Options{Timeout: cfg.RequestTimeout, Pacer: pacer}),
		Artifacts: writer,
		Metrics:   collector,
		Logger:    logger,
		Exec: fallback.New(func(action string, r fallback.Result) {
			collector.ObserveAttempt(action, r.Kind.String())
		}),
	}
	runner := scenario.NewRunner(w)

	if err := a.runScenarios(ctx, cfg, w, runner); err != nil {
		logger.Error("browser_launch_failed", "error", err.Error())
		runner.Add(scenario.SetupFailure(err))
	}
	return a.finish(ctx, cfg, writer, collector, runner.Records(), started, out), nil
}

// runScenarios launches the browser and drives the runner. The browser is
// closed on every exit path once it launched.
func (a *agent) runScenarios(ctx context.Context, cfg *config.Config, w *world.World, runner *scenario.Runner) error {
	drv, err := a.launch(ctx, browser.Options{
		BaseURL:           cfg.BaseURL,
		Headless:          cfg.Headless,
		Install:           cfg.InstallBrowsers,
		SlowMo:            cfg.SlowMo,
		ActionTimeout:     cfg.ActionTimeout,
		NavigationTimeout: cfg.NavigationTimeout,
		ViewportWidth:     cfg.ViewportWidth,
		ViewportHeight:    cfg.ViewportHeight,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := drv.Close(); err != nil {
			w.Logger.Warn("browser_close_failed", "error", err.Error())
		}
	}()

	w.Browser = drv
	runner.Run(ctx, a.groups())
	return nil
}

// reportInvalidConfig writes a report holding only the setup record for a
// config that loaded but did not validate. The mirror is not attempted
// since its credentials may be what failed.
func (a *agent) reportInvalidConfig(ctx context.Context, loaded *config.Config, cause error, out io.Writer) (*report.Report, error) {
	cfg := *loaded
	cfg.MirrorBucket = ""
	if strings.TrimSpace(cfg.RunID) == "" || strings.ContainsAny(cfg.RunID, `/\`) {
		cfg.RunID = config.NewRunID(time.Now())
	}
	ctx = obs.WithRun(ctx, cfg.RunID)
	started := time.Now()

	writer, setupErr, err := openWriter(&cfg)
	if err != nil {
		return nil, err
	}
	if setupErr != nil {
		obs.From(ctx).Warn("artifact_dir_unusable", "pkg", "main", "fallback", writer.RunDir, "error", setupErr.Error())
	}
	collector := metrics.NewCollector()
	collector.ObserveRun(cfg.RunID, cfg.BaseURL, "chromium")
	return a.finish(ctx, &cfg, writer, collector, []*outcome.Record{scenario.SetupFailure(cause)}, started, out), nil
}

// openWriter opens the configured run directory, or a directory under the
// system temp dir when that fails. setupErr explains why the configured one
// was not used; err means neither could be created.
func openWriter(cfg *config.Config) (writer *artifacts.Writer, setupErr, err error) {
	if cfg.ArtifactDir == "" {
		setupErr = errs.New(errs.FailedPrecondition, "no artifact directory configured")
	} else {
		writer, setupErr = artifacts.NewWriter(cfg.RunDir())
		if setupErr == nil {
			return writer, nil, nil
		}
	}
	writer, err = artifacts.NewWriter(fallbackRunDir(cfg.RunID))
	if err != nil {
		return nil, setupErr, err
	}
	return writer, setupErr, nil
}

func fallbackRunDir(runID string) string {
	return filepath.Join(os.TempDir(), "promptdeck-e2e", runID)
}

// finish builds the report from records, writes it out, mirrors the run
// directory when configured and prints the console summary.
func (a *agent) finish(ctx context.Context, cfg *config.Config, writer *artifacts.Writer, collector *metrics.Collector, records []*outcome.Record, started time.Time, out io.Writer) *report.Report {
	rep := report.Build(cfg.RunID, records)
	obs.From(ctx).Info("run_finished",
		"pkg", "main",
		"total", rep.Summary.Total,
		"passed", rep.Summary.Passed,
		"failed", rep.Summary.Failed,
		"skipped", rep.Summary.Skipped,
		"dur_ms", time.Since(started).Milliseconds(),
	)
	a.writeReports(ctx, cfg, writer, collector, rep)

	if cfg.MirrorEnabled() {
		a.mirror(ctx, cfg, writer)
	}
	rep.RenderConsole(out)
	fmt.Fprintf(out, "\nArtifacts: %s\n", writer.RunDir)
	return rep
}

// writeReports logs write failures and keeps going so one bad sink does not
// cost the others.
func (a *agent) writeReports(ctx context.Context, cfg *config.Config, writer *artifacts.Writer, collector *metrics.Collector, rep *report.Report) {
	logger := obs.From(ctx).With("pkg", "main")

	jsonPath := writer.Path("report.json")
	if err := rep.WriteJSON(jsonPath); err != nil {
		logger.Error("report_write_failed", "format", "json", "error", err.Error())
	} else {
		writer.Track(jsonPath)
	}
	if _, err := writer.WriteText("report.md", rep.Markdown()); err != nil {
		logger.Error("report_write_failed", "format", "markdown", "error", err.Error())
	}
	if _, err := writer.WriteBytes("report.html", rep.HTML()); err != nil {
		logger.Error("report_write_failed", "format", "html", "error", err.Error())
	}
	if cfg.MetricsPath != "" {
		if err := collector.Write(cfg.MetricsPath); err != nil {
			logger.Error("metrics_write_failed", "path", cfg.MetricsPath, "error", err.Error())
		}
	}
}

// mirror uploads the run directory. It runs even after an interrupt.
func (a *agent) mirror(ctx context.Context, cfg *config.Config, writer *artifacts.Writer) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()

	client, err := a.mirrorClient(ctx, cfg)
	if err != nil {
		obs.From(ctx).Error("mirror_setup_failed", "pkg", "main", "error", err.Error())
		return
	}
	artifacts.NewMirror(client, cfg.RunID).Flush(ctx, writer)
}

func printPlan(w io.Writer, groups []scenario.Group, plan *config.Plan) {
	for _, g := range groups {
		fmt.Fprintf(w, "%s %s\n", g.ID, g.Name)
		selected := plan.SelectsGroup(g.ID, g.Name)
		for _, s := range g.Scenarios {
			mark := ""
			if !selected || !plan.SelectsScenario(s.ID) {
				mark = "  (not selected)"
			}
			fmt.Fprintf(w, "  %-5s %s%s\n", s.ID, s.Name, mark)
		}
	}
}

package scenario

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/kuitang/promptdeck-e2e/internal/config"
	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/obs"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
	"github.com/kuitang/promptdeck-e2e/internal/world"
)

const (
	// SetupID and SetupName identify the synthetic record for a run that
	// could not start.
	SetupID   = "T0.0"
	SetupName = "setup"

	screenshotTimeout = 10 * time.Second
)

// Runner executes groups in declared order. It never stops because a
// scenario failed; only a cancelled context ends the run early.
type Runner struct {
	World *world.World
	Plan  *config.Plan

	records []*outcome.Record
}

// NewRunner returns a runner over w using w's plan.
func NewRunner(w *world.World) *Runner {
	r := &Runner{World: w}
	if w.Config != nil {
		r.Plan = w.Config.Plan
	}
	return r
}

// Records returns the records collected so far, in run order.
func (r *Runner) Records() []*outcome.Record {
	return append([]*outcome.Record(nil), r.records...)
}

// Add appends a record produced outside the runner, such as a setup
// failure.
func (r *Runner) Add(rec *outcome.Record) {
	r.records = append(r.records, rec)
}

// Run executes every selected scenario of groups once and returns all
// records. Scenarios the plan excludes are recorded as skipped.
func (r *Runner) Run(ctx context.Context, groups []Group) []*outcome.Record {
	logger := obs.From(ctx).With("pkg", "scenario")
	for _, g := range groups {
		groupSelected := r.Plan.SelectsGroup(g.ID, g.Name)
		for _, s := range g.Scenarios {
			if err := ctx.Err(); err != nil {
				logger.Warn("run_interrupted", "next_scenario", s.ID, "error", err.Error())
				return r.Records()
			}
			if !groupSelected || !r.Plan.SelectsScenario(s.ID) {
				r.Add(r.skipped(g, s, "not selected by plan"))
				continue
			}
			r.Add(r.RunScenario(ctx, g, s))
		}
	}
	return r.Records()
}

// RunScenario runs one scenario and returns its finished record.
func (r *Runner) RunScenario(ctx context.Context, g Group, s Scenario) *outcome.Record {
	if missing := r.World.Missing(s.Needs); len(missing) > 0 {
		return r.skipped(g, s, "requires "+strings.Join(missing, ", "))
	}

	ctx = obs.WithScenario(ctx, g.Name, s.ID)
	logger := obs.From(ctx).With("pkg", "scenario")
	rec := r.newRecord(g, s)
	_ = rec.Start()
	logger.Info("scenario_start", "name", s.Name)

	err := invoke(ctx, r.World, s, rec)
	if !rec.Status().Terminal() {
		switch reason, skip := IsSkip(err); {
		case err == nil:
			_ = rec.Pass(nil)
		case skip:
			_ = rec.Skip(reason)
		default:
			_ = rec.Fail(err.Error(), r.screenshot(ctx, rec), outcome.Details{
				"error_code": outcome.String(string(errs.CodeOf(err))),
			})
		}
	}

	r.observe(g, rec)
	attrs := []any{
		"name", s.Name,
		"status", string(rec.Status()),
		"dur_ms", rec.Duration().Milliseconds(),
	}
	if msg := rec.ErrorMessage(); msg != "" {
		attrs = append(attrs, "error", msg)
	}
	if rec.Status() == outcome.StatusFailed {
		logger.Warn("scenario_end", attrs...)
	} else {
		logger.Info("scenario_end", attrs...)
	}
	return rec
}

// SetupFailure is the record for a run whose setup failed, so the report is
// still produced.
func SetupFailure(err error) *outcome.Record {
	rec := outcome.New(SetupID, SetupName)
	rec.Group = SetupName
	_ = rec.Start()
	_ = rec.Fail(err.Error(), "", outcome.Details{
		"error_code": outcome.String(string(errs.CodeOf(err))),
	})
	return rec
}

func (r *Runner) newRecord(g Group, s Scenario) *outcome.Record {
	now := time.Now
	if r.World.Now != nil {
		now = r.World.Now
	}
	rec := outcome.NewWithClock(s.ID, s.Name, now)
	rec.Group = g.Name
	return rec
}

func (r *Runner) skipped(g Group, s Scenario, reason string) *outcome.Record {
	rec := r.newRecord(g, s)
	_ = rec.Skip(reason)
	r.observe(g, rec)
	obs.Pkg("scenario").Debug("scenario_skipped", "scenario_id", s.ID, "reason", reason)
	return rec
}

func (r *Runner) observe(g Group, rec *outcome.Record) {
	if r.World.Metrics != nil {
		r.World.Metrics.ObserveScenario(g.Name, string(rec.Status()), rec.Duration())
	}
}

// invoke runs the body, turning a panic into an internal error.
func invoke(ctx context.Context, w *world.World, s Scenario, rec *outcome.Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			obs.From(ctx).Error("scenario_panic", "pkg", "scenario", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			err = errs.New(errs.Internal, fmt.Sprintf("panic: %v", p))
		}
	}()
	return s.Run(ctx, w, rec)
}

// screenshot captures the page for a failed record. It runs even when ctx
// is cancelled so an interrupted scenario still leaves evidence.
func (r *Runner) screenshot(ctx context.Context, rec *outcome.Record) string {
	w := r.World
	if w.Browser == nil || w.Artifacts == nil {
		return ""
	}
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	path := w.Artifacts.ScreenshotPath(rec.ID + "_" + rec.Name)
	if err := w.Browser.Screenshot(shotCtx, path); err != nil {
		obs.From(ctx).Warn("failure_screenshot_failed", "pkg", "scenario", "error", err.Error())
		return ""
	}
	w.Artifacts.Track(path)
	return path
}

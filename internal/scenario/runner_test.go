package scenario

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/promptdeck-e2e/internal/artifacts"
	"github.com/kuitang/promptdeck-e2e/internal/browser"
	"github.com/kuitang/promptdeck-e2e/internal/config"
	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/metrics"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
	"github.com/kuitang/promptdeck-e2e/internal/world"
)

func newWorld(t *testing.T) *world.World {
	t.Helper()
	writer, err := artifacts.NewWriter(t.TempDir())
	require.NoError(t, err)
	return &world.World{
		Config:    &config.Config{Plan: &config.Plan{}},
		Browser:   browser.NewFake("http://deck.test"),
		Artifacts: writer,
		Metrics:   metrics.NewCollector(),
	}
}

func pass(context.Context, *world.World, *outcome.Record) error { return nil }

type summary struct {
	ID     string
	Status outcome.Status
	Error  string
}

func summarize(records []*outcome.Record) []summary {
	out := make([]summary, 0, len(records))
	for _, r := range records {
		out = append(out, summary{ID: r.ID, Status: r.Status(), Error: r.ErrorMessage()})
	}
	return out
}

func TestRun_EveryScenarioOnceInOrder(t *testing.T) {
	w := newWorld(t)
	var order []string
	track := func(id string, err error) Func {
		return func(context.Context, *world.World, *outcome.Record) error {
			order = append(order, id)
			return err
		}
	}
	groups := []Group{
		{ID: "T1", Name: "authentication", Scenarios: []Scenario{
			{ID: "T1.1", Name: "a", Run: track("T1.1", nil)},
			{ID: "T1.2", Name: "b", Run: track("T1.2", errs.New(errs.NotFound, "element not found"))},
		}},
		{ID: "T2", Name: "prompts", Scenarios: []Scenario{
			{ID: "T2.1", Name: "c", Run: track("T2.1", Skip("no prerequisite"))},
			{ID: "T2.2", Name: "d", Run: track("T2.2", nil)},
		}},
	}

	records := NewRunner(w).Run(context.Background(), groups)

	assert.Equal(t, []string{"T1.1", "T1.2", "T2.1", "T2.2"}, order)
	want := []summary{
		{ID: "T1.1", Status: outcome.StatusPassed},
		{ID: "T1.2", Status: outcome.StatusFailed, Error: "element not found"},
		{ID: "T2.1", Status: outcome.StatusSkipped, Error: "no prerequisite"},
		{ID: "T2.2", Status: outcome.StatusPassed},
	}
	if diff := cmp.Diff(want, summarize(records)); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "prompts", records[2].Group)

	promPath := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, w.Metrics.Write(promPath))
	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `e2e_scenarios_total{status="passed"} 2`)
	assert.Contains(t, string(prom), `e2e_scenarios_total{status="skipped"} 1`)
}

func TestRunScenario_FailureTakesScreenshot(t *testing.T) {
	w := newWorld(t)
	s := Scenario{ID: "T2.1", Name: "create prompt", Run: func(context.Context, *world.World, *outcome.Record) error {
		return errors.New("save button never appeared")
	}}

	rec := NewRunner(w).RunScenario(context.Background(), Group{ID: "T2", Name: "prompts"}, s)

	require.Equal(t, outcome.StatusFailed, rec.Status())
	arts := rec.Artifacts()
	require.Len(t, arts, 1)
	assert.Contains(t, arts[0], "T2.1_create_prompt_")
	_, err := os.Stat(arts[0])
	require.NoError(t, err)
	assert.Contains(t, w.Artifacts.Written(), arts[0])

	code, ok := rec.Detail("error_code")
	require.True(t, ok)
	assert.Equal(t, "internal", code.String())
}

func TestRunScenario_PanicBecomesFailure(t *testing.T) {
	w := newWorld(t)
	w.Browser = nil
	s := Scenario{ID: "T1.1", Name: "boom", Run: func(context.Context, *world.World, *outcome.Record) error {
		var m map[string]int
		m["x"] = 1
		return nil
	}}

	rec := NewRunner(w).RunScenario(context.Background(), Group{ID: "T1", Name: "authentication"}, s)
	assert.Equal(t, outcome.StatusFailed, rec.Status())
	assert.True(t, strings.HasPrefix(rec.ErrorMessage(), "panic: "))
	assert.Empty(t, rec.Artifacts())
}

func TestRunScenario_UnmetNeedsSkipWithoutStarting(t *testing.T) {
	w := newWorld(t)
	ran := false
	s := Scenario{ID: "T3.1", Name: "tag", Needs: []string{world.FactLoggedIn, world.FactPrompt}, Run: func(context.Context, *world.World, *outcome.Record) error {
		ran = true
		return nil
	}}

	rec := NewRunner(w).RunScenario(context.Background(), Group{ID: "T3", Name: "tagging"}, s)
	assert.False(t, ran)
	assert.Equal(t, outcome.StatusSkipped, rec.Status())
	assert.Equal(t, "requires logged_in, prompt", rec.ErrorMessage())
	assert.Zero(t, rec.Duration())
}

func TestRunScenario_BodyOutcomeWins(t *testing.T) {
	w := newWorld(t)
	s := Scenario{ID: "T1.1", Name: "self-finished", Run: func(_ context.Context, _ *world.World, rec *outcome.Record) error {
		_ = rec.Fail("assertion failed", "", nil)
		return errors.New("also returned")
	}}
	rec := NewRunner(w).RunScenario(context.Background(), Group{ID: "T1", Name: "authentication"}, s)
	assert.Equal(t, "assertion failed", rec.ErrorMessage())
	assert.Empty(t, rec.Artifacts())

	s.Run = func(_ context.Context, _ *world.World, rec *outcome.Record) error {
		return rec.Note("url", outcome.String("https://x/prompts"))
	}
	rec = NewRunner(w).RunScenario(context.Background(), Group{ID: "T1", Name: "authentication"}, s)
	assert.Equal(t, outcome.StatusPassed, rec.Status())
	v, ok := rec.Detail("url")
	require.True(t, ok)
	assert.Equal(t, "https://x/prompts", v.String())
}

func TestRun_PlanSelection(t *testing.T) {
	w := newWorld(t)
	w.Config.Plan = &config.Plan{Groups: []string{"prompts"}, Skip: []string{"T2.2"}}
	groups := []Group{
		{ID: "T1", Name: "authentication", Scenarios: []Scenario{{ID: "T1.1", Name: "a", Run: pass}}},
		{ID: "T2", Name: "prompts", Scenarios: []Scenario{
			{ID: "T2.1", Name: "b", Run: pass},
			{ID: "T2.2", Name: "c", Run: pass},
		}},
	}

	records := NewRunner(w).Run(context.Background(), groups)
	want := []summary{
		{ID: "T1.1", Status: outcome.StatusSkipped, Error: "not selected by plan"},
		{ID: "T2.1", Status: outcome.StatusPassed},
		{ID: "T2.2", Status: outcome.StatusSkipped, Error: "not selected by plan"},
	}
	if diff := cmp.Diff(want, summarize(records)); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_CancelledContextStopsBeforeNextScenario(t *testing.T) {
	w := newWorld(t)
	ctx, cancel := context.WithCancel(context.Background())
	groups := []Group{{ID: "T1", Name: "authentication", Scenarios: []Scenario{
		{ID: "T1.1", Name: "a", Run: func(context.Context, *world.World, *outcome.Record) error {
			cancel()
			return nil
		}},
		{ID: "T1.2", Name: "b", Run: pass},
	}}}

	records := NewRunner(w).Run(ctx, groups)
	require.Len(t, records, 1)
	assert.Equal(t, "T1.1", records[0].ID)
}

func TestSetupFailure(t *testing.T) {
	rec := SetupFailure(errs.New(errs.Unavailable, "could not start playwright"))
	assert.Equal(t, SetupID, rec.ID)
	assert.Equal(t, outcome.StatusFailed, rec.Status())
	assert.Contains(t, rec.ErrorMessage(), "could not start playwright")
	code, _ := rec.Detail("error_code")
	assert.Equal(t, "unavailable", code.String())
}

func TestValidate(t *testing.T) {
	ok := []Group{{ID: "T1", Name: "a", Scenarios: []Scenario{{ID: "T1.1", Run: pass}}}}
	require.NoError(t, Validate(ok))

	bad := []Group{
		{ID: "T1", Name: "a", Scenarios: []Scenario{{ID: "T1.1", Run: pass}, {ID: "T1.1", Run: pass}}},
		{ID: "T2", Name: "b", Scenarios: []Scenario{{ID: "T3.1"}}},
	}
	err := Validate(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate scenario id T1.1")
	assert.Contains(t, err.Error(), "T3.1 is not numbered under group T2")
	assert.Contains(t, err.Error(), "T3.1 has no body")
}

func TestIsSkip(t *testing.T) {
	reason, ok := IsSkip(Skipf("no %s yet", "key"))
	assert.True(t, ok)
	assert.Equal(t, "no key yet", reason)

	_, ok = IsSkip(errors.New("x"))
	assert.False(t, ok)
}

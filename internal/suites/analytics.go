package suites

import (
	"context"
	"strconv"

	"github.com/kuitang/promptdeck-e2e/internal/apiclient"
	"github.com/kuitang/promptdeck-e2e/internal/obs"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
	"github.com/kuitang/promptdeck-e2e/internal/scenario"
	"github.com/kuitang/promptdeck-e2e/internal/world"
)

// Analytics is group T5. It writes no facts.
func Analytics() scenario.Group {
	return scenario.Group{
		ID:   "T5",
		Name: "analytics",
		Scenarios: []scenario.Scenario{
			{ID: "T5.1", Name: "dashboard renders", Needs: []string{world.FactLoggedIn}, Run: dashboardRenders},
			{ID: "T5.2", Name: "tracked event increments summary", Run: eventIncrementsSummary},
			{ID: "T5.3", Name: "summary readable with API key", Run: summaryWithAPIKey},
		},
	}
}

func dashboardRenders(ctx context.Context, w *world.World, rec *outcome.Record) error {
	trace, err := visit(ctx, w, "/analytics", selDashboard...)
	if err != nil {
		return err
	}
	note(rec, "marker", outcome.String(trace.Winner()))
	return nil
}

func eventIncrementsSummary(ctx context.Context, w *world.World, rec *outcome.Record) error {
	api, err := w.Session()
	if err != nil {
		return err
	}
	before, err := api.AnalyticsSummary(ctx)
	if err != nil {
		return err
	}
	ev := apiclient.Event{
		Type:       "prompt_view",
		PromptID:   w.PromptID,
		Properties: map[string]any{"source": "e2e"},
	}
	if err := api.TrackEvent(ctx, ev); err != nil {
		return err
	}
	after, err := api.AnalyticsSummary(ctx)
	if err != nil {
		return err
	}
	note(rec, "before", outcome.Int(before.TotalEvents))
	note(rec, "after", outcome.Int(after.TotalEvents))
	if after.TotalEvents != before.TotalEvents+1 {
		return mismatch("total events went from %d to %d, want +1", before.TotalEvents, after.TotalEvents)
	}
	if after.ByType[ev.Type] != before.ByType[ev.Type]+1 {
		return mismatch("%s events went from %d to %d, want +1", ev.Type, before.ByType[ev.Type], after.ByType[ev.Type])
	}

	if !w.LoggedIn {
		return nil
	}
	if _, err := visit(ctx, w, "/analytics", selEventTotal); err != nil {
		return err
	}
	shown, err := w.Browser.Text(ctx, selEventTotal)
	if err != nil {
		return err
	}
	if shown != strconv.Itoa(after.TotalEvents) {
		return mismatch("dashboard shows %s events, API reports %d", shown, after.TotalEvents)
	}
	return nil
}

// summaryWithAPIKey issues its own key so it does not depend on the api keys
// group, and revokes it afterwards.
func summaryWithAPIKey(ctx context.Context, w *world.World, rec *outcome.Record) error {
	api, err := w.Session()
	if err != nil {
		return err
	}
	key, err := api.CreateAPIKey(ctx, world.UniqueName("e2e-analytics"))
	if err != nil {
		return err
	}
	defer func() {
		if err := api.RevokeAPIKey(context.WithoutCancel(ctx), key.ID); err != nil {
			obs.From(ctx).Warn("revoke_scratch_key_failed", "pkg", "suites", "key_id", key.ID, "error", err.Error())
		}
	}()
	if key.Key == "" {
		return mismatch("key creation did not return a secret")
	}

	sum, err := w.API.WithAPIKey(key.Key).AnalyticsSummary(ctx)
	if err != nil {
		return err
	}
	note(rec, "total_events", outcome.Int(sum.TotalEvents))
	note(rec, "event_types", outcome.Int(len(sum.ByType)))
	return nil
}

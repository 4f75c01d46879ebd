package suites

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/kuitang/promptdeck-e2e/internal/apiclient"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
	"github.com/kuitang/promptdeck-e2e/internal/scenario"
	"github.com/kuitang/promptdeck-e2e/internal/world"
)

var experimentVariants = []string{"control", "treatment"}

// Experiments is group T6. It owns ExperimentID.
func Experiments() scenario.Group {
	exp := []string{world.FactExperiment}
	return scenario.Group{
		ID:   "T6",
		Name: "experiments",
		Scenarios: []scenario.Scenario{
			{ID: "T6.1", Name: "create experiment", Needs: []string{world.FactPrompt}, Run: createExperiment},
			{ID: "T6.2", Name: "start experiment", Needs: exp, Run: startExperiment},
			{ID: "T6.3", Name: "variant assignment is sticky", Needs: exp, Run: stickyAssignment},
			{ID: "T6.4", Name: "results report both variants", Needs: exp, Run: experimentResults},
			{ID: "T6.5", Name: "experiment page shows status", Needs: []string{world.FactLoggedIn, world.FactExperiment}, Run: experimentPage},
		},
	}
}

func createExperiment(ctx context.Context, w *world.World, rec *outcome.Record) error {
	api, err := w.Session()
	if err != nil {
		return err
	}
	body := w.Fixture("prompt_body", defaultPromptBody)
	exp, err := api.CreateExperiment(ctx, apiclient.ExperimentInput{
		Name:     world.UniqueName("e2e-experiment"),
		PromptID: w.PromptID,
		Variants: []apiclient.Variant{
			{Name: experimentVariants[0], Body: body, Weight: 50},
			{Name: experimentVariants[1], Body: w.Fixture("variant_body", body+"\n\nAnswer concisely."), Weight: 50},
		},
	})
	if err != nil {
		return err
	}
	if exp.ID == "" {
		return mismatch("experiment created without an id")
	}
	w.ExperimentID = exp.ID
	note(rec, "experiment_id", outcome.String(exp.ID))
	note(rec, "status", outcome.String(exp.Status))
	if exp.Status != "draft" {
		return mismatch("new experiment is %q, want draft", exp.Status)
	}
	return nil
}

func startExperiment(ctx context.Context, w *world.World, rec *outcome.Record) error {
	api, err := w.Session()
	if err != nil {
		return err
	}
	exp, err := api.StartExperiment(ctx, w.ExperimentID)
	if err != nil {
		return err
	}
	note(rec, "status", outcome.String(exp.Status))
	if exp.Status != "running" {
		return mismatch("started experiment is %q, want running", exp.Status)
	}
	return nil
}

func stickyAssignment(ctx context.Context, w *world.World, rec *outcome.Record) error {
	api, err := w.Session()
	if err != nil {
		return err
	}
	subject := world.UniqueName("subject")
	first := ""
	for i := 0; i < 3; i++ {
		a, err := api.AssignVariant(ctx, w.ExperimentID, subject)
		if err != nil {
			return err
		}
		if i == 0 {
			first = a.Variant
			continue
		}
		if a.Variant != first {
			return mismatch("subject %s moved from %q to %q", subject, first, a.Variant)
		}
	}
	known := false
	for _, v := range experimentVariants {
		known = known || v == first
	}
	if !known {
		return mismatch("assigned unknown variant %q", first)
	}
	note(rec, "variant", outcome.String(first))
	return nil
}

func experimentResults(ctx context.Context, w *world.World, rec *outcome.Record) error {
	api, err := w.Session()
	if err != nil {
		return err
	}
	res, err := api.ExperimentResults(ctx, w.ExperimentID)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(res.Variants))
	assigned := 0
	for _, v := range res.Variants {
		names = append(names, v.Name)
		assigned += v.Assignments
	}
	sort.Strings(names)
	note(rec, "variants", outcome.JSON(res.Variants))
	if strings.Join(names, ",") != strings.Join(experimentVariants, ",") {
		return mismatch("results list variants %v, want %v", names, experimentVariants)
	}
	if assigned < 1 {
		return mismatch("results report no assignments")
	}
	return nil
}

func experimentPage(ctx context.Context, w *world.World, rec *outcome.Record) error {
	if _, err := visit(ctx, w, "/experiments/"+url.PathEscape(w.ExperimentID), selExpStatus); err != nil {
		return err
	}
	status, err := w.Browser.Text(ctx, selExpStatus)
	if err != nil {
		return err
	}
	note(rec, "status", outcome.String(status))
	if !containsFold(status, "running") {
		return mismatch("experiment page shows %q, want running", status)
	}
	return nil
}

package suites

import (
	"context"
	"net/url"
	"strings"

	"github.com/kuitang/promptdeck-e2e/internal/browser"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
	"github.com/kuitang/promptdeck-e2e/internal/scenario"
	"github.com/kuitang/promptdeck-e2e/internal/world"
)

// Tagging is group T3. It owns TagName.
func Tagging() scenario.Group {
	return scenario.Group{
		ID:   "T3",
		Name: "tagging",
		Scenarios: []scenario.Scenario{
			{ID: "T3.1", Name: "add tag via UI", Needs: []string{world.FactLoggedIn, world.FactPrompt}, Run: addTagViaUI},
			{ID: "T3.2", Name: "filter list by tag", Needs: []string{world.FactLoggedIn, world.FactPrompt, world.FactTag}, Run: filterByTag},
			{ID: "T3.3", Name: "tag visible through API", Needs: []string{world.FactPrompt, world.FactTag}, Run: tagVisibleThroughAPI},
		},
	}
}

func addTagViaUI(ctx context.Context, w *world.World, rec *outcome.Record) error {
	tag := strings.ToLower(world.UniqueName(w.Fixture("tag_prefix", "e2e")))
	if _, err := visit(ctx, w, "/prompts/"+url.PathEscape(w.PromptID), selTagInput...); err != nil {
		return err
	}
	if _, err := browser.FillAny(ctx, w.Exec, w.Browser, "tag name", tag, selTagInput...); err != nil {
		return err
	}
	trace, err := browser.ClickAny(ctx, w.Exec, w.Browser, "add tag", selAddTag...)
	noteTrace(rec, trace)
	if err != nil {
		return err
	}
	if err := w.Browser.WaitVisible(ctx, tagChip(tag)); err != nil {
		return mismatch("tag %q did not appear on the prompt", tag)
	}
	w.TagName = tag
	note(rec, "tag", outcome.String(tag))
	return nil
}

func filterByTag(ctx context.Context, w *world.World, rec *outcome.Record) error {
	path := "/prompts?tag=" + url.QueryEscape(w.TagName)
	if _, err := visit(ctx, w, path); err != nil {
		return err
	}
	if err := w.Browser.WaitVisible(ctx, promptRow(w.PromptID)); err != nil {
		return mismatch("prompt %s missing from the %q filter", w.PromptID, w.TagName)
	}
	note(rec, "url", outcome.String(w.Browser.URL()))
	return nil
}

func tagVisibleThroughAPI(ctx context.Context, w *world.World, rec *outcome.Record) error {
	api, err := w.Session()
	if err != nil {
		return err
	}
	tags, err := api.ListTags(ctx)
	if err != nil {
		return err
	}
	count := 0
	for _, t := range tags {
		if t.Name == w.TagName {
			count = t.Count
		}
	}
	if count < 1 {
		return mismatch("tag %q not listed by the API", w.TagName)
	}
	note(rec, "tag_count", outcome.Int(count))

	prompts, err := api.ListPrompts(ctx, w.TagName)
	if err != nil {
		return err
	}
	for _, p := range prompts {
		if p.ID == w.PromptID {
			note(rec, "tagged_prompts", outcome.Int(len(prompts)))
			return nil
		}
	}
	return mismatch("API tag filter %q does not return prompt %s", w.TagName, w.PromptID)
}

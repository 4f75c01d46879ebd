package suites

import (
	"context"
	"net/url"
	"strings"

	"github.com/kuitang/promptdeck-e2e/internal/apiclient"
	"github.com/kuitang/promptdeck-e2e/internal/browser"
	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
	"github.com/kuitang/promptdeck-e2e/internal/scenario"
	"github.com/kuitang/promptdeck-e2e/internal/urlutil"
	"github.com/kuitang/promptdeck-e2e/internal/world"
)

const defaultPromptBody = "Summarize the following text in three bullet points:\n\n{{text}}"

// Prompts is group T2. It owns PromptID and PromptTitle.
func Prompts() scenario.Group {
	ui := []string{world.FactLoggedIn}
	return scenario.Group{
		ID:   "T2",
		Name: "prompts",
		Scenarios: []scenario.Scenario{
			{ID: "T2.1", Name: "create prompt via UI", Needs: ui, Run: createPromptViaUI},
			{ID: "T2.2", Name: "prompt visible in list", Needs: []string{world.FactLoggedIn, world.FactPrompt}, Run: promptVisibleInList},
			{ID: "T2.3", Name: "edit prompt via UI", Needs: []string{world.FactLoggedIn, world.FactPrompt}, Run: editPromptViaUI},
			{ID: "T2.4", Name: "API read-back matches", Needs: []string{world.FactPrompt}, Run: promptReadBack},
			{ID: "T2.5", Name: "API delete removes prompt from UI", Needs: ui, Run: deletePromptViaAPI},
		},
	}
}

func createPromptViaUI(ctx context.Context, w *world.World, rec *outcome.Record) error {
	title := world.UniqueName(w.Fixture("prompt_title_prefix", "e2e-prompt"))
	body := w.Fixture("prompt_body", defaultPromptBody)

	if _, err := visit(ctx, w, "/prompts"); err != nil {
		return err
	}
	trace, err := openVia(ctx, w, "open new prompt form", "/prompts/new", selNewPrompt, selTitle...)
	noteTrace(rec, trace)
	if err != nil {
		return err
	}
	if _, err := browser.FillAny(ctx, w.Exec, w.Browser, "prompt title", title, selTitle...); err != nil {
		return err
	}
	if _, err := browser.FillAny(ctx, w.Exec, w.Browser, "prompt body", body, selBody...); err != nil {
		return err
	}
	trace, err = browser.ClickAny(ctx, w.Exec, w.Browser, "save prompt", selSubmit...)
	noteTrace(rec, trace)
	if err != nil {
		return err
	}
	if err := w.Browser.WaitForURL(ctx, "**/prompts/*"); err != nil {
		return mismatch("saving did not open the prompt page (at %s)", w.Browser.URL())
	}
	id := urlutil.LastSegment(w.Browser.URL())
	if id == "" || id == "new" || id == "prompts" {
		flash, _ := browser.FlashText(ctx, w.Browser, selFlash...)
		return mismatch("prompt was not created (at %s) %s", w.Browser.URL(), flash)
	}

	w.PromptID = id
	w.PromptTitle = title
	note(rec, "prompt_id", outcome.String(id))
	note(rec, "title", outcome.String(title))
	return nil
}

func promptVisibleInList(ctx context.Context, w *world.World, rec *outcome.Record) error {
	row := promptRow(w.PromptID)
	if _, err := visit(ctx, w, "/prompts", row); err != nil {
		return err
	}
	text, err := w.Browser.Text(ctx, row)
	if err != nil {
		return err
	}
	if !strings.Contains(text, w.PromptTitle) {
		return mismatch("list shows %q for %s, want %q", text, w.PromptID, w.PromptTitle)
	}
	note(rec, "row", outcome.String(text))
	return nil
}

func editPromptViaUI(ctx context.Context, w *world.World, rec *outcome.Record) error {
	page := "/prompts/" + url.PathEscape(w.PromptID)
	if _, err := visit(ctx, w, page, selPromptHead...); err != nil {
		return err
	}
	trace, err := openVia(ctx, w, "open edit form", page+"/edit", selEditLink, selTitle...)
	noteTrace(rec, trace)
	if err != nil {
		return err
	}

	newTitle := w.PromptTitle + " (edited)"
	if _, err := browser.FillAny(ctx, w.Exec, w.Browser, "prompt title", newTitle, selTitle...); err != nil {
		return err
	}
	trace, err = browser.ClickAny(ctx, w.Exec, w.Browser, "save prompt", selSubmit...)
	noteTrace(rec, trace)
	if err != nil {
		return err
	}
	if _, err := browser.VisibleAny(ctx, w.Exec, w.Browser, "prompt title", selPromptHead...); err != nil {
		return err
	}
	shown, err := w.Browser.Text(ctx, selPromptHead[0])
	if err != nil {
		return err
	}
	if shown != newTitle {
		return mismatch("prompt page shows %q after edit, want %q", shown, newTitle)
	}
	w.PromptTitle = newTitle
	note(rec, "title", outcome.String(newTitle))
	return nil
}

func promptReadBack(ctx context.Context, w *world.World, rec *outcome.Record) error {
	api, err := w.Session()
	if err != nil {
		return err
	}
	p, err := api.GetPrompt(ctx, w.PromptID)
	if err != nil {
		return err
	}
	if p.Title != w.PromptTitle {
		return mismatch("API title %q, UI title %q", p.Title, w.PromptTitle)
	}
	note(rec, "updated_at", outcome.String(p.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")))
	return nil
}

func deletePromptViaAPI(ctx context.Context, w *world.World, rec *outcome.Record) error {
	api, err := w.Session()
	if err != nil {
		return err
	}
	tmp, err := api.CreatePrompt(ctx, apiclient.PromptInput{
		Title: world.UniqueName("e2e-delete"),
		Body:  "scratch prompt",
	})
	if err != nil {
		return err
	}
	note(rec, "prompt_id", outcome.String(tmp.ID))
	if err := api.DeletePrompt(ctx, tmp.ID); err != nil {
		return err
	}

	_, err = api.GetPrompt(ctx, tmp.ID)
	switch {
	case err == nil:
		return mismatch("prompt %s still readable after delete", tmp.ID)
	case !errs.Is(err, errs.NotFound):
		return err
	}

	if _, err := visit(ctx, w, "/prompts"); err != nil {
		return err
	}
	n, err := w.Browser.Count(ctx, promptRow(tmp.ID))
	if err != nil {
		return err
	}
	if n != 0 {
		return mismatch("deleted prompt %s still listed in the UI", tmp.ID)
	}
	return nil
}

// Package suites holds the promptdeck scenarios, grouped the way the run
// reports them: authentication, prompts, tagging, api keys, analytics and
// experiments.
package suites

import (
	"context"
	"fmt"
	"strings"

	"github.com/kuitang/promptdeck-e2e/internal/browser"
	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/fallback"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
	"github.com/kuitang/promptdeck-e2e/internal/urlutil"
	"github.com/kuitang/promptdeck-e2e/internal/world"
)

// Selectors, most specific first. Later entries cover older page layouts.
var (
	selLoginForm  = []string{"form#login-form", "form[action='/login']"}
	selEmail      = []string{"input[name=email]", "#email", "input[type=email]"}
	selPassword   = []string{"input[name=password]", "#password", "input[type=password]"}
	selSubmit     = []string{"button[type=submit]", "input[type=submit]", "form button.primary"}
	selFlash      = []string{".flash-error", ".alert-danger", "[role=alert]"}
	selLogout     = []string{"button#logout", "a[href='/logout']", "form[action='/logout'] button"}
	selNewPrompt  = []string{"a.new-prompt", "a[href='/prompts/new']"}
	selTitle      = []string{"input[name=title]", "#prompt-title"}
	selBody       = []string{"textarea[name=body]", "#prompt-body"}
	selPromptHead = []string{"h1.prompt-title", "[data-testid=prompt-title]"}
	selEditLink   = []string{"a.edit-prompt", "a[href$='/edit']"}
	selTagInput   = []string{"input[name=tag]", "#tag-input"}
	selAddTag     = []string{"button#add-tag", "form.tag-form button[type=submit]"}
	selKeyName    = []string{"input[name=key_name]", "#key-name"}
	selCreateKey  = []string{"button#create-key", "form.api-key-form button[type=submit]"}
	selKeyValue   = []string{"code.api-key-value", "[data-testid=new-api-key]"}
	selDashboard  = []string{"h1.analytics-title", ".metric-total-events", "[data-testid=analytics]"}
	selEventTotal = ".metric-total-events"
	selExpStatus  = ".experiment-status"
)

func promptRow(id string) string { return fmt.Sprintf(`[data-prompt-id="%s"]`, id) }
func tagChip(name string) string { return fmt.Sprintf(`.tag-list [data-tag="%s"]`, name) }
func keyRow(id string) string    { return fmt.Sprintf(`[data-key-id="%s"]`, id) }

// mismatch reports that the target did not do what the scenario expected.
func mismatch(format string, args ...any) error {
	return errs.New(errs.FailedPrecondition, fmt.Sprintf(format, args...))
}

func note(rec *outcome.Record, key string, v outcome.Value) {
	_ = rec.Note(key, v)
}

// noteTrace records which strategy carried an action.
func noteTrace(rec *outcome.Record, trace fallback.Trace) {
	if trace.Action == "" {
		return
	}
	note(rec, "via "+trace.Action, outcome.String(trace.Summary()))
}

// visit opens path and waits until one of ready is visible.
func visit(ctx context.Context, w *world.World, path string, ready ...string) (fallback.Trace, error) {
	if err := w.Browser.Goto(ctx, path); err != nil {
		return fallback.Trace{}, err
	}
	if len(ready) == 0 {
		return fallback.Trace{}, nil
	}
	return browser.VisibleAny(ctx, w.Exec, w.Browser, "load "+path, ready...)
}

// openVia clicks one of selectors, falling back to navigating to path, and
// waits for ready.
func openVia(ctx context.Context, w *world.World, action, path string, selectors []string, ready ...string) (fallback.Trace, error) {
	attempts := make([]fallback.Attempt, 0, len(selectors)+1)
	for _, sel := range selectors {
		sel := sel
		attempts = append(attempts, fallback.Try("click "+sel, func(ctx context.Context) error {
			if err := w.Browser.Click(ctx, sel); err != nil {
				return err
			}
			return w.Browser.WaitForURL(ctx, "**"+path+"*")
		}))
	}
	attempts = append(attempts, fallback.Try("navigate "+path, func(ctx context.Context) error {
		return w.Browser.Goto(ctx, path)
	}))
	trace, err := w.Exec.Do(ctx, action, attempts...)
	if err != nil {
		return trace, err
	}
	if len(ready) > 0 {
		if _, err := browser.VisibleAny(ctx, w.Exec, w.Browser, action+" ready", ready...); err != nil {
			return trace, err
		}
	}
	return trace, nil
}

// submitLogin fills and submits the login form with the given password.
func submitLogin(ctx context.Context, w *world.World, rec *outcome.Record, password string) error {
	if _, err := visit(ctx, w, "/login", selLoginForm...); err != nil {
		return err
	}
	if _, err := browser.FillAny(ctx, w.Exec, w.Browser, "email", w.Email(), selEmail...); err != nil {
		return err
	}
	if _, err := browser.FillAny(ctx, w.Exec, w.Browser, "password", password, selPassword...); err != nil {
		return err
	}
	trace, err := browser.ClickAny(ctx, w.Exec, w.Browser, "submit login", selSubmit...)
	noteTrace(rec, trace)
	return err
}

// loginViaUI logs the browser in with the configured account.
func loginViaUI(ctx context.Context, w *world.World, rec *outcome.Record) error {
	if w.Email() == "" || w.Password() == "" {
		return errs.New(errs.FailedPrecondition, "no account credentials configured")
	}
	if err := submitLogin(ctx, w, rec, w.Password()); err != nil {
		return err
	}
	if err := w.Browser.WaitForURL(ctx, "**/prompts**"); err != nil {
		flash, _ := browser.FlashText(ctx, w.Browser, selFlash...)
		if flash != "" {
			return mismatch("login did not reach /prompts: %s", flash)
		}
		return errs.Wrap(errs.CodeOf(err), "login did not reach /prompts (at "+w.Browser.URL()+")", err)
	}
	w.LoggedIn = true
	note(rec, "url", outcome.String(w.Browser.URL()))
	return nil
}

func onRoute(w *world.World, route string) bool {
	return urlutil.OnRoute(w.Browser.URL(), route)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

package suites

import (
	"context"
	"strings"

	"github.com/kuitang/promptdeck-e2e/internal/apiclient"
	"github.com/kuitang/promptdeck-e2e/internal/browser"
	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
	"github.com/kuitang/promptdeck-e2e/internal/scenario"
	"github.com/kuitang/promptdeck-e2e/internal/world"
)

// Authentication is group T1. It owns LoggedIn and AccessToken.
func Authentication() scenario.Group {
	return scenario.Group{
		ID:   "T1",
		Name: "authentication",
		Scenarios: []scenario.Scenario{
			{ID: "T1.1", Name: "login page renders", Run: loginPageRenders},
			{ID: "T1.2", Name: "invalid credentials rejected", Run: invalidCredentialsRejected},
			{ID: "T1.3", Name: "login via UI", Run: loginViaUIScenario},
			{ID: "T1.4", Name: "API token issued", Run: apiTokenIssued},
			{ID: "T1.5", Name: "logout and clean re-login", Needs: []string{world.FactLoggedIn}, Run: logoutAndRelogin},
		},
	}
}

func loginPageRenders(ctx context.Context, w *world.World, rec *outcome.Record) error {
	trace, err := visit(ctx, w, "/login", selLoginForm...)
	if err != nil {
		return err
	}
	for _, group := range [][]string{selEmail, selPassword, selSubmit} {
		if _, err := browser.VisibleAny(ctx, w.Exec, w.Browser, "login field", group...); err != nil {
			return mismatch("login form is missing %s", group[0])
		}
	}
	note(rec, "form", outcome.String(trace.Winner()))
	note(rec, "url", outcome.String(w.Browser.URL()))
	return nil
}

func invalidCredentialsRejected(ctx context.Context, w *world.World, rec *outcome.Record) error {
	if w.Email() == "" {
		return errs.New(errs.FailedPrecondition, "no account email configured")
	}
	if err := submitLogin(ctx, w, rec, "wrong-"+world.UniqueName("pw")); err != nil {
		return err
	}
	if _, err := browser.VisibleAny(ctx, w.Exec, w.Browser, "login error banner", selFlash...); err != nil {
		return mismatch("no error shown after a bad password (at %s)", w.Browser.URL())
	}
	flash, err := browser.FlashText(ctx, w.Browser, selFlash...)
	if err != nil {
		return err
	}
	note(rec, "flash", outcome.String(flash))
	if !onRoute(w, "/login") {
		return mismatch("bad password left the login page for %s", w.Browser.URL())
	}
	if !containsFold(flash, "invalid") {
		return mismatch("unexpected login error text %q", flash)
	}
	return nil
}

func loginViaUIScenario(ctx context.Context, w *world.World, rec *outcome.Record) error {
	return loginViaUI(ctx, w, rec)
}

func apiTokenIssued(ctx context.Context, w *world.World, rec *outcome.Record) error {
	sess, err := w.API.Login(ctx, w.Email(), w.Password())
	if err != nil {
		return err
	}
	note(rec, "token_type", outcome.String(sess.TokenType))

	info, err := apiclient.InspectToken(sess.AccessToken)
	switch {
	case errs.Is(err, errs.InvalidArgument):
		note(rec, "token_format", outcome.String("opaque"))
	case err != nil:
		return err
	default:
		note(rec, "token_format", outcome.String("jwt"))
		note(rec, "subject", outcome.String(info.Subject))
		if info.Expired(w.Clock()) {
			return mismatch("issued token already expired at %s", info.ExpiresAt)
		}
		if !info.ExpiresAt.IsZero() {
			note(rec, "expires_in_s", outcome.Int(int(info.ExpiresAt.Sub(w.Clock()).Seconds())))
		}
		if info.Email != "" && !strings.EqualFold(info.Email, w.Email()) {
			return mismatch("token email %q does not match account %q", info.Email, w.Email())
		}
	}

	me, err := w.API.WithToken(sess.AccessToken).Me(ctx)
	if err != nil {
		return err
	}
	if !strings.EqualFold(me.Email, w.Email()) {
		return mismatch("token belongs to %q, not %q", me.Email, w.Email())
	}
	w.AccessToken = sess.AccessToken
	note(rec, "user_id", outcome.String(me.ID))
	return nil
}

func logoutAndRelogin(ctx context.Context, w *world.World, rec *outcome.Record) error {
	if _, err := visit(ctx, w, "/prompts", selLogout...); err != nil {
		return err
	}
	trace, err := browser.ClickAny(ctx, w.Exec, w.Browser, "logout", selLogout...)
	noteTrace(rec, trace)
	if err != nil {
		return err
	}
	if err := w.Browser.WaitForURL(ctx, "**/login**"); err != nil {
		return mismatch("logout did not return to /login (at %s)", w.Browser.URL())
	}
	w.ForgetSession()

	// A protected page must now bounce to the login form.
	if _, err := visit(ctx, w, "/prompts", selLoginForm...); err != nil {
		return mismatch("/prompts is still reachable after logout (at %s)", w.Browser.URL())
	}
	if !onRoute(w, "/login") {
		return mismatch("/prompts did not redirect to /login after logout (at %s)", w.Browser.URL())
	}

	if err := w.Browser.ResetState(ctx); err != nil {
		return err
	}
	return loginViaUI(ctx, w, rec)
}

package suites

import (
	"context"
	"net/http"
	"strings"

	"github.com/kuitang/promptdeck-e2e/internal/apiclient"
	"github.com/kuitang/promptdeck-e2e/internal/browser"
	"github.com/kuitang/promptdeck-e2e/internal/logutil"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
	"github.com/kuitang/promptdeck-e2e/internal/scenario"
	"github.com/kuitang/promptdeck-e2e/internal/world"
)

const apiKeysPage = "/settings/api-keys"

// APIKeys is group T4. It owns APIKeyID and APIKeyValue; the key is revoked
// by the end of the group.
func APIKeys() scenario.Group {
	return scenario.Group{
		ID:   "T4",
		Name: "api keys",
		Scenarios: []scenario.Scenario{
			{ID: "T4.1", Name: "create key via UI", Needs: []string{world.FactLoggedIn, world.FactToken}, Run: createKeyViaUI},
			{ID: "T4.2", Name: "key authorises API call", Needs: []string{world.FactAPIKey}, Run: keyAuthorisesCall},
			{ID: "T4.3", Name: "key listed", Needs: []string{world.FactLoggedIn, world.FactAPIKey}, Run: keyListed},
			{ID: "T4.4", Name: "revoke key via UI", Needs: []string{world.FactLoggedIn, world.FactAPIKey}, Run: revokeKeyViaUI},
			{ID: "T4.5", Name: "revoked key rejected", Needs: []string{world.FactAPIKey}, Run: revokedKeyRejected},
		},
	}
}

func findKey(keys []apiclient.APIKey, match func(apiclient.APIKey) bool) (apiclient.APIKey, bool) {
	for _, k := range keys {
		if match(k) {
			return k, true
		}
	}
	return apiclient.APIKey{}, false
}

func createKeyViaUI(ctx context.Context, w *world.World, rec *outcome.Record) error {
	// Resolve the session first so a missing token never leaves an
	// unrevoked key behind.
	api, err := w.Session()
	if err != nil {
		return err
	}
	name := world.UniqueName("e2e-key")
	if _, err := visit(ctx, w, apiKeysPage, selKeyName...); err != nil {
		return err
	}
	if _, err := browser.FillAny(ctx, w.Exec, w.Browser, "key name", name, selKeyName...); err != nil {
		return err
	}
	trace, err := browser.ClickAny(ctx, w.Exec, w.Browser, "create key", selCreateKey...)
	noteTrace(rec, trace)
	if err != nil {
		return err
	}
	shown, err := browser.VisibleAny(ctx, w.Exec, w.Browser, "new key value", selKeyValue...)
	if err != nil {
		return mismatch("the new key was not shown after creation")
	}
	value, err := w.Browser.Text(ctx, shown.Winner())
	if err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return mismatch("the new key value is empty")
	}
	note(rec, "key", outcome.String(logutil.MaskSecret(value)))

	// The page shows the secret once; the id comes from the listing.
	keys, err := api.ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	key, ok := findKey(keys, func(k apiclient.APIKey) bool { return k.Name == name })
	if !ok {
		return mismatch("key %q created in the UI is not listed by the API", name)
	}
	w.APIKeyID = key.ID
	w.APIKeyValue = value
	note(rec, "key_id", outcome.String(key.ID))
	return nil
}

func keyAuthorisesCall(ctx context.Context, w *world.World, rec *outcome.Record) error {
	api, err := w.APIKey()
	if err != nil {
		return err
	}
	me, err := api.Me(ctx)
	if err != nil {
		return err
	}
	if !strings.EqualFold(me.Email, w.Email()) {
		return mismatch("key belongs to %q, not %q", me.Email, w.Email())
	}
	prompts, err := api.ListPrompts(ctx, "")
	if err != nil {
		return err
	}
	note(rec, "prompts_visible", outcome.Int(len(prompts)))
	return nil
}

func keyListed(ctx context.Context, w *world.World, rec *outcome.Record) error {
	if _, err := visit(ctx, w, apiKeysPage); err != nil {
		return err
	}
	if err := w.Browser.WaitVisible(ctx, keyRow(w.APIKeyID)); err != nil {
		return mismatch("key %s missing from the settings page", w.APIKeyID)
	}
	api, err := w.Session()
	if err != nil {
		return err
	}
	keys, err := api.ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	key, ok := findKey(keys, func(k apiclient.APIKey) bool { return k.ID == w.APIKeyID })
	if !ok {
		return mismatch("key %s not listed by the API", w.APIKeyID)
	}
	if key.RevokedAt != nil {
		return mismatch("key %s is already revoked", w.APIKeyID)
	}
	if key.Key != "" {
		return mismatch("key listing exposes the secret of %s", w.APIKeyID)
	}
	note(rec, "prefix", outcome.String(key.Prefix))
	return nil
}

func revokeKeyViaUI(ctx context.Context, w *world.World, rec *outcome.Record) error {
	row := keyRow(w.APIKeyID)
	if _, err := visit(ctx, w, apiKeysPage, row); err != nil {
		return err
	}
	trace, err := browser.ClickAny(ctx, w.Exec, w.Browser, "revoke key",
		row+" button.revoke",
		`button[data-revoke="`+w.APIKeyID+`"]`,
	)
	noteTrace(rec, trace)
	if err != nil {
		return err
	}

	api, err := w.Session()
	if err != nil {
		return err
	}
	keys, err := api.ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	key, ok := findKey(keys, func(k apiclient.APIKey) bool { return k.ID == w.APIKeyID })
	if ok && key.RevokedAt == nil {
		return mismatch("key %s still active after revoking it in the UI", w.APIKeyID)
	}
	return nil
}

func revokedKeyRejected(ctx context.Context, w *world.World, rec *outcome.Record) error {
	api, err := w.APIKey()
	if err != nil {
		return err
	}
	_, err = api.Me(ctx)
	if err == nil {
		return mismatch("revoked key %s is still accepted", w.APIKeyID)
	}
	status := apiclient.StatusOf(err)
	note(rec, "status", outcome.Int(status))
	if status != http.StatusUnauthorized {
		return err
	}
	return nil
}

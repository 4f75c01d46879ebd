// Package world holds the state shared by every scenario of one run: the
// browser and API handles, the artifact writer and the facts earlier
// scenarios produced for later ones.
//
// Scenarios run one at a time, so World is not synchronized. Each fact names
// the group that writes it and the groups that read it; a scenario must not
// write a fact it does not own.
package world

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/promptdeck-e2e/internal/apiclient"
	"github.com/kuitang/promptdeck-e2e/internal/artifacts"
	"github.com/kuitang/promptdeck-e2e/internal/browser"
	"github.com/kuitang/promptdeck-e2e/internal/config"
	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/fallback"
	"github.com/kuitang/promptdeck-e2e/internal/metrics"
)

// Fact names used for scenario gating.
const (
	FactLoggedIn   = "logged_in"
	FactToken      = "access_token"
	FactPrompt     = "prompt"
	FactTag        = "tag"
	FactAPIKey     = "api_key"
	FactExperiment = "experiment"
)

// World is the explicit run context passed to every scenario.
type World struct {
	Config    *config.Config
	Browser   browser.Driver
	API       *apiclient.Client // unauthenticated; see Session and APIKey
	Artifacts *artifacts.Writer
	Exec      *fallback.Executor
	Metrics   *metrics.Collector
	Logger    *slog.Logger
	Now       func() time.Time

	// LoggedIn: the browser holds a login. Written by authentication; read
	// by prompts, tagging, api keys and analytics.
	LoggedIn bool

	// AccessToken: session token from the login API. Written by
	// authentication; read through Session by every API scenario.
	AccessToken string

	// PromptID and PromptTitle: the prompt created through the UI. Written
	// by prompts (PromptTitle also on edit); read by tagging, analytics and
	// experiments.
	PromptID    string
	PromptTitle string

	// TagName: the tag added through the UI. Written and read by tagging.
	TagName string

	// APIKeyID and APIKeyValue: the key created through the UI. Written by
	// api keys and read only there; the value is revoked by the end of that
	// group.
	APIKeyID    string
	APIKeyValue string

	// ExperimentID: written and read by experiments.
	ExperimentID string
}

// Has reports whether fact is available.
func (w *World) Has(fact string) bool {
	switch fact {
	case FactLoggedIn:
		return w.LoggedIn
	case FactToken:
		return w.AccessToken != ""
	case FactPrompt:
		return w.PromptID != ""
	case FactTag:
		return w.TagName != ""
	case FactAPIKey:
		return w.APIKeyID != "" && w.APIKeyValue != ""
	case FactExperiment:
		return w.ExperimentID != ""
	default:
		return false
	}
}

// Missing returns the facts in needs that are not available, in order.
func (w *World) Missing(needs []string) []string {
	var missing []string
	for _, n := range needs {
		if !w.Has(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// RequireToken returns the session token. A missing token is a hard error:
// there is no built-in credential to fall back to.
func (w *World) RequireToken() (string, error) {
	if w.AccessToken == "" {
		return "", errs.New(errs.FailedPrecondition, "no access token: the login API scenario did not issue one")
	}
	return w.AccessToken, nil
}

// Session returns an API client authenticated with the session token.
func (w *World) Session() (*apiclient.Client, error) {
	token, err := w.RequireToken()
	if err != nil {
		return nil, err
	}
	if w.API == nil {
		return nil, errs.New(errs.FailedPrecondition, "no API client configured")
	}
	return w.API.WithToken(token), nil
}

// APIKey returns an API client authenticated with the key created in the
// api keys group.
func (w *World) APIKey() (*apiclient.Client, error) {
	if w.APIKeyValue == "" {
		return nil, errs.New(errs.FailedPrecondition, "no API key: the key creation scenario did not capture one")
	}
	if w.API == nil {
		return nil, errs.New(errs.FailedPrecondition, "no API client configured")
	}
	return w.API.WithAPIKey(w.APIKeyValue), nil
}

// ForgetSession clears the login facts after a logout.
func (w *World) ForgetSession() {
	w.LoggedIn = false
}

// UniqueName returns prefix plus a short random suffix, e.g. "prompt-1a2b3c4d".
func UniqueName(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if prefix == "" {
		return suffix
	}
	return prefix + "-" + suffix
}

// Fixture returns a plan fixture value or def.
func (w *World) Fixture(key, def string) string {
	if w.Config == nil || w.Config.Plan == nil {
		return def
	}
	return w.Config.Plan.Fixture(key, def)
}

// Email returns the configured account email.
func (w *World) Email() string {
	if w.Config == nil {
		return ""
	}
	return w.Config.Email
}

// Password returns the configured account password.
func (w *World) Password() string {
	if w.Config == nil {
		return ""
	}
	return w.Config.Password
}

// Clock returns w.Now or time.Now.
func (w *World) Clock() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

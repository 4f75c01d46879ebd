package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
)

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, errs.New(errs.InvalidArgument, "login requires email and password")
	}
	var out Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, errs.New(errs.Internal, "login response carried no access token")
	}
	return &out, nil
}

// Me returns the user behind the client's credential.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Prompts

func (c *Client) CreatePrompt(ctx context.Context, in PromptInput) (*Prompt, error) {
	var out Prompt
	if err := c.do(ctx, http.MethodPost, "/api/prompts", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPrompt(ctx context.Context, id string) (*Prompt, error) {
	var out Prompt
	if err := c.do(ctx, http.MethodGet, "/api/prompts/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdatePrompt(ctx context.Context, id string, in PromptInput) (*Prompt, error) {
	var out Prompt
	if err := c.do(ctx, http.MethodPut, "/api/prompts/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeletePrompt(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/prompts/"+url.PathEscape(id), nil, nil)
}

// ListPrompts lists prompts, optionally filtered by tag.
func (c *Client) ListPrompts(ctx context.Context, tag string) ([]Prompt, error) {
	path := "/api/prompts"
	if tag != "" {
		path += "?tag=" + url.QueryEscape(tag)
	}
	var out struct {
		Prompts []Prompt `json:"prompts"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Prompts, nil
}

// Tags

// TagPrompt adds tag to a prompt and returns the updated prompt.
func (c *Client) TagPrompt(ctx context.Context, id, tag string) (*Prompt, error) {
	var out Prompt
	body := map[string]string{"name": tag}
	if err := c.do(ctx, http.MethodPost, "/api/prompts/"+url.PathEscape(id)+"/tags", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	var out struct {
		Tags []Tag `json:"tags"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, err
	}
	return out.Tags, nil
}

// API keys

func (c *Client) CreateAPIKey(ctx context.Context, name string) (*APIKey, error) {
	var out APIKey
	if err := c.do(ctx, http.MethodPost, "/api/api-keys", map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	var out struct {
		Keys []APIKey `json:"keys"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/api-keys", nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

func (c *Client) RevokeAPIKey(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/api-keys/"+url.PathEscape(id), nil, nil)
}

// Analytics

func (c *Client) TrackEvent(ctx context.Context, ev Event) error {
	return c.do(ctx, http.MethodPost, "/api/analytics/events", ev, nil)
}

func (c *Client) AnalyticsSummary(ctx context.Context) (*AnalyticsSummary, error) {
	var out AnalyticsSummary
	if err := c.do(ctx, http.MethodGet, "/api/analytics/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Experiments

func (c *Client) CreateExperiment(ctx context.Context, in ExperimentInput) (*Experiment, error) {
	var out Experiment
	if err := c.do(ctx, http.MethodPost, "/api/experiments", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	var out Experiment
	if err := c.do(ctx, http.MethodGet, "/api/experiments/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartExperiment(ctx context.Context, id string) (*Experiment, error) {
	var out Experiment
	if err := c.do(ctx, http.MethodPost, "/api/experiments/"+url.PathEscape(id)+"/start", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssignVariant asks the target which variant subject sees.
func (c *Client) AssignVariant(ctx context.Context, id, subject string) (*Assignment, error) {
	var out Assignment
	body := map[string]string{"subject_id": subject}
	if err := c.do(ctx, http.MethodPost, "/api/experiments/"+url.PathEscape(id)+"/assign", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ExperimentResults(ctx context.Context, id string) (*ExperimentResults, error) {
	var out ExperimentResults
	if err := c.do(ctx, http.MethodGet, "/api/experiments/"+url.PathEscape(id)+"/results", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

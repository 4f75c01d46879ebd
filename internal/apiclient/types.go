package apiclient

import "time"

// User is the account behind a credential.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the login response.
type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	User        User   `json:"user"`
}

// Prompt is a stored prompt template.
type Prompt struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PromptInput creates or updates a prompt.
type PromptInput struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags,omitempty"`
}

// Tag is a tag with its usage count.
type Tag struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// APIKey is an issued key. Key holds the secret only in the create response.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"`
	Key       string     `json:"key,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Event is an analytics event.
type Event struct {
	Type       string         `json:"type"`
	PromptID   string         `json:"prompt_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// AnalyticsSummary aggregates events.
type AnalyticsSummary struct {
	TotalEvents int            `json:"total_events"`
	ByType      map[string]int `json:"by_type"`
}

// Variant is one arm of an experiment.
type Variant struct {
	Name   string `json:"name"`
	Body   string `json:"body"`
	Weight int    `json:"weight"`
}

// ExperimentInput creates an experiment.
type ExperimentInput struct {
	Name     string    `json:"name"`
	PromptID string    `json:"prompt_id"`
	Variants []Variant `json:"variants"`
}

// Experiment is an A/B test between prompt variants.
type Experiment struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	PromptID string    `json:"prompt_id"`
	Status   string    `json:"status"`
	Variants []Variant `json:"variants"`
}

// Assignment is the variant chosen for one subject.
type Assignment struct {
	ExperimentID string `json:"experiment_id"`
	SubjectID    string `json:"subject_id"`
	Variant      string `json:"variant"`
}

// VariantResult counts outcomes for one variant.
type VariantResult struct {
	Name        string `json:"name"`
	Assignments int    `json:"assignments"`
	Conversions int    `json:"conversions"`
}

// ExperimentResults lists per-variant counts.
type ExperimentResults struct {
	ExperimentID string          `json:"experiment_id"`
	Variants     []VariantResult `json:"variants"`
}

package fakedeck

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Handler returns the deck REST API.
func (d *Deck) Handler() http.Handler {
	mux := http.NewServeMux()
	d.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers the API on mux using Go 1.22+ routing patterns.
func (d *Deck) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/auth/login", d.login)
	mux.HandleFunc("GET /api/auth/me", d.authed(d.me))

	mux.HandleFunc("GET /api/prompts", d.authed(d.listPromptsHandler))
	mux.HandleFunc("POST /api/prompts", d.authed(d.createPromptHandler))
	mux.HandleFunc("GET /api/prompts/{id}", d.authed(d.getPrompt))
	mux.HandleFunc("PUT /api/prompts/{id}", d.authed(d.updatePrompt))
	mux.HandleFunc("DELETE /api/prompts/{id}", d.authed(d.deletePromptHandler))
	mux.HandleFunc("POST /api/prompts/{id}/tags", d.authed(d.tagPrompt))
	mux.HandleFunc("GET /api/tags", d.authed(d.listTags))

	mux.HandleFunc("GET /api/api-keys", d.authed(d.listKeys))
	mux.HandleFunc("POST /api/api-keys", d.authed(d.createKeyHandler))
	mux.HandleFunc("DELETE /api/api-keys/{id}", d.authed(d.revokeKeyHandler))

	mux.HandleFunc("POST /api/analytics/events", d.authed(d.trackEvent))
	mux.HandleFunc("GET /api/analytics/summary", d.authed(d.summary))

	mux.HandleFunc("POST /api/experiments", d.authed(d.createExperiment))
	mux.HandleFunc("GET /api/experiments/{id}", d.authed(d.getExperiment))
	mux.HandleFunc("POST /api/experiments/{id}/start", d.authed(d.startExperiment))
	mux.HandleFunc("POST /api/experiments/{id}/assign", d.authed(d.assignVariant))
	mux.HandleFunc("GET /api/experiments/{id}/results", d.authed(d.experimentResults))
}

// authed accepts a session token or an unrevoked API key as bearer.
func (d *Deck) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		d.mu.Lock()
		_, sessErr := d.verifySession(token)
		key := d.keyBySecret(token)
		d.mu.Unlock()

		switch {
		case sessErr == nil:
		case key != nil && key.RevokedAt == nil:
		case key != nil:
			writeError(w, http.StatusUnauthorized, "api key revoked")
			return
		default:
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next(w, r)
	}
}

type userJSON struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type promptJSON struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *prompt) toJSON() promptJSON {
	tags := append([]string{}, p.Tags...)
	return promptJSON{ID: p.ID, Title: p.Title, Body: p.Body, Tags: tags, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
}

type keyJSON struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"`
	Key       string     `json:"key,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (k *apiKey) toJSON(withSecret bool) keyJSON {
	out := keyJSON{ID: k.ID, Name: k.Name, Prefix: k.Secret[:8], CreatedAt: k.CreatedAt, RevokedAt: k.RevokedAt}
	if withSecret {
		out.Key = k.Secret
	}
	return out
}

type experimentJSON struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	PromptID string    `json:"prompt_id"`
	Status   string    `json:"status"`
	Variants []variant `json:"variants"`
}

func (e *experiment) toJSON() experimentJSON {
	return experimentJSON{ID: e.ID, Name: e.Name, PromptID: e.PromptID, Status: e.Status, Variants: append([]variant{}, e.Variants...)}
}

func (d *Deck) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.checkPassword(req.Email, req.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	token, err := d.signSession()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(d.tokenTTL.Seconds()),
		"user":         userJSON{ID: d.Account.ID, Email: d.Account.Email},
	})
}

func (d *Deck) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userJSON{ID: d.Account.ID, Email: d.Account.Email})
}

type promptRequest struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

func (d *Deck) listPromptsHandler(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	items := d.listPrompts(r.URL.Query().Get("tag"))
	out := make([]promptJSON, 0, len(items))
	for _, p := range items {
		out = append(out, p.toJSON())
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": out})
}

func (d *Deck) createPromptHandler(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusUnprocessableEntity, "title is required")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.createPrompt(req.Title, req.Body, req.Tags)
	writeJSON(w, http.StatusCreated, p.toJSON())
}

func (d *Deck) getPrompt(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.prompts[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Prompt not found")
		return
	}
	writeJSON(w, http.StatusOK, p.toJSON())
}

func (d *Deck) updatePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.prompts[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Prompt not found")
		return
	}
	if req.Title != "" {
		p.Title = req.Title
	}
	if req.Body != "" {
		p.Body = req.Body
	}
	for _, t := range req.Tags {
		p.addTag(t)
	}
	p.UpdatedAt = d.now().UTC()
	writeJSON(w, http.StatusOK, p.toJSON())
}

func (d *Deck) deletePromptHandler(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.deletePrompt(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "Prompt not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Deck) tagPrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "tag name is required")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.prompts[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Prompt not found")
		return
	}
	p.addTag(req.Name)
	writeJSON(w, http.StatusOK, p.toJSON())
}

func (d *Deck) listTags(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := d.tagCounts()
	type tagJSON struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	out := make([]tagJSON, 0, len(counts))
	for _, name := range sortedKeys(counts) {
		out = append(out, tagJSON{Name: name, Count: counts[name]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": out})
}

func (d *Deck) listKeys(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]keyJSON, 0, len(d.keyOrder))
	for _, id := range d.keyOrder {
		out = append(out, d.keys[id].toJSON(false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

func (d *Deck) createKeyHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "key name is required")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	k := d.createKey(req.Name)
	writeJSON(w, http.StatusCreated, k.toJSON(true))
}

func (d *Deck) revokeKeyHandler(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.revokeKey(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "API key not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Deck) trackEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type       string         `json:"type"`
		PromptID   string         `json:"prompt_id"`
		Properties map[string]any `json:"properties"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		writeError(w, http.StatusBadRequest, "event type is required")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event{Type: req.Type, PromptID: req.PromptID, Properties: req.Properties})
	w.WriteHeader(http.StatusAccepted)
}

func (d *Deck) summary(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	total, byType := d.eventSummary()
	writeJSON(w, http.StatusOK, map[string]any{"total_events": total, "by_type": byType})
}

func (d *Deck) createExperiment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string    `json:"name"`
		PromptID string    `json:"prompt_id"`
		Variants []variant `json:"variants"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.Variants) < 2 {
		writeError(w, http.StatusUnprocessableEntity, "an experiment needs at least two variants")
		return
	}
	for _, v := range req.Variants {
		if v.Name == "" || v.Weight <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "variants need a name and a positive weight")
			return
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.prompts[req.PromptID]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "unknown prompt_id")
		return
	}
	e := &experiment{
		ID:          d.nextID("exp"),
		Name:        req.Name,
		PromptID:    req.PromptID,
		Status:      "draft",
		Variants:    req.Variants,
		Assignments: map[string]string{},
	}
	d.experiments[e.ID] = e
	writeJSON(w, http.StatusCreated, e.toJSON())
}

func (d *Deck) getExperiment(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.experiments[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Experiment not found")
		return
	}
	writeJSON(w, http.StatusOK, e.toJSON())
}

func (d *Deck) startExperiment(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.experiments[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Experiment not found")
		return
	}
	if e.Status == "completed" {
		writeError(w, http.StatusConflict, "experiment already completed")
		return
	}
	e.Status = "running"
	writeJSON(w, http.StatusOK, e.toJSON())
}

func (d *Deck) assignVariant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubjectID string `json:"subject_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "subject_id is required")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.experiments[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Experiment not found")
		return
	}
	if e.Status != "running" {
		writeError(w, http.StatusConflict, "experiment is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"experiment_id": e.ID,
		"subject_id":    req.SubjectID,
		"variant":       d.assign(e, req.SubjectID),
	})
}

func (d *Deck) experimentResults(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.experiments[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Experiment not found")
		return
	}
	assigned := map[string]int{}
	for _, v := range e.Assignments {
		assigned[v]++
	}
	converted := d.conversions(e)
	type variantResult struct {
		Name        string `json:"name"`
		Assignments int    `json:"assignments"`
		Conversions int    `json:"conversions"`
	}
	out := make([]variantResult, 0, len(e.Variants))
	for _, v := range e.Variants {
		out = append(out, variantResult{Name: v.Name, Assignments: assigned[v.Name], Conversions: converted[v.Name]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"experiment_id": e.ID, "variants": out})
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

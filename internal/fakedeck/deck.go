// Package fakedeck is an in-memory promptdeck used to exercise the agent
// without a real target. One Deck serves the REST API over httptest and
// drives a browser.Fake whose pages read the same state, so changes made
// through the UI are visible through the API and the other way round.
package fakedeck

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// Account is the single user the deck knows.
type Account struct {
	ID       string
	Email    string
	Password string
}

type prompt struct {
	ID        string
	Title     string
	Body      string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type apiKey struct {
	ID        string
	Name      string
	Secret    string
	CreatedAt time.Time
	RevokedAt *time.Time
}

type event struct {
	Type       string
	PromptID   string
	Properties map[string]any
}

type variant struct {
	Name   string `json:"name"`
	Body   string `json:"body"`
	Weight int    `json:"weight"`
}

type experiment struct {
	ID          string
	Name        string
	PromptID    string
	Status      string
	Variants    []variant
	Assignments map[string]string
}

// uiState is what the browser session holds: the login cookie, the last
// flash message and a freshly created key shown once.
type uiState struct {
	loggedIn bool
	flash    string
	newKey   string
}

// Deck is the fake target.
type Deck struct {
	Account Account

	mu          sync.Mutex
	now         func() time.Time
	signingKey  []byte
	issuer      string
	tokenTTL    time.Duration
	seq         int
	prompts     map[string]*prompt
	promptOrder []string
	keys        map[string]*apiKey
	keyOrder    []string
	events      []event
	experiments map[string]*experiment
	ui          uiState
	hidden      map[string]bool
	obscured    map[string]bool
}

// New returns an empty deck for account.
func New(account Account) *Deck {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("fakedeck: read random key: %v", err))
	}
	if account.ID == "" {
		account.ID = "user-1"
	}
	return &Deck{
		Account:     account,
		now:         time.Now,
		signingKey:  key,
		issuer:      "https://promptdeck.test",
		tokenTTL:    time.Hour,
		prompts:     map[string]*prompt{},
		keys:        map[string]*apiKey{},
		experiments: map[string]*experiment{},
		hidden:      map[string]bool{},
		obscured:    map[string]bool{},
	}
}

// Start serves the deck API on an httptest server closed with the test.
func Start(t testing.TB, account Account) (*Deck, *httptest.Server) {
	t.Helper()
	d := New(account)
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return d, srv
}

// SetClock replaces the deck clock.
func (d *Deck) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Hide removes selectors from every page.
func (d *Deck) Hide(selectors ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range selectors {
		d.hidden[s] = true
	}
}

// Obscure keeps selectors on the page but makes pointer clicks on them fail,
// as when an overlay intercepts the click. DOM clicks still work.
func (d *Deck) Obscure(selectors ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range selectors {
		d.obscured[s] = true
	}
}

// PromptCount returns how many prompts exist.
func (d *Deck) PromptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.prompts)
}

// KeyCount returns how many API keys were ever created, revoked or not.
func (d *Deck) KeyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys)
}

// EventCount returns how many analytics events were tracked.
func (d *Deck) EventCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// nextID must be called with d.mu held.
func (d *Deck) nextID(prefix string) string {
	d.seq++
	return fmt.Sprintf("%s_%d", prefix, d.seq)
}

func randomSecret() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("fakedeck: read random secret: %v", err))
	}
	return "pdk_" + base64.RawURLEncoding.EncodeToString(b)
}

// Domain operations. All must be called with d.mu held.

func (d *Deck) checkPassword(email, password string) bool {
	return strings.EqualFold(email, d.Account.Email) && password == d.Account.Password
}

func (d *Deck) createPrompt(title, body string, tags []string) *prompt {
	now := d.now().UTC()
	p := &prompt{
		ID:        d.nextID("prm"),
		Title:     title,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, t := range tags {
		p.addTag(t)
	}
	d.prompts[p.ID] = p
	d.promptOrder = append(d.promptOrder, p.ID)
	return p
}

func (d *Deck) deletePrompt(id string) bool {
	if _, ok := d.prompts[id]; !ok {
		return false
	}
	delete(d.prompts, id)
	for i, pid := range d.promptOrder {
		if pid == id {
			d.promptOrder = append(d.promptOrder[:i], d.promptOrder[i+1:]...)
			break
		}
	}
	return true
}

func (p *prompt) addTag(tag string) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return
	}
	for _, t := range p.Tags {
		if t == tag {
			return
		}
	}
	p.Tags = append(p.Tags, tag)
}

func (p *prompt) hasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == strings.ToLower(tag) {
			return true
		}
	}
	return false
}

func (d *Deck) listPrompts(tag string) []*prompt {
	out := make([]*prompt, 0, len(d.promptOrder))
	for _, id := range d.promptOrder {
		p := d.prompts[id]
		if tag == "" || p.hasTag(tag) {
			out = append(out, p)
		}
	}
	return out
}

func (d *Deck) tagCounts() map[string]int {
	counts := map[string]int{}
	for _, p := range d.prompts {
		for _, t := range p.Tags {
			counts[t]++
		}
	}
	return counts
}

func (d *Deck) createKey(name string) *apiKey {
	k := &apiKey{ID: d.nextID("key"), Name: name, Secret: randomSecret(), CreatedAt: d.now().UTC()}
	d.keys[k.ID] = k
	d.keyOrder = append(d.keyOrder, k.ID)
	return k
}

func (d *Deck) revokeKey(id string) bool {
	k, ok := d.keys[id]
	if !ok {
		return false
	}
	if k.RevokedAt == nil {
		at := d.now().UTC()
		k.RevokedAt = &at
	}
	return true
}

func (d *Deck) keyBySecret(secret string) *apiKey {
	for _, k := range d.keys {
		if k.Secret == secret {
			return k
		}
	}
	return nil
}

func (d *Deck) eventSummary() (int, map[string]int) {
	byType := map[string]int{}
	for _, e := range d.events {
		byType[e.Type]++
	}
	return len(d.events), byType
}

// assign returns the sticky variant for subject.
func (d *Deck) assign(e *experiment, subject string) string {
	if v, ok := e.Assignments[subject]; ok {
		return v
	}
	total := 0
	for _, v := range e.Variants {
		total += v.Weight
	}
	h := fnv.New32a()
	h.Write([]byte(e.ID + "/" + subject))
	pick := int(h.Sum32() % uint32(total))
	chosen := e.Variants[len(e.Variants)-1].Name
	for _, v := range e.Variants {
		if pick < v.Weight {
			chosen = v.Name
			break
		}
		pick -= v.Weight
	}
	e.Assignments[subject] = chosen
	return chosen
}

func (d *Deck) conversions(e *experiment) map[string]int {
	out := map[string]int{}
	for _, ev := range d.events {
		if ev.Type != "conversion" || ev.Properties["experiment_id"] != e.ID {
			continue
		}
		if name, ok := ev.Properties["variant"].(string); ok {
			out[name]++
		}
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

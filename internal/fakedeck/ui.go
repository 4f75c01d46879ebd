package fakedeck

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/kuitang/promptdeck-e2e/internal/browser"
	"github.com/kuitang/promptdeck-e2e/internal/errs"
)

// Selectors the deck pages render. The agent's suites use the same ones.
const (
	selLoginForm   = "form#login-form"
	selEmail       = "input[name=email]"
	selPassword    = "input[name=password]"
	selSubmit      = "button[type=submit]"
	selFlash       = ".flash-error"
	selLogout      = "button#logout"
	selTitle       = "input[name=title]"
	selBody        = "textarea[name=body]"
	selTagInput    = "input[name=tag]"
	selAddTag      = "button#add-tag"
	selEditLink    = "a.edit-prompt"
	selNewPrompt   = "a.new-prompt"
	selKeyName     = "input[name=key_name]"
	selCreateKey   = "button#create-key"
	selKeyValue    = "code.api-key-value"
	selPromptTitle = "h1.prompt-title"
)

var revokeSelector = regexp.MustCompile(`^\[data-key-id="([^"]+)"\] button\.revoke$`)

// Browser returns a fake driver whose pages are served by the deck.
func (d *Deck) Browser(baseURL string) *browser.Fake {
	f := browser.NewFake(baseURL)
	d.Attach(f)
	return f
}

// Attach wires f's hooks to the deck.
func (d *Deck) Attach(f *browser.Fake) {
	f.Render = d.render
	f.OnGoto = d.onGoto
	f.OnClick = d.onClick
	f.OnPress = d.onPress
	f.OnEval = d.onEval
	f.OnReset = d.onReset
}

// LoggedInUI reports whether the browser session holds a login.
func (d *Deck) LoggedInUI() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ui.loggedIn
}

func pathOf(raw string) (string, url.Values) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "about" {
		return "", nil
	}
	return u.Path, u.Query()
}

func segments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func protected(path string) bool {
	return path != "" && path != "/" && path != "/login"
}

func (d *Deck) onGoto(f *browser.Fake, raw string) {
	path, _ := pathOf(raw)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ui.flash = ""
	switch {
	case protected(path) && !d.ui.loggedIn:
		f.Navigate("/login?next=" + url.QueryEscape(path))
	case path == "/login" && d.ui.loggedIn:
		f.Navigate("/prompts")
	}
}

func (d *Deck) render(f *browser.Fake, raw string) map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	page := d.page(raw)
	for sel := range d.hidden {
		delete(page, sel)
	}
	return page
}

// page builds the elements of raw. Must be called with d.mu held.
func (d *Deck) page(raw string) map[string]string {
	path, query := pathOf(raw)
	seg := segments(path)
	if path == "" {
		return nil
	}
	if protected(path) && !d.ui.loggedIn {
		return map[string]string{"h1": "Redirecting"}
	}

	nav := func(m map[string]string) map[string]string {
		if d.ui.loggedIn {
			m[selLogout] = "Log out"
		}
		if d.ui.flash != "" {
			m[selFlash] = d.ui.flash
		}
		return m
	}

	switch {
	case len(seg) == 1 && seg[0] == "login":
		return nav(map[string]string{
			selLoginForm: "",
			selEmail:     "",
			selPassword:  "",
			selSubmit:    "Sign in",
		})

	case len(seg) == 1 && seg[0] == "prompts":
		m := map[string]string{"h1": "Prompts", selNewPrompt: "New prompt"}
		items := d.listPrompts(query.Get("tag"))
		if len(items) == 0 {
			m[".empty-state"] = "No prompts yet"
		} else {
			m["table.prompts"] = ""
		}
		for _, p := range items {
			m[`[data-prompt-id="`+p.ID+`"]`] = p.Title
		}
		return nav(m)

	case len(seg) == 2 && seg[0] == "prompts" && seg[1] == "new":
		return nav(map[string]string{"h1": "New prompt", selTitle: "", selBody: "", selSubmit: "Save"})

	case len(seg) == 2 && seg[0] == "prompts":
		p, ok := d.prompts[seg[1]]
		if !ok {
			return nav(map[string]string{".not-found": "Prompt not found"})
		}
		m := map[string]string{
			selPromptTitle: p.Title,
			".prompt-body": p.Body,
			selEditLink:    "Edit",
			selTagInput:    "",
			selAddTag:      "Add tag",
			".tag-list":    strings.Join(p.Tags, " "),
		}
		for _, t := range p.Tags {
			m[`.tag-list [data-tag="`+t+`"]`] = t
		}
		return nav(m)

	case len(seg) == 3 && seg[0] == "prompts" && seg[2] == "edit":
		p, ok := d.prompts[seg[1]]
		if !ok {
			return nav(map[string]string{".not-found": "Prompt not found"})
		}
		return nav(map[string]string{"h1": "Edit prompt", selTitle: p.Title, selBody: p.Body, selSubmit: "Save"})

	case len(seg) == 2 && seg[0] == "settings" && seg[1] == "api-keys":
		m := map[string]string{"h1": "API keys", selKeyName: "", selCreateKey: "Create key"}
		if d.ui.newKey != "" {
			m[selKeyValue] = d.ui.newKey
		}
		for _, id := range d.keyOrder {
			k := d.keys[id]
			if k.RevokedAt != nil {
				continue
			}
			m[`[data-key-id="`+k.ID+`"]`] = k.Name
			m[`[data-key-id="`+k.ID+`"] button.revoke`] = "Revoke"
		}
		return nav(m)

	case len(seg) == 1 && seg[0] == "analytics":
		total, _ := d.eventSummary()
		return nav(map[string]string{
			"h1.analytics-title":   "Analytics",
			".metric-total-events": strconv.Itoa(total),
		})

	case len(seg) == 2 && seg[0] == "experiments":
		e, ok := d.experiments[seg[1]]
		if !ok {
			return nav(map[string]string{".not-found": "Experiment not found"})
		}
		return nav(map[string]string{
			"h1.experiment-name":   e.Name,
			".experiment-status":   e.Status,
			".experiment-variants": strconv.Itoa(len(e.Variants)) + " variants",
		})
	}
	return nav(map[string]string{"h1": "Not found"})
}

func (d *Deck) onClick(f *browser.Fake, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.obscured[selector] {
		return errs.New(errs.Internal, "click "+selector+": another element intercepts pointer events")
	}
	d.activate(f, selector)
	return nil
}

func (d *Deck) onPress(f *browser.Fake, selector, key string) error {
	if key != "Enter" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	path, _ := pathOf(f.URL())
	d.submit(f, path)
	return nil
}

func (d *Deck) onEval(f *browser.Fake, script string, arg any) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	present := d.page(f.URL())
	for sel := range d.hidden {
		delete(present, sel)
	}

	switch {
	case strings.Contains(script, "innerHTML"):
		if d.ui.flash == "" {
			return nil, nil
		}
		return `<p class="flash-error"><strong>Error:</strong> ` + html.EscapeString(d.ui.flash) + `</p>`, nil

	case strings.Contains(script, "el.click()"):
		selectors, _ := arg.([]string)
		for _, sel := range selectors {
			if _, ok := present[sel]; ok {
				d.activate(f, sel)
				return true, nil
			}
		}
		return false, nil

	case strings.Contains(script, "el.value = value"):
		args, _ := arg.([]any)
		if len(args) != 2 {
			return false, nil
		}
		selectors, _ := args[0].([]string)
		value, _ := args[1].(string)
		for _, sel := range selectors {
			if _, ok := present[sel]; ok {
				f.SetValue(sel, value)
				return true, nil
			}
		}
		return false, nil
	}
	return nil, nil
}

func (d *Deck) onReset(*browser.Fake) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ui = uiState{}
}

// activate performs what clicking selector does. Must be called with d.mu
// held.
func (d *Deck) activate(f *browser.Fake, selector string) {
	path, _ := pathOf(f.URL())
	switch {
	case selector == selLogout:
		d.ui = uiState{}
		f.Navigate("/login")
	case selector == selNewPrompt:
		f.Navigate("/prompts/new")
	case selector == selEditLink:
		f.Navigate(path + "/edit")
	case selector == selSubmit, selector == selAddTag, selector == selCreateKey:
		d.submit(f, path)
	default:
		if m := revokeSelector.FindStringSubmatch(selector); m != nil {
			d.revokeKey(m[1])
		}
	}
}

// submit posts the form on path. Must be called with d.mu held.
func (d *Deck) submit(f *browser.Fake, path string) {
	seg := segments(path)
	switch {
	case len(seg) == 1 && seg[0] == "login":
		if d.checkPassword(f.Value(selEmail), f.Value(selPassword)) {
			d.ui.loggedIn = true
			d.ui.flash = ""
			f.Navigate("/prompts")
			return
		}
		f.Navigate("/login?error=1")
		d.ui.flash = "Invalid email or password"

	case len(seg) == 2 && seg[0] == "prompts" && seg[1] == "new":
		title := strings.TrimSpace(f.Value(selTitle))
		if title == "" {
			d.ui.flash = "Title is required"
			return
		}
		p := d.createPrompt(title, f.Value(selBody), nil)
		f.Navigate("/prompts/" + p.ID)

	case len(seg) == 3 && seg[0] == "prompts" && seg[2] == "edit":
		p, ok := d.prompts[seg[1]]
		if !ok {
			return
		}
		if title := strings.TrimSpace(f.Value(selTitle)); title != "" {
			p.Title = title
		}
		if body := f.Value(selBody); body != "" {
			p.Body = body
		}
		p.UpdatedAt = d.now().UTC()
		f.Navigate("/prompts/" + p.ID)

	case len(seg) == 2 && seg[0] == "prompts":
		if p, ok := d.prompts[seg[1]]; ok {
			p.addTag(f.Value(selTagInput))
			f.SetValue(selTagInput, "")
		}

	case len(seg) == 2 && seg[0] == "settings" && seg[1] == "api-keys":
		name := strings.TrimSpace(f.Value(selKeyName))
		if name == "" {
			d.ui.flash = "Key name is required"
			return
		}
		d.ui.newKey = d.createKey(name).Secret
	}
}

package browser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/urlutil"
)

// Fake is an in-memory Driver for tests. Render decides which elements the
// current URL shows (selector to text); the On* hooks simulate the page
// reacting to navigation and input.
type Fake struct {
	BaseURL string

	Render  func(f *Fake, url string) map[string]string
	OnGoto  func(f *Fake, url string)
	OnClick func(f *Fake, selector string) error
	OnPress func(f *Fake, selector, key string) error
	OnEval  func(f *Fake, script string, arg any) (any, error)
	OnReset func(f *Fake)

	mu     sync.Mutex
	url    string
	values map[string]string
	calls  []string
	closed bool
}

var _ Driver = (*Fake)(nil)

// NewFake returns a fake positioned on about:blank.
func NewFake(baseURL string) *Fake {
	return &Fake{
		BaseURL: urlutil.NormalizeBase(baseURL),
		url:     "about:blank",
		values:  map[string]string{},
	}
}

// Navigate moves the fake to path without recording a call; hooks use it to
// simulate redirects.
func (f *Fake) Navigate(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = urlutil.BuildAbsolute(f.BaseURL, path)
}

// Value returns what was last filled into selector.
func (f *Fake) Value(selector string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[selector]
}

// SetValue writes a field value the way page script would, without
// recording a call.
func (f *Fake) SetValue(selector, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[selector] = value
}

// Calls lists every driver call as "op selector".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Closed reports whether Close ran.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) record(ctx context.Context, op, target string) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.Aborted, op+" cancelled", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errs.New(errs.Unavailable, op+": page is closed")
	}
	f.calls = append(f.calls, strings.TrimSpace(op+" "+target))
	return nil
}

func (f *Fake) elements() map[string]string {
	f.mu.Lock()
	url := f.url
	f.mu.Unlock()
	if f.Render == nil {
		return nil
	}
	return f.Render(f, url)
}

func (f *Fake) present(selector string) (string, bool) {
	text, ok := f.elements()[selector]
	return text, ok
}

func notFound(op, selector string) error {
	return errs.New(errs.NotFound, op+" "+selector+": not found within timeout")
}

func (f *Fake) Goto(ctx context.Context, path string) error {
	if err := f.record(ctx, "goto", path); err != nil {
		return err
	}
	f.Navigate(path)
	if f.OnGoto != nil {
		f.OnGoto(f, f.URL())
	}
	return nil
}

func (f *Fake) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *Fake) WaitVisible(ctx context.Context, selector string) error {
	if err := f.record(ctx, "wait", selector); err != nil {
		return err
	}
	if _, ok := f.present(selector); !ok {
		return notFound("wait visible", selector)
	}
	return nil
}

func (f *Fake) WaitForURL(ctx context.Context, pattern string) error {
	if err := f.record(ctx, "wait url", pattern); err != nil {
		return err
	}
	if !globMatch(pattern, f.URL()) {
		return notFound("wait for url", pattern)
	}
	return nil
}

func (f *Fake) Click(ctx context.Context, selector string) error {
	if err := f.record(ctx, "click", selector); err != nil {
		return err
	}
	if _, ok := f.present(selector); !ok {
		return notFound("click", selector)
	}
	if f.OnClick != nil {
		return f.OnClick(f, selector)
	}
	return nil
}

func (f *Fake) Fill(ctx context.Context, selector, value string) error {
	if err := f.record(ctx, "fill", selector); err != nil {
		return err
	}
	if _, ok := f.present(selector); !ok {
		return notFound("fill", selector)
	}
	f.mu.Lock()
	f.values[selector] = value
	f.mu.Unlock()
	return nil
}

func (f *Fake) Press(ctx context.Context, selector, key string) error {
	if err := f.record(ctx, "press "+key, selector); err != nil {
		return err
	}
	if _, ok := f.present(selector); !ok {
		return notFound("press", selector)
	}
	if f.OnPress != nil {
		return f.OnPress(f, selector, key)
	}
	return nil
}

func (f *Fake) Eval(ctx context.Context, script string, arg any) (any, error) {
	if err := f.record(ctx, "eval", ""); err != nil {
		return nil, err
	}
	if f.OnEval != nil {
		return f.OnEval(f, script, arg)
	}
	return nil, errs.New(errs.Internal, "eval not supported by fake")
}

func (f *Fake) Text(ctx context.Context, selector string) (string, error) {
	if err := f.record(ctx, "text", selector); err != nil {
		return "", err
	}
	text, ok := f.present(selector)
	if !ok {
		return "", notFound("text", selector)
	}
	return strings.TrimSpace(text), nil
}

func (f *Fake) Count(ctx context.Context, selector string) (int, error) {
	if err := f.record(ctx, "count", selector); err != nil {
		return 0, err
	}
	if _, ok := f.present(selector); ok {
		return 1, nil
	}
	return 0, nil
}

func (f *Fake) Screenshot(ctx context.Context, path string) error {
	if err := f.record(ctx, "screenshot", path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.Internal, "create screenshot dir", err)
	}
	return os.WriteFile(path, []byte("\x89PNG fake"), 0o644)
}

func (f *Fake) ResetState(ctx context.Context) error {
	if err := f.record(ctx, "reset", ""); err != nil {
		return err
	}
	f.mu.Lock()
	f.url = "about:blank"
	f.values = map[string]string{}
	f.mu.Unlock()
	if f.OnReset != nil {
		f.OnReset(f)
	}
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// globMatch supports the "**" and "*" wildcards Playwright URL globs use.
func globMatch(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	if strings.HasPrefix(pattern, "**") {
		rest := strings.TrimLeft(pattern, "*")
		for i := 0; i <= len(s); i++ {
			if globMatch(rest, s[i:]) {
				return true
			}
		}
		return false
	}
	if pattern[0] == '*' {
		rest := pattern[1:]
		for i := 0; i <= len(s); i++ {
			if globMatch(rest, s[i:]) {
				return true
			}
			if i < len(s) && s[i] == '/' {
				return false
			}
		}
		return false
	}
	if s == "" || pattern[0] != s[0] {
		return false
	}
	return globMatch(pattern[1:], s[1:])
}

// Package browser drives the target's UI. Session wraps a Playwright
// Chromium page; Fake is an in-memory stand-in for tests. Both satisfy
// Driver.
//
// Error codes carry meaning for the fallback executor: an element that never
// showed up is errs.NotFound, a closed page is errs.Unavailable (fatal), a
// cancelled context is errs.Aborted.
package browser

import (
	"context"
)

// Driver is the set of page operations scenarios use.
type Driver interface {
	// Goto loads path relative to the target base URL (absolute URLs pass
	// through).
	Goto(ctx context.Context, path string) error
	// URL is the current page URL.
	URL() string
	WaitVisible(ctx context.Context, selector string) error
	// WaitForURL waits until the page URL matches a glob such as
	// "**/prompts/**".
	WaitForURL(ctx context.Context, pattern string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Press(ctx context.Context, selector, key string) error
	// Eval runs a JavaScript function expression in the page with arg.
	Eval(ctx context.Context, script string, arg any) (any, error)
	Text(ctx context.Context, selector string) (string, error)
	Count(ctx context.Context, selector string) (int, error)
	// Screenshot saves a full-page PNG at path.
	Screenshot(ctx context.Context, path string) error
	// ResetState clears cookies and web storage and leaves the page blank.
	ResetState(ctx context.Context) error
	Close() error
}

package browser

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/fallback"
)

const jsClickScript = `(selectors) => {
  for (const s of selectors) {
    const el = document.querySelector(s);
    if (el) { el.click(); return true; }
  }
  return false;
}`

const jsFillScript = `([selectors, value]) => {
  for (const s of selectors) {
    const el = document.querySelector(s);
    if (el) {
      el.focus();
      el.value = value;
      el.dispatchEvent(new Event('input', { bubbles: true }));
      el.dispatchEvent(new Event('change', { bubbles: true }));
      return true;
    }
  }
  return false;
}`

const innerHTMLScript = `(selectors) => {
  for (const s of selectors) {
    const el = document.querySelector(s);
    if (el) return el.innerHTML;
  }
  return null;
}`

// ClickAny clicks the first of selectors that works: a locator click per
// selector, then a DOM click, then Enter on the first element present.
func ClickAny(ctx context.Context, ex *fallback.Executor, d Driver, action string, selectors ...string) (fallback.Trace, error) {
	attempts := make([]fallback.Attempt, 0, len(selectors)+2)
	for _, sel := range selectors {
		sel := sel
		attempts = append(attempts, fallback.Try("click "+sel, func(ctx context.Context) error {
			return d.Click(ctx, sel)
		}))
	}
	attempts = append(attempts,
		fallback.Try("js click", func(ctx context.Context) error {
			return evalTrue(ctx, d, jsClickScript, selectors, "no element to click")
		}),
		fallback.Try("enter key", func(ctx context.Context) error {
			sel, err := firstPresent(ctx, d, selectors)
			if err != nil {
				return err
			}
			return d.Press(ctx, sel, "Enter")
		}),
	)
	return ex.Do(ctx, action, attempts...)
}

// FillAny types value into the first of selectors that accepts it, then
// falls back to setting the value through the DOM.
func FillAny(ctx context.Context, ex *fallback.Executor, d Driver, action, value string, selectors ...string) (fallback.Trace, error) {
	attempts := make([]fallback.Attempt, 0, len(selectors)+1)
	for _, sel := range selectors {
		sel := sel
		attempts = append(attempts, fallback.Try("fill "+sel, func(ctx context.Context) error {
			return d.Fill(ctx, sel, value)
		}))
	}
	attempts = append(attempts, fallback.Try("js fill", func(ctx context.Context) error {
		return evalTrue(ctx, d, jsFillScript, []any{selectors, value}, "no field to fill")
	}))
	return ex.Do(ctx, action, attempts...)
}

// VisibleAny succeeds when any of selectors becomes visible and returns the
// trace naming which one did.
func VisibleAny(ctx context.Context, ex *fallback.Executor, d Driver, action string, selectors ...string) (fallback.Trace, error) {
	attempts := make([]fallback.Attempt, 0, len(selectors))
	for _, sel := range selectors {
		sel := sel
		attempts = append(attempts, fallback.Try(sel, func(ctx context.Context) error {
			return d.WaitVisible(ctx, sel)
		}))
	}
	return ex.Do(ctx, action, attempts...)
}

// FlashText returns the plain text of the first flash or error banner
// matching selectors, or "" when none is on the page.
func FlashText(ctx context.Context, d Driver, selectors ...string) (string, error) {
	out, err := d.Eval(ctx, innerHTMLScript, selectors)
	if err != nil {
		return "", err
	}
	markup, _ := out.(string)
	return StripHTML(markup), nil
}

var strictPolicy = bluemonday.StrictPolicy()

// StripHTML drops all markup from s and collapses whitespace.
func StripHTML(s string) string {
	text := html.UnescapeString(strictPolicy.Sanitize(s))
	return strings.Join(strings.Fields(text), " ")
}

func evalTrue(ctx context.Context, d Driver, script string, arg any, miss string) error {
	out, err := d.Eval(ctx, script, arg)
	if err != nil {
		return err
	}
	if ok, _ := out.(bool); !ok {
		return errs.New(errs.NotFound, miss)
	}
	return nil
}

func firstPresent(ctx context.Context, d Driver, selectors []string) (string, error) {
	for _, sel := range selectors {
		n, err := d.Count(ctx, sel)
		if err != nil {
			return "", err
		}
		if n > 0 {
			return sel, nil
		}
	}
	return "", errs.New(errs.NotFound, fmt.Sprintf("none of %d selectors present", len(selectors)))
}

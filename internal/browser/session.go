package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/obs"
	"github.com/kuitang/promptdeck-e2e/internal/urlutil"
)

// Options configures Launch.
type Options struct {
	BaseURL           string
	Headless          bool
	Install           bool // download the driver and Chromium before starting
	SlowMo            time.Duration
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
	ViewportWidth     int
	ViewportHeight    int
}

// Session is one Chromium browser with a single context and page.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page

	baseURL  string
	actionMS float64
	navMS    float64
}

var _ Driver = (*Session)(nil)

// Launch starts Playwright and opens a page. A failed start is retried once
// after installing the driver.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	logger := obs.From(ctx).With("pkg", "browser")
	runOpts := &playwright.RunOptions{Browsers: []string{"chromium"}}

	if opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, errs.Wrap(errs.Unavailable, "could not install playwright browsers", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		logger.Warn("playwright_start_failed", "error", err.Error())
		_ = playwright.Install(runOpts)
		pw, err = playwright.Run(runOpts)
		if err != nil {
			return nil, errs.Wrap(errs.Unavailable, "could not start playwright after retry", err)
		}
	}

	s := &Session{
		pw:       pw,
		baseURL:  urlutil.NormalizeBase(opts.BaseURL),
		actionMS: float64(opts.ActionTimeout.Milliseconds()),
		navMS:    float64(opts.NavigationTimeout.Milliseconds()),
	}

	s.browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		SlowMo:   playwright.Float(float64(opts.SlowMo.Milliseconds())),
	})
	if err != nil {
		_ = s.Close()
		return nil, errs.Wrap(errs.Unavailable, "could not launch browser", err)
	}

	s.bctx, err = s.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: opts.ViewportWidth, Height: opts.ViewportHeight},
	})
	if err != nil {
		_ = s.Close()
		return nil, errs.Wrap(errs.Unavailable, "could not create browser context", err)
	}

	s.page, err = s.bctx.NewPage()
	if err != nil {
		_ = s.Close()
		return nil, errs.Wrap(errs.Unavailable, "could not create page", err)
	}
	s.page.SetDefaultTimeout(s.actionMS)
	s.page.SetDefaultNavigationTimeout(s.navMS)

	logger.Info("browser_launched", "headless", opts.Headless, "base_url", s.baseURL)
	return s, nil
}

// Page exposes the underlying Playwright page.
func (s *Session) Page() playwright.Page { return s.page }

func (s *Session) ready(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.Aborted, op+" cancelled", err)
	}
	if s.page == nil || s.page.IsClosed() {
		return errs.New(errs.Unavailable, op+": page is closed")
	}
	return nil
}

// mapError converts a Playwright error into a coded error.
func (s *Session) mapError(op, target string, err error) error {
	if err == nil {
		return nil
	}
	msg := op
	if target != "" {
		msg = op + " " + target
	}
	// A closed page wins over a timeout: nothing further can succeed.
	switch {
	case errors.Is(err, playwright.ErrTargetClosed), s.page != nil && s.page.IsClosed():
		return errs.Wrap(errs.Unavailable, msg+": page closed", err)
	case errors.Is(err, playwright.ErrTimeout):
		return errs.Wrap(errs.NotFound, msg+": not found within timeout", err)
	default:
		return errs.Wrap(errs.Internal, msg, err)
	}
}

func (s *Session) Goto(ctx context.Context, path string) error {
	if err := s.ready(ctx, "goto"); err != nil {
		return err
	}
	url := urlutil.BuildAbsolute(s.baseURL, path)
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(s.navMS),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil && strings.Contains(err.Error(), "ERR_TOO_MANY_REDIRECTS") {
		return errs.Wrap(errs.FailedPrecondition, "redirect loop navigating to "+url, err)
	}
	if err != nil && strings.Contains(err.Error(), "ERR_CONNECTION_REFUSED") {
		return errs.Wrap(errs.Unavailable, "target unreachable at "+url, err)
	}
	return s.mapError("goto", url, err)
}

func (s *Session) URL() string {
	if s.page == nil || s.page.IsClosed() {
		return ""
	}
	return s.page.URL()
}

func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	if err := s.ready(ctx, "wait visible"); err != nil {
		return err
	}
	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(s.actionMS),
	})
	return s.mapError("wait visible", selector, err)
}

func (s *Session) WaitForURL(ctx context.Context, pattern string) error {
	if err := s.ready(ctx, "wait for url"); err != nil {
		return err
	}
	err := s.page.WaitForURL(pattern, playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(s.navMS),
	})
	return s.mapError("wait for url", pattern, err)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.ready(ctx, "click"); err != nil {
		return err
	}
	err := s.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(s.actionMS),
	})
	return s.mapError("click", selector, err)
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	if err := s.ready(ctx, "fill"); err != nil {
		return err
	}
	err := s.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(s.actionMS),
	})
	return s.mapError("fill", selector, err)
}

func (s *Session) Press(ctx context.Context, selector, key string) error {
	if err := s.ready(ctx, "press"); err != nil {
		return err
	}
	err := s.page.Locator(selector).First().Press(key, playwright.LocatorPressOptions{
		Timeout: playwright.Float(s.actionMS),
	})
	return s.mapError("press "+key, selector, err)
}

func (s *Session) Eval(ctx context.Context, script string, arg any) (any, error) {
	if err := s.ready(ctx, "eval"); err != nil {
		return nil, err
	}
	out, err := s.page.Evaluate(script, arg)
	return out, s.mapError("eval", "", err)
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	if err := s.ready(ctx, "text"); err != nil {
		return "", err
	}
	text, err := s.page.Locator(selector).First().TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(s.actionMS),
	})
	return strings.TrimSpace(text), s.mapError("text", selector, err)
}

func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	if err := s.ready(ctx, "count"); err != nil {
		return 0, err
	}
	n, err := s.page.Locator(selector).Count()
	return n, s.mapError("count", selector, err)
}

func (s *Session) Screenshot(ctx context.Context, path string) error {
	if err := s.ready(ctx, "screenshot"); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.Internal, "create screenshot dir", err)
	}
	_, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return s.mapError("screenshot", path, err)
}

const clearStorageScript = `() => {
  try { window.localStorage.clear(); } catch (e) {}
  try { window.sessionStorage.clear(); } catch (e) {}
  return true;
}`

func (s *Session) ResetState(ctx context.Context) error {
	if err := s.ready(ctx, "reset state"); err != nil {
		return err
	}
	if err := s.bctx.ClearCookies(); err != nil {
		return s.mapError("clear cookies", "", err)
	}
	if strings.HasPrefix(s.page.URL(), "http") {
		if _, err := s.page.Evaluate(clearStorageScript); err != nil {
			return s.mapError("clear storage", "", err)
		}
	}
	_, err := s.page.Goto("about:blank")
	return s.mapError("goto", "about:blank", err)
}

// Close releases the page, context, browser and driver process. It is safe
// to call more than once.
func (s *Session) Close() error {
	var all []error
	if s.page != nil && !s.page.IsClosed() {
		all = append(all, s.page.Close())
	}
	if s.bctx != nil {
		all = append(all, s.bctx.Close())
		s.bctx = nil
	}
	if s.browser != nil {
		all = append(all, s.browser.Close())
		s.browser = nil
	}
	if s.pw != nil {
		all = append(all, s.pw.Stop())
		s.pw = nil
	}
	if err := errors.Join(all...); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

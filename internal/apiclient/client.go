// Package apiclient is a small REST client for the promptdeck API. Requests
// carry a bearer credential (session token or API key), are paced per
// credential and logged with redacted headers.
package apiclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/logutil"
	"github.com/kuitang/promptdeck-e2e/internal/obs"
	"github.com/kuitang/promptdeck-e2e/internal/ratelimit"
	"github.com/kuitang/promptdeck-e2e/internal/urlutil"
)

const maxErrorBody = 4 << 10

// Options configures New.
type Options struct {
	Timeout time.Duration
	Pacer   *ratelimit.Pacer
	// Transport is the innermost round tripper; nil means
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// Client talks to one target. The zero credential sends no Authorization
// header; WithToken and WithAPIKey derive authenticated clients.
type Client struct {
	baseURL string
	opts    Options
	http    *http.Client

	credKey string
	class   ratelimit.Class
}

// New returns an unauthenticated client.
func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	c := &Client{baseURL: urlutil.NormalizeBase(baseURL), opts: opts}
	c.http = &http.Client{Timeout: opts.Timeout, Transport: c.baseTransport()}
	return c
}

func (c *Client) baseTransport() http.RoundTripper {
	return obs.NewLoggingTransport("apiclient", c.opts.Transport)
}

// WithToken returns a client authenticated with a session access token.
func (c *Client) WithToken(token string) *Client {
	return c.withBearer(token, ratelimit.Session)
}

// WithAPIKey returns a client authenticated with an issued API key.
func (c *Client) WithAPIKey(key string) *Client {
	return c.withBearer(key, ratelimit.APIKey)
}

func (c *Client) withBearer(secret string, class ratelimit.Class) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: secret, TokenType: "Bearer"})
	return &Client{
		baseURL: c.baseURL,
		opts:    c.opts,
		http: &http.Client{
			Timeout:   c.opts.Timeout,
			Transport: &oauth2.Transport{Source: src, Base: c.baseTransport()},
		},
		credKey: fingerprint(secret),
		class:   class,
	}
}

// Authenticated reports whether the client carries a credential.
func (c *Client) Authenticated() bool { return c.credKey != "" }

// BaseURL returns the target base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// fingerprint keys the pacer without keeping the raw secret as a map key.
func fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}

// StatusError is a non-2xx response from the target.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.opts.Pacer != nil && c.credKey != "" {
		if err := c.opts.Pacer.Wait(ctx, c.credKey, c.class); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, "encode request body", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlutil.BuildAbsolute(c.baseURL, path), reader)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errs.Wrap(errs.Aborted, method+" "+path+" cancelled", ctxErr)
		}
		return errs.Wrap(errs.Unavailable, method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(raw)}
		obs.From(ctx).Debug("api_error_response",
			"pkg", "apiclient",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"body", logutil.FormatBodyForLog(resp.Header.Get("Content-Type"), raw, 512),
		)
		return &errs.Error{Code: errs.FromHTTPStatus(resp.StatusCode), Err: se}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.Internal, "decode "+method+" "+path+" response", err)
	}
	return nil
}

// errorMessage pulls {"error": "..."} or {"message": "..."} out of an error
// body, falling back to the trimmed text.
func errorMessage(raw []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return logutil.TruncateForLog(strings.TrimSpace(string(raw)), 200)
}

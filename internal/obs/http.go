package obs

import (
	"net/http"
	"time"

	"github.com/kuitang/promptdeck-e2e/internal/logutil"
)

// LoggingTransport emits one structured event per outbound request to the
// target. Sensitive headers are redacted.
type LoggingTransport struct {
	Base http.RoundTripper
	Pkg  string
}

// NewLoggingTransport wraps base, or http.DefaultTransport when base is nil.
func NewLoggingTransport(pkg string, base http.RoundTripper) *LoggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &LoggingTransport{Base: base, Pkg: pkg}
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)
	durMS := float64(time.Since(start).Microseconds()) / 1000.0

	l := From(req.Context()).With("pkg", t.Pkg)
	if err != nil {
		l.Warn(
			"http_call_failed",
			"method", req.Method,
			"path", req.URL.Path,
			"dur_ms", durMS,
			"error", err.Error(),
		)
		return nil, err
	}
	l.Debug(
		"http_call",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"dur_ms", durMS,
		"req_headers", logutil.FormatHeadersForLog(req.Header),
	)
	return resp, nil
}

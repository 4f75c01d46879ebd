// Package artifacts manages the per-run output directory: reports,
// screenshots and API transcripts, optionally mirrored to S3.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
)

// Writer manages artifacts for a single run.
type Writer struct {
	RunDir string

	mu      sync.Mutex
	written []string
	now     func() time.Time
}

// NewWriter creates the run directory.
func NewWriter(runDir string) (*Writer, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Internal, "create run dir", err)
	}
	return &Writer{RunDir: runDir, now: time.Now}, nil
}

// Path returns the location of name inside the run directory.
func (w *Writer) Path(name string) string {
	return filepath.Join(w.RunDir, name)
}

// WriteJSON writes an object to a JSON file under the run directory.
func (w *Writer) WriteJSON(name string, value any) (string, error) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.Internal, "encode "+name, err)
	}
	return w.WriteBytes(name, payload)
}

// WriteText writes a string to a file under the run directory.
func (w *Writer) WriteText(name string, data string) (string, error) {
	return w.WriteBytes(name, []byte(data))
}

// WriteBytes writes bytes to a file under the run directory.
func (w *Writer) WriteBytes(name string, data []byte) (string, error) {
	path := w.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errs.Wrap(errs.Internal, "create artifact dir", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errs.Wrap(errs.Internal, "write "+name, err)
	}
	w.Track(path)
	return path, nil
}

// Track remembers a file created by someone else (e.g. the browser's
// screenshot call) so the mirror uploads it.
func (w *Writer) Track(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.written {
		if p == path {
			return
		}
	}
	w.written = append(w.written, path)
}

// Written lists every tracked artifact path in write order.
func (w *Writer) Written() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.written...)
}

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ScreenshotPath returns "<runDir>/screenshots/<label>_<unix>.png".
func (w *Writer) ScreenshotPath(label string) string {
	clean := strings.Trim(unsafeLabel.ReplaceAllString(label, "_"), "_")
	if clean == "" {
		clean = "screenshot"
	}
	return filepath.Join(w.RunDir, "screenshots", fmt.Sprintf("%s_%d.png", clean, w.now().Unix()))
}

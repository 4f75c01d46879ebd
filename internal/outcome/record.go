// Package outcome holds the per-scenario result record: its status machine,
// timing, diagnostics and console rendering.
package outcome

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/logutil"
)

// Status is the lifecycle position of a record.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// DetailBudget caps rendered detail values, in characters.
const DetailBudget = 100

// Terminal reports whether no further transition may follow s.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusSkipped
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPassed, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Glyph is the console marker for s.
func (s Status) Glyph() string {
	switch s {
	case StatusPassed:
		return "✅"
	case StatusFailed:
		return "❌"
	case StatusSkipped:
		return "⏭"
	case StatusRunning:
		return "▶"
	default:
		return "⏳"
	}
}

// Record tracks one scenario run. It is mutated only by the scenario that
// owns it and by the driver around that scenario; it is not safe for
// concurrent use.
type Record struct {
	ID    string
	Name  string
	Group string

	status    Status
	startedAt time.Time
	endedAt   time.Time
	errText   string
	details   Details
	artifacts []string
	now       func() time.Time
}

// New returns a pending record.
func New(id, name string) *Record {
	return NewWithClock(id, name, time.Now)
}

// NewWithClock returns a pending record stamped by now.
func NewWithClock(id, name string, now func() time.Time) *Record {
	if now == nil {
		now = time.Now
	}
	return &Record{
		ID:      id,
		Name:    name,
		status:  StatusPending,
		details: Details{},
		now:     now,
	}
}

func finishedError(r *Record, op string) error {
	return errs.New(errs.FailedPrecondition, fmt.Sprintf("outcome %s: %s after %s", r.ID, op, r.status))
}

// Start moves pending to running. Calling it again while running keeps the
// first start time.
func (r *Record) Start() error {
	switch r.status {
	case StatusPending:
		r.status = StatusRunning
		r.startedAt = r.now()
		return nil
	case StatusRunning:
		return nil
	default:
		return finishedError(r, "start")
	}
}

// Pass finishes the record as passed and merges details.
func (r *Record) Pass(details Details) error {
	if r.status.Terminal() {
		return finishedError(r, "pass")
	}
	r.finish(StatusPassed)
	r.merge(details)
	return nil
}

// Fail finishes the record as failed, stores reason, appends artifact when
// non-empty and merges details.
func (r *Record) Fail(reason, artifact string, details Details) error {
	if r.status.Terminal() {
		return finishedError(r, "fail")
	}
	r.finish(StatusFailed)
	r.errText = reason
	if artifact != "" {
		r.artifacts = append(r.artifacts, artifact)
	}
	r.merge(details)
	return nil
}

// Skip finishes the record as skipped with reason stored as its error.
func (r *Record) Skip(reason string) error {
	if r.status.Terminal() {
		return finishedError(r, "skip")
	}
	r.finish(StatusSkipped)
	r.errText = reason
	return nil
}

// Note merges one detail while the record is still open.
func (r *Record) Note(key string, v Value) error {
	if r.status.Terminal() {
		return finishedError(r, "note")
	}
	r.details[key] = v
	return nil
}

// AddArtifact appends an artifact reference while the record is still open.
func (r *Record) AddArtifact(path string) error {
	if r.status.Terminal() {
		return finishedError(r, "add artifact")
	}
	if path != "" {
		r.artifacts = append(r.artifacts, path)
	}
	return nil
}

func (r *Record) finish(status Status) {
	r.status = status
	r.endedAt = r.now()
}

func (r *Record) merge(details Details) {
	for k, v := range details {
		r.details[k] = v
	}
}

func (r *Record) Status() Status       { return r.status }
func (r *Record) ErrorMessage() string { return r.errText }
func (r *Record) StartedAt() time.Time { return r.startedAt }
func (r *Record) EndedAt() time.Time   { return r.endedAt }

// Detail returns one detail value.
func (r *Record) Detail(key string) (Value, bool) {
	v, ok := r.details[key]
	return v, ok
}

// Artifacts returns a copy of the artifact references.
func (r *Record) Artifacts() []string {
	return append([]string(nil), r.artifacts...)
}

// Duration is end minus start, or zero unless both are set.
func (r *Record) Duration() time.Duration {
	if r.startedAt.IsZero() || r.endedAt.IsZero() {
		return 0
	}
	return r.endedAt.Sub(r.startedAt)
}

// Snapshot is an immutable copy of a record with secrets masked and the
// duration rounded to milliseconds.
type Snapshot struct {
	ID              string
	Name            string
	Group           string
	Status          Status
	DurationSeconds *float64
	Error           string
	Artifacts       []string
	Details         Details
}

// Snapshot copies the record for reporting.
func (r *Record) Snapshot() Snapshot {
	s := Snapshot{
		ID:        r.ID,
		Name:      r.Name,
		Group:     r.Group,
		Status:    r.status,
		Error:     r.errText,
		Artifacts: r.Artifacts(),
		Details:   make(Details, len(r.details)),
	}
	if !r.startedAt.IsZero() && !r.endedAt.IsZero() {
		secs := RoundSeconds(r.Duration())
		s.DurationSeconds = &secs
	}
	for k, v := range r.details {
		if logutil.IsCredentialField(k) {
			v = String(logutil.MaskSecret(v.String()))
		}
		s.Details[k] = v
	}
	return s
}

// RoundSeconds converts d to seconds with millisecond precision.
func RoundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

// FormatSeconds renders a rounded duration the way console output shows it.
func FormatSeconds(secs *float64) string {
	if secs == nil {
		return "-"
	}
	return fmt.Sprintf("%.3fs", *secs)
}

// Render produces the multi-line console summary of the record.
func (r *Record) Render() string {
	return r.Snapshot().Render()
}

// Render produces the multi-line console summary of the snapshot.
func (s Snapshot) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s (%s)", s.Status.Glyph(), s.ID, s.Name, FormatSeconds(s.DurationSeconds))
	if s.Error != "" {
		fmt.Fprintf(&b, "\n    error: %s", s.Error)
	}
	keys := make([]string, 0, len(s.Details))
	for k := range s.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n    %s: %s", k, logutil.TruncateForLog(s.Details[k].String(), DetailBudget))
	}
	for _, a := range s.Artifacts {
		fmt.Fprintf(&b, "\n    artifact: %s", a)
	}
	return b.String()
}

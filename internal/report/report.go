// Package report aggregates outcome records into the run summary that is
// printed to the console and saved as JSON, Markdown and HTML.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
)

// Summary holds the run totals. Pending and running records count towards
// Total and Incomplete only.
type Summary struct {
	Total       int    `json:"total"`
	Passed      int    `json:"passed"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	Incomplete  int    `json:"incomplete"`
	SuccessRate string `json:"success_rate"`
}

// Entry is the saved form of one record.
type Entry struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Group           string          `json:"group,omitempty"`
	Status          outcome.Status  `json:"status"`
	DurationSeconds *float64        `json:"duration_seconds"`
	Error           *string         `json:"error"`
	Artifacts       []string        `json:"artifacts"`
	Details         outcome.Details `json:"details"`
}

// Report is built once from the ordered records of a run.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Summary   Summary   `json:"summary"`
	Results   []Entry   `json:"results"`
}

// Build snapshots records in order. Later changes to the records do not
// reach the report.
func Build(runID string, records []*outcome.Record) *Report {
	return BuildAt(runID, time.Now().UTC(), records)
}

// BuildAt is Build with an explicit timestamp.
func BuildAt(runID string, at time.Time, records []*outcome.Record) *Report {
	rep := &Report{
		Timestamp: at,
		RunID:     runID,
		Results:   make([]Entry, 0, len(records)),
	}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		rep.Results = append(rep.Results, entryFromSnapshot(rec.Snapshot()))
	}
	rep.Summary = summarize(rep.Results)
	return rep
}

func entryFromSnapshot(s outcome.Snapshot) Entry {
	e := Entry{
		ID:              s.ID,
		Name:            s.Name,
		Group:           s.Group,
		Status:          s.Status,
		DurationSeconds: s.DurationSeconds,
		Artifacts:       s.Artifacts,
		Details:         s.Details,
	}
	if e.Artifacts == nil {
		e.Artifacts = []string{}
	}
	if e.Details == nil {
		e.Details = outcome.Details{}
	}
	if s.Error != "" {
		msg := s.Error
		e.Error = &msg
	}
	return e
}

// Snapshot converts the entry back into the form outcome renders.
func (e Entry) Snapshot() outcome.Snapshot {
	s := outcome.Snapshot{
		ID:              e.ID,
		Name:            e.Name,
		Group:           e.Group,
		Status:          e.Status,
		DurationSeconds: e.DurationSeconds,
		Artifacts:       e.Artifacts,
		Details:         e.Details,
	}
	if e.Error != nil {
		s.Error = *e.Error
	}
	return s
}

func summarize(entries []Entry) Summary {
	s := Summary{Total: len(entries)}
	for _, e := range entries {
		switch e.Status {
		case outcome.StatusPassed:
			s.Passed++
		case outcome.StatusFailed:
			s.Failed++
		case outcome.StatusSkipped:
			s.Skipped++
		default:
			s.Incomplete++
		}
	}
	s.SuccessRate = FormatRate(s.Passed, s.Total)
	return s
}

// FormatRate renders passed/total as a percentage with one decimal.
func FormatRate(passed, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(passed)/float64(total)*100)
}

// HasFailures reports whether any scenario failed or never finished.
func (r *Report) HasFailures() bool {
	return r.Summary.Failed > 0 || r.Summary.Incomplete > 0
}

// MarshalIndent encodes the report the way WriteJSON saves it.
func (r *Report) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// WriteJSON saves the report to path, creating parent directories.
func (r *Report) WriteJSON(path string) error {
	data, err := r.MarshalIndent()
	if err != nil {
		return errs.Wrap(errs.Internal, "encode report", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.Internal, "create report dir", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.Internal, "write report", err)
	}
	return nil
}

// Load reads a report saved by WriteJSON.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.NotFound, "report not found", err)
		}
		return nil, errs.Wrap(errs.Internal, "read report", err)
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "decode report", err)
	}
	return &rep, nil
}

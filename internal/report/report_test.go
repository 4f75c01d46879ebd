package report

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
)

var fixedTime = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func finished(t *testing.T, id string, status outcome.Status) *outcome.Record {
	t.Helper()
	rec := outcome.New(id, "scenario "+id)
	rec.Group = "prompts"
	switch status {
	case outcome.StatusPassed:
		require.NoError(t, rec.Start())
		require.NoError(t, rec.Pass(nil))
	case outcome.StatusFailed:
		require.NoError(t, rec.Start())
		require.NoError(t, rec.Fail("boom", "", nil))
	case outcome.StatusSkipped:
		require.NoError(t, rec.Skip("needs prompt"))
	case outcome.StatusRunning:
		require.NoError(t, rec.Start())
	}
	return rec
}

func TestBuild_MixedStatuses(t *testing.T) {
	statuses := []outcome.Status{outcome.StatusPassed, outcome.StatusPassed, outcome.StatusFailed, outcome.StatusSkipped, outcome.StatusPassed}
	records := make([]*outcome.Record, 0, len(statuses))
	for i, s := range statuses {
		records = append(records, finished(t, string(rune('A'+i)), s))
	}

	rep := BuildAt("run-1", fixedTime, records)
	want := Summary{Total: 5, Passed: 3, Failed: 1, Skipped: 1, SuccessRate: "60.0%"}
	if diff := cmp.Diff(want, rep.Summary); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, rep.HasFailures())
}

func TestBuild_EmptyRun(t *testing.T) {
	rep := Build("empty", nil)
	assert.Equal(t, "0.0%", rep.Summary.SuccessRate)
	assert.Zero(t, rep.Summary.Total)
	assert.False(t, rep.HasFailures())
}

func TestBuild_IncompleteCounted(t *testing.T) {
	rep := BuildAt("r", fixedTime, []*outcome.Record{
		finished(t, "T1", outcome.StatusPassed),
		finished(t, "T2", outcome.StatusRunning),
		outcome.New("T3", "never started"),
	})
	assert.Equal(t, 3, rep.Summary.Total)
	assert.Equal(t, 2, rep.Summary.Incomplete)
	assert.Equal(t, "33.3%", rep.Summary.SuccessRate)
	assert.True(t, rep.HasFailures())
}

func TestBuild_LaterMutationDoesNotLeak(t *testing.T) {
	rec := outcome.New("T1", "open")
	require.NoError(t, rec.Start())
	require.NoError(t, rec.Note("step", outcome.String("one")))

	rep := BuildAt("r", fixedTime, []*outcome.Record{rec})
	require.NoError(t, rec.Note("step", outcome.String("two")))
	require.NoError(t, rec.Pass(nil))

	assert.Equal(t, outcome.StatusRunning, rep.Results[0].Status)
	assert.Equal(t, "one", rep.Results[0].Details["step"].String())
	assert.Equal(t, 1, rep.Summary.Incomplete)
}

func TestWriteJSON_LoadRoundTrip(t *testing.T) {
	rec := finished(t, "T2.1", outcome.StatusFailed)
	rep := BuildAt("run-7", fixedTime, []*outcome.Record{rec, finished(t, "T2.2", outcome.StatusSkipped)})

	path := filepath.Join(t.TempDir(), "nested", "report.json")
	require.NoError(t, rep.WriteJSON(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, rep.Summary, loaded.Summary)
	assert.Equal(t, "run-7", loaded.RunID)
	require.Len(t, loaded.Results, 2)
	require.NotNil(t, loaded.Results[0].Error)
	assert.Equal(t, "boom", *loaded.Results[0].Error)
	assert.Nil(t, loaded.Results[1].DurationSeconds)
	assert.Equal(t, []string{}, loaded.Results[1].Artifacts)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestJSON_NullsForMissingValues(t *testing.T) {
	rep := BuildAt("r", fixedTime, []*outcome.Record{outcome.New("T0", "pending")})
	raw, err := rep.MarshalIndent()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"duration_seconds": null`)
	assert.Contains(t, string(raw), `"error": null`)
	assert.Contains(t, string(raw), `"success_rate": "0.0%"`)
}

func TestRenderConsole_MatchesJSONValues(t *testing.T) {
	rep := BuildAt("run-9", fixedTime, []*outcome.Record{
		finished(t, "T2.1", outcome.StatusPassed),
		finished(t, "T2.2", outcome.StatusFailed),
	})

	var buf bytes.Buffer
	rep.RenderConsole(&buf)
	out := buf.String()

	assert.Contains(t, out, "PROMPTDECK E2E REPORT")
	assert.Contains(t, out, "Run: run-9")
	assert.Contains(t, out, "## prompts")
	for _, e := range rep.Results {
		assert.Contains(t, out, e.Snapshot().Render())
		assert.Contains(t, out, outcome.FormatSeconds(e.DurationSeconds))
	}
	assert.Contains(t, out, "error: boom")
	assert.Contains(t, out, "Success Rate: 50.0%")
	assert.Contains(t, out, "1 scenario(s) failed")
}

func TestMarkdownAndHTML(t *testing.T) {
	rec := finished(t, "T3.1", outcome.StatusFailed)
	rep := BuildAt("run-md", fixedTime, []*outcome.Record{rec})

	md := rep.Markdown()
	assert.Contains(t, md, "## prompts")
	assert.Contains(t, md, "| ❌ failed | T3.1 | scenario T3.1 |")

	html := string(rep.HTML())
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "T3.1")
	assert.False(t, strings.Contains(html, "<script"))
}

func testBuild_CountsAddUp(t *rapid.T) {
	statuses := rapid.SliceOf(rapid.SampledFrom([]outcome.Status{
		outcome.StatusPending, outcome.StatusRunning, outcome.StatusPassed, outcome.StatusFailed, outcome.StatusSkipped,
	})).Draw(t, "statuses")

	records := make([]*outcome.Record, 0, len(statuses))
	for _, s := range statuses {
		rec := outcome.New("T", "n")
		switch s {
		case outcome.StatusRunning:
			_ = rec.Start()
		case outcome.StatusPassed:
			_ = rec.Pass(nil)
		case outcome.StatusFailed:
			_ = rec.Fail("x", "", nil)
		case outcome.StatusSkipped:
			_ = rec.Skip("x")
		}
		records = append(records, rec)
	}

	s := BuildAt("p", fixedTime, records).Summary
	if s.Total != len(statuses) {
		t.Fatalf("total %d, want %d", s.Total, len(statuses))
	}
	if s.Passed+s.Failed+s.Skipped+s.Incomplete != s.Total {
		t.Fatalf("counts do not add up: %+v", s)
	}
	if s.SuccessRate != FormatRate(s.Passed, s.Total) {
		t.Fatalf("rate %q", s.SuccessRate)
	}
}

func TestBuild_CountsAddUp(t *testing.T) {
	rapid.Check(t, testBuild_CountsAddUp)
}

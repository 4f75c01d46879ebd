package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/promptdeck-e2e/internal/browser"
	"github.com/kuitang/promptdeck-e2e/internal/config"
	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/fakedeck"
	"github.com/kuitang/promptdeck-e2e/internal/outcome"
	"github.com/kuitang/promptdeck-e2e/internal/report"
	"github.com/kuitang/promptdeck-e2e/internal/s3client"
	"github.com/kuitang/promptdeck-e2e/internal/scenario"
	"github.com/kuitang/promptdeck-e2e/internal/suites"
)

var testAccount = fakedeck.Account{Email: "qa@promptdeck.test", Password: "s3cret-pass"}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		BaseURL:        baseURL,
		Email:          testAccount.Email,
		Password:       testAccount.Password,
		RequestTimeout: 5 * time.Second,
		RunID:          "run-1",
		ArtifactDir:    t.TempDir(),
		Plan:           &config.Plan{},
	}
}

func deckAgent(t *testing.T) (*agent, string) {
	t.Helper()
	deck, srv := fakedeck.Start(t, testAccount)
	a := defaultAgent()
	a.launch = func(context.Context, browser.Options) (browser.Driver, error) {
		return deck.Browser(srv.URL), nil
	}
	return a, srv.URL
}

func TestAgentRun_WritesReportsMetricsAndMirror(t *testing.T) {
	a, baseURL := deckAgent(t)
	mirror := s3client.TestClient(t, "e2e-artifacts", "runs")
	a.mirrorClient = func(context.Context, *config.Config) (*s3client.Client, error) {
		return mirror, nil
	}

	cfg := testConfig(t, baseURL)
	cfg.MetricsPath = filepath.Join(t.TempDir(), "e2e.prom")
	cfg.MirrorBucket = "e2e-artifacts"

	var out bytes.Buffer
	rep, err := a.run(context.Background(), cfg, &out)
	require.NoError(t, err)

	assert.False(t, rep.HasFailures())
	assert.Equal(t, 26, rep.Summary.Passed)
	assert.Contains(t, out.String(), "PROMPTDECK E2E REPORT")
	assert.Contains(t, out.String(), "Artifacts: "+cfg.RunDir())

	saved, err := report.Load(filepath.Join(cfg.RunDir(), "report.json"))
	require.NoError(t, err)
	assert.Equal(t, rep.Summary, saved.Summary)
	for _, name := range []string{"report.md", "report.html"} {
		_, err := os.Stat(filepath.Join(cfg.RunDir(), name))
		assert.NoError(t, err, name)
	}

	prom, err := os.ReadFile(cfg.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `e2e_scenarios_total{status="passed"} 26`)
	assert.Contains(t, string(prom), `e2e_run_info{base_url="`+baseURL+`",browser="chromium",run_id="run-1"} 1`)

	keys, err := mirror.ListKeys(context.Background(), "runs/run-1/")
	require.NoError(t, err)
	assert.Contains(t, keys, "runs/run-1/report.json")
	assert.Contains(t, keys, "runs/run-1/report.md")
	assert.Contains(t, keys, "runs/run-1/report.html")
}

func TestAgentRun_LaunchFailureStillReports(t *testing.T) {
	a := defaultAgent()
	a.launch = func(context.Context, browser.Options) (browser.Driver, error) {
		return nil, errs.New(errs.Unavailable, "could not launch browser")
	}
	cfg := testConfig(t, "http://127.0.0.1:1")

	var out bytes.Buffer
	rep, err := a.run(context.Background(), cfg, &out)
	require.NoError(t, err)

	require.Len(t, rep.Results, 1)
	got := rep.Results[0]
	assert.Equal(t, scenario.SetupID, got.ID)
	assert.Equal(t, outcome.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "could not launch browser", *got.Error)
	assert.True(t, rep.HasFailures())

	_, err = os.Stat(filepath.Join(cfg.RunDir(), "report.json"))
	assert.NoError(t, err)
}

func TestAgentRun_FailuresAreReported(t *testing.T) {
	a, baseURL := deckAgent(t)
	cfg := testConfig(t, baseURL)
	cfg.Password = "wrong"

	rep, err := a.run(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, rep.HasFailures())
	assert.Equal(t, 26, rep.Summary.Total)
	assert.Positive(t, rep.Summary.Skipped)
}

func TestAgentRun_BrowserClosedWhenRunPanics(t *testing.T) {
	deck, srv := fakedeck.Start(t, testAccount)
	drv := deck.Browser(srv.URL)
	a := defaultAgent()
	a.launch = func(context.Context, browser.Options) (browser.Driver, error) { return drv, nil }
	a.groups = func() []scenario.Group { panic("group table broken") }

	cfg := testConfig(t, srv.URL)
	assert.Panics(t, func() { _, _ = a.run(context.Background(), cfg, &bytes.Buffer{}) })
	assert.True(t, drv.Closed())
}

func TestAgentRun_UnusableArtifactDirFallsBackToTemp(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	launched := false
	a := defaultAgent()
	a.launch = func(context.Context, browser.Options) (browser.Driver, error) {
		launched = true
		return nil, errs.New(errs.Unavailable, "unexpected launch")
	}
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.ArtifactDir = blocker

	var out bytes.Buffer
	rep, err := a.run(context.Background(), cfg, &out)
	require.NoError(t, err)
	assert.False(t, launched)

	require.Len(t, rep.Results, 1)
	assert.Equal(t, scenario.SetupID, rep.Results[0].ID)
	assert.Equal(t, outcome.StatusFailed, rep.Results[0].Status)

	dir := fallbackRunDir("run-1")
	assert.Contains(t, out.String(), "Artifacts: "+dir)
	saved, err := report.Load(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Summary.Failed)
}

func TestRunCmd_MissingCredentialsIsAnError(t *testing.T) {
	t.Setenv("E2E_EMAIL", "")
	t.Setenv("E2E_PASSWORD", "")
	envFile := filepath.Join(t.TempDir(), "empty.env")
	require.NoError(t, os.WriteFile(envFile, nil, 0o644))
	artifactDir := t.TempDir()

	launched := false
	a := defaultAgent()
	a.launch = func(context.Context, browser.Options) (browser.Driver, error) {
		launched = true
		return nil, errs.New(errs.Unavailable, "unexpected launch")
	}

	cmd := newRootCmd(a)
	cmd.SetArgs([]string{"run", "--env-file", envFile, "--artifacts", artifactDir, "--run-id", "cfg-1"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "E2E_EMAIL is required")
	assert.False(t, launched)

	// The invalid config still leaves a report with the setup record.
	saved, err := report.Load(filepath.Join(artifactDir, "cfg-1", "report.json"))
	require.NoError(t, err)
	require.Len(t, saved.Results, 1)
	got := saved.Results[0]
	assert.Equal(t, scenario.SetupID, got.ID)
	assert.Equal(t, outcome.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "E2E_PASSWORD is required")
	assert.Contains(t, out.String(), "Artifacts: "+filepath.Join(artifactDir, "cfg-1"))
}

func TestListCmd_MarksUnselectedScenarios(t *testing.T) {
	cmd := newRootCmd(defaultAgent())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"list", "--group", "tagging", "--skip", "T3.2"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	n := 0
	for _, g := range suites.All() {
		n += 1 + len(g.Scenarios)
	}
	assert.Len(t, lines, n)
	assert.Contains(t, out.String(), "T3 tagging")
	assert.Regexp(t, `T3\.1\s+add tag via UI\n`, out.String())
	assert.Regexp(t, `T3\.2\s+filter list by tag\s+\(not selected\)`, out.String())
	assert.Regexp(t, `T1\.1\s+login page renders\s+\(not selected\)`, out.String())
}

func TestRenderCmd_Markdown(t *testing.T) {
	rec := outcome.New("T1.1", "login page renders")
	rec.Group = "authentication"
	require.NoError(t, rec.Start())
	require.NoError(t, rec.Pass(nil))
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, report.Build("run-9", []*outcome.Record{rec}).WriteJSON(path))

	cmd := newRootCmd(defaultAgent())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"render", path, "--markdown"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "login page renders")

	out.Reset()
	cmd = newRootCmd(defaultAgent())
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"render", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Run: run-9")
}

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/kuitang/promptdeck-e2e/internal/ratelimit"
)

func validTestConfig() Config {
	return Config{
		BaseURL:           "http://localhost:8080",
		Email:             "agent@example.test",
		Password:          "correct horse battery",
		Headless:          true,
		ActionTimeout:     5 * time.Second,
		NavigationTimeout: 15 * time.Second,
		ViewportWidth:     1280,
		ViewportHeight:    800,
		RequestTimeout:    10 * time.Second,
		Pacing:            ratelimit.DefaultConfig,
		RunID:             "run-1",
		ArtifactDir:       "./e2e-artifacts",
		LogLevel:          "info",
		LogFormat:         "json",
		Plan:              &Plan{},
	}
}

func TestValidate_MinimalConfigPasses(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_MissingCredentialsIsHardFailure(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.Email = ""
	cfg.Password = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error without credentials")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	msg := verr.Error()
	for _, expected := range []string{"E2E_EMAIL", "E2E_PASSWORD"} {
		if !strings.Contains(msg, expected) {
			t.Fatalf("expected validation error to mention %q, got: %v", expected, err)
		}
	}
}

func testValidate_RejectsNonPositiveTimeouts(t *rapid.T) {
	cfg := validTestConfig()
	cfg.ActionTimeout = time.Duration(rapid.Int64Range(-int64(time.Hour), 0).Draw(t, "action"))
	cfg.NavigationTimeout = time.Duration(rapid.Int64Range(-int64(time.Hour), 0).Draw(t, "navigation"))
	cfg.RequestTimeout = time.Duration(rapid.Int64Range(-int64(time.Hour), 0).Draw(t, "request"))

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for non-positive timeouts")
	}
	msg := err.Error()
	for _, token := range []string{"E2E_ACTION_TIMEOUT", "E2E_NAVIGATION_TIMEOUT", "E2E_REQUEST_TIMEOUT"} {
		if !strings.Contains(msg, token) {
			t.Fatalf("expected error mentioning %q, got: %v", token, err)
		}
	}
}

func TestValidate_RejectsNonPositiveTimeouts(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_RejectsNonPositiveTimeouts)
}

func TestValidate_BadBaseURLAndRunID(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.BaseURL = "localhost:8080"
	cfg.RunID = "../escape"
	cfg.LogFormat = "xml"
	cfg.MirrorBucket = "bucket"
	cfg.MirrorAccessKeyID = "AKIA"

	msg := cfg.Validate().Error()
	for _, token := range []string{"E2E_BASE_URL", "path separators", "E2E_LOG_FORMAT", "AWS_SECRET_ACCESS_KEY"} {
		if !strings.Contains(msg, token) {
			t.Fatalf("expected error mentioning %q, got: %s", token, msg)
		}
	}
}

func TestLoadConfig_EnvThenFlagsThenPlan(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(planPath, []byte("groups: [prompts]\nskip: [T2.5]\nfixtures:\n  tag_name: nightly\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(dir, "e2e.env")
	if err := os.WriteFile(envPath, []byte("E2E_PASSWORD=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("E2E_BASE_URL", "https://deck.example.test/")
	t.Setenv("E2E_EMAIL", "agent@example.test")
	t.Setenv("E2E_PASSWORD", "")
	t.Setenv("E2E_ACTION_TIMEOUT", "2s")
	t.Setenv("E2E_RUN_ID", "")
	os.Unsetenv("E2E_PASSWORD")

	cfg, err := LoadConfig(Overrides{
		EnvFile:     envPath,
		PlanPath:    planPath,
		RunID:       "nightly-1",
		ArtifactDir: dir,
		Headed:      true,
		Only:        []string{"T2.1"},
	})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.BaseURL != "https://deck.example.test" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Password != "from-dotenv" {
		t.Errorf("Password not loaded from env file")
	}
	if cfg.ActionTimeout != 2*time.Second {
		t.Errorf("ActionTimeout = %v", cfg.ActionTimeout)
	}
	if cfg.Headless {
		t.Error("--headed should disable headless")
	}
	if cfg.RunDir() != filepath.Join(dir, "nightly-1") {
		t.Errorf("RunDir = %q", cfg.RunDir())
	}
	if !cfg.Plan.SelectsGroup("T2", "prompts") || cfg.Plan.SelectsGroup("T1", "authentication") {
		t.Error("plan group selection mismatch")
	}
	if !cfg.Plan.SelectsScenario("T2.1") || cfg.Plan.SelectsScenario("T2.2") || cfg.Plan.SelectsScenario("T2.5") {
		t.Error("plan scenario selection mismatch")
	}
	if cfg.Plan.Fixture("tag_name", "x") != "nightly" {
		t.Error("fixture not loaded")
	}
}

func TestParsePlan_RejectsUnknownKeysAndConflicts(t *testing.T) {
	t.Parallel()
	if _, err := ParsePlan([]byte("grups: [x]\n")); err == nil {
		t.Fatal("expected unknown key error")
	}
	plan, err := ParsePlan([]byte("only: [T1.1]\nskip: [t1.1]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if errs := plan.validate(); len(errs) != 1 {
		t.Fatalf("expected one conflict, got %v", errs)
	}
	empty, err := ParsePlan(nil)
	if err != nil || !empty.Empty() {
		t.Fatalf("empty plan: %v %+v", err, empty)
	}
}

func TestPrintStartupSummary_MasksPassword(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.Plan = &Plan{Groups: []string{"T4"}}
	var buf bytes.Buffer
	cfg.PrintStartupSummary(&buf)

	out := buf.String()
	if strings.Contains(out, cfg.Password) {
		t.Fatal("password leaked into startup summary")
	}
	for _, want := range []string{"run-1", "http://localhost:8080", "agent@example.test", "Mirror:    disabled", "groups=T4"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestNewRunID_Shape(t *testing.T) {
	t.Parallel()
	id := NewRunID(time.Date(2026, 10, 17, 8, 9, 10, 0, time.UTC))
	if !strings.HasPrefix(id, "20261017-080910-") || len(id) != len("20261017-080910-")+8 {
		t.Fatalf("unexpected run id %q", id)
	}
}

func TestHelperParsers_DefaultOnBadInput(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "not-an-int")
	t.Setenv("CFG_TEST_FLOAT", "not-a-float")
	t.Setenv("CFG_TEST_DUR", "not-a-duration")
	t.Setenv("CFG_TEST_BOOL", "maybe")
	if got := parseIntOrDefault("CFG_TEST_INT", 7); got != 7 {
		t.Fatalf("parseIntOrDefault fallback mismatch: got=%d want=7", got)
	}
	if got := parseFloat64OrDefault("CFG_TEST_FLOAT", 3.5); got != 3.5 {
		t.Fatalf("parseFloat64OrDefault fallback mismatch: got=%v want=3.5", got)
	}
	if got := parseDurationOrDefault("CFG_TEST_DUR", 2*time.Minute); got != 2*time.Minute {
		t.Fatalf("parseDurationOrDefault fallback mismatch: got=%v want=%v", got, 2*time.Minute)
	}
	if got := parseBoolOrDefault("CFG_TEST_BOOL", true); !got {
		t.Fatal("parseBoolOrDefault fallback mismatch")
	}
}

func TestGetEnvOrDefault_TrimsWhitespace(t *testing.T) {
	t.Setenv("CFG_TEST_STR", "   value   ")
	if got := getEnvOrDefault("CFG_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("getEnvOrDefault trim mismatch: got=%q want=%q", got, "value")
	}
}

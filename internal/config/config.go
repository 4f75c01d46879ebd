// Package config provides centralized configuration for the e2e agent.
// Values come from environment variables (optionally seeded from a .env
// file), then CLI flag overrides, then an optional YAML plan that selects
// which groups and scenarios run.
//
// Target credentials are always required; there is no built-in fallback.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/kuitang/promptdeck-e2e/internal/logutil"
	"github.com/kuitang/promptdeck-e2e/internal/ratelimit"
	"github.com/kuitang/promptdeck-e2e/internal/urlutil"
)

const (
	defaultBaseURL      = "http://localhost:8080"
	defaultArtifactDir  = "./e2e-artifacts"
	defaultMirrorRegion = "auto"
)

// Config holds the resolved run configuration.
type Config struct {
	// Target
	BaseURL  string
	Email    string
	Password string

	// Browser
	Headless          bool
	InstallBrowsers   bool
	SlowMo            time.Duration
	ActionTimeout     time.Duration // default for clicks, fills, waits
	NavigationTimeout time.Duration // default for page loads
	ViewportWidth     int
	ViewportHeight    int

	// API
	RequestTimeout time.Duration
	Pacing         ratelimit.Config

	// Run output
	RunID       string
	ArtifactDir string // parent dir; the run writes into ArtifactDir/RunID
	MetricsPath string // empty disables the .prom file
	LogLevel    string
	LogFormat   string

	// Artifact mirror (S3-compatible, uses AWS_ env vars)
	MirrorBucket          string // E2E_MIRROR_BUCKET; empty disables the mirror
	MirrorPrefix          string
	MirrorEndpoint        string // AWS_ENDPOINT_URL_S3
	MirrorRegion          string // AWS_REGION
	MirrorAccessKeyID     string // AWS_ACCESS_KEY_ID
	MirrorSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	MirrorPathStyle       bool

	// Plan
	PlanPath string
	Plan     *Plan
}

// Overrides carries CLI flag values. Zero values leave the environment
// value in place.
type Overrides struct {
	EnvFile     string
	BaseURL     string
	PlanPath    string
	RunID       string
	ArtifactDir string
	MetricsPath string
	LogLevel    string
	LogFormat   string
	Headed      bool
	Install     bool
	Groups      []string
	Only        []string
	Skip        []string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// LoadEnvFile seeds the process environment from a .env file. Variables that
// are already set win. A missing default ".env" is not an error; a missing
// explicitly named file is.
func LoadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from the environment, applies flag
// overrides and the plan file, and validates the result. When only
// validation fails the loaded config is returned with the *ValidationError
// so the caller can still report the run.
func LoadConfig(ov Overrides) (*Config, error) {
	if err := LoadEnvFile(ov.EnvFile); err != nil {
		return nil, err
	}

	cfg := FromEnv()
	cfg.apply(ov)

	if cfg.PlanPath != "" {
		plan, err := LoadPlan(cfg.PlanPath)
		if err != nil {
			return nil, err
		}
		cfg.Plan = plan
	} else {
		cfg.Plan = &Plan{}
	}
	cfg.Plan.Groups = append(cfg.Plan.Groups, ov.Groups...)
	cfg.Plan.Only = append(cfg.Plan.Only, ov.Only...)
	cfg.Plan.Skip = append(cfg.Plan.Skip, ov.Skip...)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromEnv reads every setting from environment variables.
func FromEnv() *Config {
	cfg := &Config{}

	cfg.BaseURL = urlutil.NormalizeBase(getEnvOrDefault("E2E_BASE_URL", defaultBaseURL))
	cfg.Email = strings.TrimSpace(os.Getenv("E2E_EMAIL"))
	cfg.Password = os.Getenv("E2E_PASSWORD")

	cfg.Headless = parseBoolOrDefault("E2E_HEADLESS", true)
	cfg.InstallBrowsers = parseBoolOrDefault("E2E_INSTALL_BROWSERS", false)
	cfg.SlowMo = parseDurationOrDefault("E2E_SLOW_MO", 0)
	cfg.ActionTimeout = parseDurationOrDefault("E2E_ACTION_TIMEOUT", 5*time.Second)
	cfg.NavigationTimeout = parseDurationOrDefault("E2E_NAVIGATION_TIMEOUT", 15*time.Second)
	cfg.ViewportWidth = parseIntOrDefault("E2E_VIEWPORT_WIDTH", 1280)
	cfg.ViewportHeight = parseIntOrDefault("E2E_VIEWPORT_HEIGHT", 800)

	cfg.RequestTimeout = parseDurationOrDefault("E2E_REQUEST_TIMEOUT", 10*time.Second)
	cfg.Pacing = ratelimit.Config{
		SessionRPS:      parseFloat64OrDefault("E2E_PACING_SESSION_RPS", ratelimit.DefaultConfig.SessionRPS),
		SessionBurst:    parseIntOrDefault("E2E_PACING_SESSION_BURST", ratelimit.DefaultConfig.SessionBurst),
		KeyRPS:          parseFloat64OrDefault("E2E_PACING_KEY_RPS", ratelimit.DefaultConfig.KeyRPS),
		KeyBurst:        parseIntOrDefault("E2E_PACING_KEY_BURST", ratelimit.DefaultConfig.KeyBurst),
		CleanupInterval: parseDurationOrDefault("E2E_PACING_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval),
	}

	cfg.RunID = getEnvOrDefault("E2E_RUN_ID", "")
	cfg.ArtifactDir = getEnvOrDefault("E2E_ARTIFACT_DIR", defaultArtifactDir)
	cfg.MetricsPath = getEnvOrDefault("E2E_METRICS_PATH", "")
	cfg.LogLevel = getEnvOrDefault("E2E_LOG_LEVEL", "info")
	cfg.LogFormat = getEnvOrDefault("E2E_LOG_FORMAT", "json")

	cfg.MirrorBucket = getEnvOrDefault("E2E_MIRROR_BUCKET", "")
	cfg.MirrorPrefix = getEnvOrDefault("E2E_MIRROR_PREFIX", "e2e-runs")
	cfg.MirrorEndpoint = getEnvOrDefault("AWS_ENDPOINT_URL_S3", "")
	cfg.MirrorRegion = getEnvOrDefault("AWS_REGION", defaultMirrorRegion)
	cfg.MirrorAccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", "")
	cfg.MirrorSecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", "")
	cfg.MirrorPathStyle = parseBoolOrDefault("E2E_MIRROR_PATH_STYLE", false)

	cfg.PlanPath = getEnvOrDefault("E2E_PLAN", "")
	return cfg
}

func (c *Config) apply(ov Overrides) {
	if ov.BaseURL != "" {
		c.BaseURL = urlutil.NormalizeBase(ov.BaseURL)
	}
	if ov.PlanPath != "" {
		c.PlanPath = ov.PlanPath
	}
	if ov.RunID != "" {
		c.RunID = ov.RunID
	}
	if ov.ArtifactDir != "" {
		c.ArtifactDir = ov.ArtifactDir
	}
	if ov.MetricsPath != "" {
		c.MetricsPath = ov.MetricsPath
	}
	if ov.LogLevel != "" {
		c.LogLevel = ov.LogLevel
	}
	if ov.LogFormat != "" {
		c.LogFormat = ov.LogFormat
	}
	if ov.Headed {
		c.Headless = false
	}
	if ov.Install {
		c.InstallBrowsers = true
	}
	if c.RunID == "" {
		c.RunID = NewRunID(time.Now())
	}
}

// NewRunID returns "<yyyymmdd-hhmmss>-<8 hex>".
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102-150405") + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if err := urlutil.ValidateBase(c.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("E2E_BASE_URL %q is invalid: %v", c.BaseURL, err))
	}

	// Credentials: always required, never defaulted
	if c.Email == "" {
		errs = append(errs, "E2E_EMAIL is required (the account the agent logs in with)")
	} else if !strings.Contains(c.Email, "@") {
		errs = append(errs, "E2E_EMAIL must be an email address")
	}
	if c.Password == "" {
		errs = append(errs, "E2E_PASSWORD is required")
	}

	if c.ActionTimeout <= 0 {
		errs = append(errs, "E2E_ACTION_TIMEOUT must be positive")
	}
	if c.NavigationTimeout <= 0 {
		errs = append(errs, "E2E_NAVIGATION_TIMEOUT must be positive")
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, "E2E_REQUEST_TIMEOUT must be positive")
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		errs = append(errs, "E2E_VIEWPORT_WIDTH and E2E_VIEWPORT_HEIGHT must be positive")
	}

	if c.Pacing.SessionRPS < 0 || c.Pacing.KeyRPS < 0 {
		errs = append(errs, "pacing RPS must not be negative (0 disables pacing)")
	}
	if c.Pacing.SessionBurst <= 0 || c.Pacing.KeyBurst <= 0 {
		errs = append(errs, "pacing burst must be positive")
	}

	if strings.TrimSpace(c.RunID) == "" {
		errs = append(errs, "run id must not be empty")
	} else if strings.ContainsAny(c.RunID, `/\`) {
		errs = append(errs, "run id must not contain path separators")
	}
	if c.ArtifactDir == "" {
		errs = append(errs, "E2E_ARTIFACT_DIR must not be empty")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "E2E_LOG_FORMAT must be json or text")
	}

	if c.MirrorBucket != "" && (c.MirrorAccessKeyID == "") != (c.MirrorSecretAccessKey == "") {
		errs = append(errs, "AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}

	if c.Plan != nil {
		errs = append(errs, c.Plan.validate()...)
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// RunDir is the directory this run writes its artifacts into.
func (c *Config) RunDir() string {
	return filepath.Join(c.ArtifactDir, c.RunID)
}

// MirrorEnabled reports whether artifacts are uploaded after the run.
func (c *Config) MirrorEnabled() bool {
	return c.MirrorBucket != ""
}

// PrintStartupSummary prints a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "promptdeck e2e agent starting...")
	fmt.Fprintf(w, "  Run:       %s\n", c.RunID)
	fmt.Fprintf(w, "  Target:    %s\n", c.BaseURL)
	fmt.Fprintf(w, "  Account:   %s (password %s)\n", c.Email, logutil.MaskSecret(c.Password))

	if c.Headless {
		fmt.Fprintln(w, "  Browser:   chromium (headless)")
	} else {
		fmt.Fprintln(w, "  Browser:   chromium (headed)")
	}
	fmt.Fprintf(w, "  Timeouts:  action %s, navigation %s, request %s\n", c.ActionTimeout, c.NavigationTimeout, c.RequestTimeout)
	fmt.Fprintf(w, "  Artifacts: %s\n", c.RunDir())

	if c.MirrorEnabled() {
		fmt.Fprintf(w, "  Mirror:    s3://%s/%s/%s\n", c.MirrorBucket, c.MirrorPrefix, c.RunID)
	} else {
		fmt.Fprintln(w, "  Mirror:    disabled")
	}
	if c.MetricsPath != "" {
		fmt.Fprintf(w, "  Metrics:   %s\n", c.MetricsPath)
	}
	if c.Plan != nil && !c.Plan.Empty() {
		fmt.Fprintf(w, "  Plan:      %s\n", c.Plan.Describe())
	}
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

package obs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

type correlationContextKey struct{}

// Correlation carries the identifiers that tie log events to one run, one
// scenario and one fallback attempt.
type Correlation struct {
	RunID      string
	Group      string
	ScenarioID string
	Attempt    string
}

// Options selects the handler used by the global logger.
type Options struct {
	Level  slog.Level
	Format string // "json" (default) or "text"
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
)

// Init configures the global structured logger. Later calls replace it.
func Init(opts Options) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = newLogger(os.Stderr, opts)
	slog.SetDefault(logger)
}

// SetOutputForTests overrides the global logger output for tests.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	logger = newLogger(w, Options{Level: slog.LevelDebug})
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		if prev != nil {
			logger = prev
		} else {
			logger = newLogger(os.Stderr, Options{Level: slog.LevelInfo})
		}
		slog.SetDefault(logger)
	}
}

// ParseLevel maps a flag value to a slog level, defaulting to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level: opts.Level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				t, ok := attr.Value.Any().(time.Time)
				if ok {
					return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
				}
			}
			return attr
		},
	}
	if strings.EqualFold(opts.Format, "text") {
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts))
}

func globalLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	Init(Options{Level: slog.LevelInfo})
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return globalLogger().With("pkg", pkg)
}

// From returns a logger with correlation fields from context.
func From(ctx context.Context) *slog.Logger {
	l := globalLogger()
	attrs := correlationAttrs(CorrelationFromContext(ctx))
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// WithRun stores run_id in context.
func WithRun(ctx context.Context, runID string) context.Context {
	return WithCorrelation(ctx, Correlation{RunID: strings.TrimSpace(runID)})
}

// WithScenario stores the group and scenario id in context.
func WithScenario(ctx context.Context, group, scenarioID string) context.Context {
	return WithCorrelation(ctx, Correlation{Group: group, ScenarioID: scenarioID})
}

// WithAttempt stores the name of the fallback attempt in context.
func WithAttempt(ctx context.Context, attempt string) context.Context {
	return WithCorrelation(ctx, Correlation{Attempt: attempt})
}

// WithCorrelation merges non-empty correlation fields into context.
func WithCorrelation(ctx context.Context, corr Correlation) context.Context {
	existing := CorrelationFromContext(ctx)
	if corr.RunID != "" {
		existing.RunID = corr.RunID
	}
	if corr.Group != "" {
		existing.Group = corr.Group
	}
	if corr.ScenarioID != "" {
		existing.ScenarioID = corr.ScenarioID
	}
	if corr.Attempt != "" {
		existing.Attempt = corr.Attempt
	}
	return context.WithValue(ctx, correlationContextKey{}, existing)
}

// CorrelationFromContext returns correlation fields from context.
func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	corr, ok := ctx.Value(correlationContextKey{}).(Correlation)
	if !ok {
		return Correlation{}
	}
	return corr
}

func correlationAttrs(corr Correlation) []any {
	attrs := make([]any, 0, 8)
	if corr.RunID != "" {
		attrs = append(attrs, "run_id", corr.RunID)
	}
	if corr.Group != "" {
		attrs = append(attrs, "group", corr.Group)
	}
	if corr.ScenarioID != "" {
		attrs = append(attrs, "scenario_id", corr.ScenarioID)
	}
	if corr.Attempt != "" {
		attrs = append(attrs, "attempt", corr.Attempt)
	}
	return attrs
}

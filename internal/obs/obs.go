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

type runContextKey struct{}

// Run carries the correlation fields of one suite run.
type Run struct {
	RunID    string
	Scenario string
	Stage    string
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
)

// Init configures the global structured logger.
func Init() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return
	}
	logger = newLogger(os.Stderr)
	slog.SetDefault(logger)
}

// SetOutputForTests overrides the global logger output for tests.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	logger = newLogger(w)
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		if prev != nil {
			logger = prev
		} else {
			logger = newLogger(os.Stderr)
		}
		slog.SetDefault(logger)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				t, ok := attr.Value.Any().(time.Time)
				if ok {
					return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
				}
			}
			return attr
		},
	})
	return slog.New(handler)
}

func globalLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	Init()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return globalLogger().With("pkg", pkg)
}

// From returns a logger with run correlation fields from context.
func From(ctx context.Context) *slog.Logger {
	l := globalLogger()
	attrs := runAttrs(RunFromContext(ctx))
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// WithRun stores run correlation fields in context. Empty fields keep the
// values already present.
func WithRun(ctx context.Context, run Run) context.Context {
	existing := RunFromContext(ctx)
	if v := strings.TrimSpace(run.RunID); v != "" {
		existing.RunID = v
	}
	if v := strings.TrimSpace(run.Scenario); v != "" {
		existing.Scenario = v
	}
	if v := strings.TrimSpace(run.Stage); v != "" {
		existing.Stage = v
	}
	return context.WithValue(ctx, runContextKey{}, existing)
}

// WithStage is shorthand for WithRun with only the stage set.
func WithStage(ctx context.Context, stage string) context.Context {
	return WithRun(ctx, Run{Stage: stage})
}

// RunFromContext returns run correlation fields from context.
func RunFromContext(ctx context.Context) Run {
	if ctx == nil {
		return Run{}
	}
	run, ok := ctx.Value(runContextKey{}).(Run)
	if !ok {
		return Run{}
	}
	return run
}

func runAttrs(run Run) []any {
	attrs := make([]any, 0, 6)
	if run.RunID != "" {
		attrs = append(attrs, "run_id", run.RunID)
	}
	if run.Scenario != "" {
		attrs = append(attrs, "scenario", run.Scenario)
	}
	if run.Stage != "" {
		attrs = append(attrs, "stage", run.Stage)
	}
	return attrs
}

// DurMS returns the elapsed time since start in fractional milliseconds.
func DurMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

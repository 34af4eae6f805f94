// Package observability provides structured logging, distributed tracing,
// and metrics for the orchestrator runtime, mirroring the three pillars
// pattern the rest of this codebase's ambient stack follows.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
)

// ContextKey is the type used for context values carrying correlation IDs.
type ContextKey string

const (
	// RunIDKey identifies a single orchestrator run (one user goal end to end).
	RunIDKey ContextKey = "run_id"

	// StepIDKey identifies one plan step within a run.
	StepIDKey ContextKey = "step_id"

	// AgentKey identifies which agent (planner, web_surfer, orchestrator) emitted a log line.
	AgentKey ContextKey = "agent"

	// ToolCallIDKey identifies one tool invocation within a step.
	ToolCallIDKey ContextKey = "tool_call_id"
)

// DefaultRedactPatterns matches strings that must never reach a log sink
// verbatim: provider API keys, bearer tokens, and generic secret-shaped values.
var DefaultRedactPatterns = []string{
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9]{20,}`,
	`(?i)bearer\s+[a-zA-Z0-9._-]{10,}`,
	`(?i)(api[_-]?key|secret|password|token)["']?\s*[:=]\s*["']?[a-zA-Z0-9._-]{8,}`,
	`eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`,
}

// LogConfig controls a Logger's verbosity, format, and redaction.
type LogConfig struct {
	Level          string
	Format         string // "json" | "text"
	Output         io.Writer
	AddSource      bool
	RedactPatterns []string
}

// Logger wraps slog with request/run correlation and secret redaction.
type Logger struct {
	slog     *slog.Logger
	redact   []*regexp.Regexp
}

// NewLogger builds a Logger from config, filling conservative defaults for
// any zero-valued field.
func NewLogger(cfg LogConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	patterns := cfg.RedactPatterns
	if patterns == nil {
		patterns = DefaultRedactPatterns
	}

	opts := &slog.HandlerOptions{Level: LogLevelFromString(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}

	return &Logger{slog: slog.New(handler), redact: compiled}
}

// MustNewLogger is NewLogger for call sites that treat a broken config as fatal.
func MustNewLogger(cfg LogConfig) *Logger {
	return NewLogger(cfg)
}

// LogLevelFromString maps a config-file level name to an slog.Level,
// defaulting to Info for an unrecognized value.
func LogLevelFromString(s string) slog.Level {
	switch s {
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

// WithContext returns a Logger that prepends run/step/agent/tool-call
// correlation IDs found in ctx to every subsequent log line.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	args := []any{}
	if v := GetRunID(ctx); v != "" {
		args = append(args, "run_id", v)
	}
	if v := GetStepID(ctx); v != "" {
		args = append(args, "step_id", v)
	}
	if v, ok := ctx.Value(AgentKey).(string); ok && v != "" {
		args = append(args, "agent", v)
	}
	if v := GetToolCallID(ctx); v != "" {
		args = append(args, "tool_call_id", v)
	}
	if len(args) == 0 {
		return l
	}
	return &Logger{slog: l.slog.With(args...), redact: l.redact}
}

// WithFields returns a Logger with args permanently attached to every line.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{slog: l.slog.With(l.redactArgs(args)...), redact: l.redact}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	l.slog.Log(ctx, level, l.redactString(msg), l.redactArgs(args)...)
}

// redactArgs redacts any string-valued argument in a slog key/value pair list.
func (l *Logger) redactArgs(args []any) []any {
	out := make([]any, len(args))
	copy(out, args)
	for i, a := range out {
		if s, ok := a.(string); ok {
			out[i] = l.redactString(s)
		}
	}
	return out
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redact {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Sync is a no-op retained for symmetry with loggers that buffer writes.
func (l *Logger) Sync() error { return nil }

// AddRunID, AddStepID, AddAgent, and AddToolCallID attach correlation IDs to
// a context so every Logger.WithContext call downstream picks them up.
func AddRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func AddStepID(ctx context.Context, stepID string) context.Context {
	return context.WithValue(ctx, StepIDKey, stepID)
}

func AddAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

func AddToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, toolCallID)
}

func GetRunID(ctx context.Context) string    { return stringFromContext(ctx, RunIDKey) }
func GetStepID(ctx context.Context) string   { return stringFromContext(ctx, StepIDKey) }
func GetToolCallID(ctx context.Context) string { return stringFromContext(ctx, ToolCallIDKey) }

func stringFromContext(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

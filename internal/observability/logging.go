package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger is a context-aware structured logger that redacts secrets before
// records reach the handler.
//
// Correlation ids stored on the context with AddRequestID, AddSessionID and
// AddTurnID are attached to every record automatically:
//
//	ctx = observability.AddSessionID(ctx, sessionID)
//	logger.Info(ctx, "turn started", "provider", "openai")
type Logger struct {
	logger  *slog.Logger
	config  LogConfig
	redacts []*regexp.Regexp
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format is "json" (default) or "text".
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer

	AddSource bool

	// RedactPatterns extend DefaultRedactPatterns.
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	SessionIDKey ContextKey = "session_id"
	TurnIDKey    ContextKey = "turn_id"
)

var contextKeys = []ContextKey{RequestIDKey, SessionIDKey, TurnIDKey}

// DefaultRedactPatterns contains regex patterns for common sensitive data.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,
	`sk-ant-[a-zA-Z0-9_-]{32,}`,
	`sk-[a-zA-Z0-9_-]{32,}`,
	`AIza[0-9A-Za-z_\-]{35}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"jwt_secret":    true,
}

// NewLogger creates a new structured logger with the given configuration.
// An empty or unknown level means info; an empty format means json.
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Format == "" {
		config.Format = "json"
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	patterns := make([]string, 0, len(DefaultRedactPatterns)+len(config.RedactPatterns))
	patterns = append(patterns, DefaultRedactPatterns...)
	patterns = append(patterns, config.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{
		logger:  slog.New(handler),
		config:  config,
		redacts: redacts,
	}
}

// NopLogger discards everything. Handy for tests and optional dependencies.
func NopLogger() *Logger {
	return NewLogger(LogConfig{Output: io.Discard, Level: "error"})
}

// LogLevelFromString maps a config string to a slog level.
func LogLevelFromString(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Slog exposes the underlying slog logger for libraries that want one.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
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

// Error logs at error level. Error values in args are rendered and redacted.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

// WithFields returns a logger that adds args to every record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{
		logger:  l.logger.With(args...),
		config:  l.config,
		redacts: l.redacts,
	}
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if l == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]any, 0, len(args)+2*len(contextKeys))
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, string(key), v)
		}
	}
	hideNext := false
	for i, arg := range args {
		// Keys sit at even positions; only values are redacted.
		if i%2 == 0 {
			key, _ := arg.(string)
			hideNext = sensitiveKeys[strings.ToLower(key)]
			attrs = append(attrs, arg)
			continue
		}
		if hideNext {
			attrs = append(attrs, "[REDACTED]")
			continue
		}
		attrs = append(attrs, l.redactValue(arg))
	}

	l.logger.Log(ctx, level, l.redactString(msg), attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		if val == nil {
			return nil
		}
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	case json.RawMessage:
		return l.redactString(string(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if sensitiveKeys[strings.ToLower(strings.ReplaceAll(k, "-", "_"))] {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = l.redactValue(inner)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = inner
		}
		return l.redactValue(out)
	default:
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// AddRequestID stores a request id on the context.
func AddRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// AddSessionID stores a session id on the context.
func AddSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// AddTurnID stores a turn id on the context.
func AddTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TurnIDKey, id)
}

// GetSessionID returns the session id stored on the context, if any.
func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}

// GetRequestID returns the request id stored on the context, if any.
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

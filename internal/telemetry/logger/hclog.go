package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// hclogLogger routes through hashicorp/go-hclog. The hclog level is left
// at Trace and filtering happens against globalLevel so SetLevel applies
// to both backends.
type hclogLogger struct {
	logger hclog.Logger
}

func newHCLogLogger(cfg Config, output io.Writer) *hclogLogger {
	name := cfg.Name
	if name == "" {
		name = "vmstate"
	}
	return &hclogLogger{
		logger: hclog.New(&hclog.LoggerOptions{
			Name:            name,
			Level:           hclog.Trace,
			Output:          output,
			JSONFormat:      !strings.EqualFold(cfg.Format, "text") && !strings.EqualFold(cfg.Format, "console"),
			IncludeLocation: cfg.AddSource,
		}),
	}
}

func (l *hclogLogger) enabled(level slog.Level) bool {
	return level >= globalLevel.Level()
}

func (l *hclogLogger) Debug(msg string, args ...any) {
	if l.enabled(slog.LevelDebug) {
		l.logger.Debug(msg, redactArgs(args)...)
	}
}

func (l *hclogLogger) Info(msg string, args ...any) {
	if l.enabled(slog.LevelInfo) {
		l.logger.Info(msg, redactArgs(args)...)
	}
}

func (l *hclogLogger) Warn(msg string, args ...any) {
	if l.enabled(slog.LevelWarn) {
		l.logger.Warn(msg, redactArgs(args)...)
	}
}

func (l *hclogLogger) Error(msg string, args ...any) {
	if l.enabled(slog.LevelError) {
		l.logger.Error(msg, redactArgs(args)...)
	}
}

func (l *hclogLogger) With(args ...any) Logger {
	return &hclogLogger{logger: l.logger.With(redactArgs(args)...)}
}

func (l *hclogLogger) WithContext(ctx context.Context) Logger {
	if txID := TransactionIDFromContext(ctx); txID != "" {
		return l.With("tx_id", txID)
	}
	return l
}

// redactArgs applies redactSensitive to alternating key/value pairs.
func redactArgs(args []any) []any {
	out := make([]any, len(args))
	copy(out, args)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok {
			continue
		}
		if s, ok := out[i+1].(string); ok {
			out[i+1] = redactSensitive(slog.String(key, s)).Value.String()
		}
	}
	return out
}

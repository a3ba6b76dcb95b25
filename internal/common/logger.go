package common

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

// Fields are structured attributes attached to a log line.
type Fields map[string]any

// attrs flattens the fields in key order so repeated lines read the same.
func (f Fields) attrs(leading ...slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(leading)+len(f))
	out = append(out, leading...)
	for _, key := range slices.Sorted(maps.Keys(f)) {
		out = append(out, slog.Any(key, f[key]))
	}
	return out
}

var levelNames = map[string]slog.Level{
	"":        slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a log_level setting onto slog. Unknown names yield info and
// an ErrInvalidConfig.
func ParseLevel(name string) (slog.Level, error) {
	level, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, name)
	}
	return level, nil
}

// SetupLogger installs the process-wide slog handler. Any format other than
// "json" gets the text handler.
func SetupLogger(w io.Writer, level slog.Level, format string) {
	opts := &slog.HandlerOptions{Level: level, AddSource: level < slog.LevelInfo}
	if format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
}

// LogError logs msg at error level with err first and fields after it.
func LogError(err error, msg string, fields Fields) {
	slog.LogAttrs(context.Background(), slog.LevelError, msg, fields.attrs(slog.Any("error", err))...)
}

// LogInfo logs msg at info level.
func LogInfo(msg string, fields Fields) {
	slog.LogAttrs(context.Background(), slog.LevelInfo, msg, fields.attrs()...)
}

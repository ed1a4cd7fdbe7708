package telemetry

import (
	"io"
	log "log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// SetupLogger installs the process-wide logger. format "json" gives
// machine-readable output, anything else the colored tint handler.
func SetupLogger(w io.Writer, level, format string) *log.Logger {
	lvl, ok := logLevelMap[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		lvl = log.LevelInfo
	}

	var handler log.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = log.NewJSONHandler(w, &log.HandlerOptions{Level: lvl})
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		})
	}

	logger := log.New(handler)
	log.SetDefault(logger)
	return logger
}

// Truncate shortens s for one-line logs.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

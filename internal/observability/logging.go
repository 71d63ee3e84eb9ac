package observability

import (
	"log/slog"
	"os"

	"github.com/medicorex/edge/internal/config"
)

var slogLevels = map[config.LogLevel]slog.Level{
	config.LogLevelDebug: slog.LevelDebug,
	config.LogLevelInfo:  slog.LevelInfo,
	config.LogLevelWarn:  slog.LevelWarn,
	config.LogLevelError: slog.LevelError,
}

// NewLogger builds the process-wide slog.Logger writing to stdout. JSON is
// the production format; text exists for reading local dev output. Unknown
// levels fall back to info rather than failing startup.
func NewLogger(level config.LogLevel, format config.LogFormat) *slog.Logger {
	lvl, ok := slogLevels[level]
	if !ok {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == config.LogFormatText {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

/*
PURPOSE:
  Provides a structured logger for Portrait Runner.
  Wraps slog for consistent output.

REQUIREMENTS:
  User-specified:
  - Print each (source, driving) pair as it is processed.

  Implementation-discovered:
  - Needs Info/Warn/Error levels, Debug behind --verbose.
  - JSON handler for non-interactive runs (--log-format json).

ARCHITECTURE INTEGRATION:
  - Used everywhere.

ERROR HANDLING:
  - N/A

IMPLEMENTATION RULES:
  - Use `log/slog` (Go 1.21+).

USAGE:
  output.Logger.Info("message", "key", "value")

RELATED FILES:
  - internal/cli/root.go (calls Configure)
*/

package output

import (
	"io"
	"log/slog"
	"os"
)

var Logger *slog.Logger

func init() {
	Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// SetLogger allows overriding the default logger (e.g. for testing or config changes)
func SetLogger(l *slog.Logger) {
	Logger = l
}

// NewLogger builds a logger writing to w in "text" or "json" format.
func NewLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Configure replaces the package logger according to the run settings.
func Configure(format string, verbose bool) {
	SetLogger(NewLogger(os.Stdout, format, verbose))
}

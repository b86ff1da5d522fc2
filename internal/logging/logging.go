// Package logging builds the process-wide structured logger, grounded
// on malbeclabs-doublezero's global-monitor cmd (slog + lmittmann/tint
// for readable local output with millisecond timestamps).
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a *slog.Logger writing colorized, millisecond-timestamped
// lines to w. verbose selects slog.LevelDebug instead of slog.LevelInfo.
func New(w *os.File, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", t.Format("2006-01-02T15:04:05"), ms)
}

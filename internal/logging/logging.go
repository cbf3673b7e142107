// Package logging builds the structured JSON logger shared by the API,
// the worker and the CLI.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

// New returns a JSON logger writing to w at the given level. Unknown levels
// fall back to info.
func New(level string, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stdout
	}
	return &log.Logger{
		Level:      parseLevel(level),
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Writer:     &log.IOWriter{Writer: w},
	}
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *log.Logger {
	return New("error", io.Discard)
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

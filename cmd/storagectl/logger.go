package main

import (
	"fmt"
	"io"
	"log/slog"
)

// logFormat represents logger output format.
type logFormat string

const (
	formatJSON logFormat = "json"
	formatText logFormat = "text"
)

// newLogger builds the diagnostics logger. Verbose lowers the level to debug,
// which includes provider selection and session refresh events.
func newLogger(w io.Writer, format string, verbose bool) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelWarn}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	var h slog.Handler
	switch logFormat(format) {
	case formatText, "":
		h = slog.NewTextHandler(w, opts)
	case formatJSON:
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q: must be %q or %q", format, formatJSON, formatText)
	}

	return slog.New(h).With(slog.String("component", "storagectl")), nil
}

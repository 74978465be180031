package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// newBaseLogger returns the root logger every component logger is derived
// from via With(slogutil.KeyPrefix, ...).
func newBaseLogger(opts *options) (l *slog.Logger, err error) {
	lvl := slog.LevelInfo
	if opts.verbose {
		lvl = slog.LevelDebug
	}

	out, err := logOutput(opts.logFile)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	return slogutil.New(&slogutil.Config{
		Format:       slogutil.FormatAdGuardLegacy,
		Level:        lvl,
		Output:       out,
		AddTimestamp: true,
	}), nil
}

// logOutput resolves logFile to the writer the logger should use.
func logOutput(logFile string) (w io.Writer, err error) {
	switch logFile {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	}
}

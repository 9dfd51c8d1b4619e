// Package logging builds the zerolog logger shared by every forge component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the logger's destination and format.
type Options struct {
	// Level is one of: trace, debug, info, warn, error, fatal, disabled.
	// Empty means info.
	Level string
	// File receives JSON lines. Empty writes to Stderr.
	File string
	// Console renders human-readable lines instead of JSON when writing to Stderr.
	Console bool
	// Stderr overrides os.Stderr, mostly for tests.
	Stderr io.Writer
}

// New returns a configured logger and a closer that releases the log file.
func New(opts Options) (zerolog.Logger, func(), error) {
	closer := func() {}

	if opts.Level == "" {
		opts.Level = zerolog.InfoLevel.String()
	}
	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Logger{}, closer, fmt.Errorf("parse log level %q: %w", opts.Level, err)
	}

	var writer io.Writer = os.Stderr
	if opts.Stderr != nil {
		writer = opts.Stderr
	}
	switch {
	case opts.File != "":
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return zerolog.Logger{}, closer, fmt.Errorf("create logs dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- user-configured log path
		if err != nil {
			return zerolog.Logger{}, closer, err
		}
		closer = func() { _ = f.Close() }
		writer = f
	case opts.Console:
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.Kitchen}
	}

	l := zerolog.New(writer).
		With().
		Timestamp().
		Logger().
		Level(lvl)

	return l, closer, nil
}

// Component derives a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

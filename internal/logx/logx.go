// Package logx builds the loggers the daemon and CLI hand around. File
// logging rotates via lumberjack so a long-lived daemon never fills the
// state directory.
package logx

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/daybridge/daybridge/internal/config"
)

// Options controls where log output goes.
type Options struct {
	// File enables the rotating log file when a config is given.
	File *config.LogConfig
	// Stderr mirrors output to stderr. CLI commands leave this off so
	// human-facing output stays clean.
	Stderr bool
}

// New returns a factory for prefixed loggers sharing one destination,
// plus a closer for the underlying file. Prefixes follow the
// "[component] " bracket convention.
func New(opts Options) (func(prefix string) *log.Logger, io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if opts.File != nil && opts.File.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File.Path), 0o755); err != nil {
			return nil, nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
		}
		writers = append(writers, lj)
		closer = lj
	}
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	factory := func(prefix string) *log.Logger {
		return log.New(out, "["+prefix+"] ", log.LstdFlags)
	}
	return factory, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

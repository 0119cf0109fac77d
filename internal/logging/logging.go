// Package logging builds the prefixed loggers used across the daemon.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls log destinations.
type Options struct {
	// File enables rotated file logging when non-empty.
	File string

	// MaxSizeMB per file before rotation (default: 10).
	MaxSizeMB int

	// MaxBackups of rotated files to keep (default: 3).
	MaxBackups int

	// Quiet suppresses the stderr copy; file logging is unaffected.
	Quiet bool
}

// Writer returns the shared log destination for the given options. When a
// file is configured, output goes to both stderr and the rotated file.
func Writer(opts Options) io.Writer {
	var sinks []io.Writer
	if !opts.Quiet {
		sinks = append(sinks, os.Stderr)
	}
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := opts.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		sinks = append(sinks, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			Compress:   true,
		})
	}

	switch len(sinks) {
	case 0:
		return io.Discard
	case 1:
		return sinks[0]
	default:
		return io.MultiWriter(sinks...)
	}
}

// New returns a logger with the given subsystem prefix, e.g. "[engine] ".
func New(w io.Writer, prefix string) *log.Logger {
	return log.New(w, prefix, log.LstdFlags)
}

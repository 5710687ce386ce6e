// Package logging builds the component loggers. Every logger writes to
// stderr and, when a file is configured, to a size-rotated log file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configure the rotated log file. An empty File disables it.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logs hands out loggers sharing one output.
type Logs struct {
	out  io.Writer
	file *lumberjack.Logger
}

// New opens the log output described by opts and points the standard
// logger at it too.
func New(opts Options, stderr io.Writer) (*Logs, error) {
	if stderr == nil {
		stderr = os.Stderr
	}
	l := &Logs{out: stderr}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, err
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		l.out = io.MultiWriter(stderr, l.file)
	}
	log.SetOutput(l.out)
	return l, nil
}

// For returns a logger prefixed with "[component] ".
func (l *Logs) For(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Close flushes and closes the log file, if any.
func (l *Logs) Close() error {
	log.SetOutput(os.Stderr)
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

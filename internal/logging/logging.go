// Package logging builds the component loggers used across lifesync.
//
// Every component logs through a standard *log.Logger with a "[component] "
// prefix. When a log file is configured, output is also written to a
// size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where log output goes.
type Options struct {
	// File enables a rotated log file in addition to stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
	// Quiet drops stderr output. Without File, everything is discarded.
	Quiet bool
}

// Sink is the shared destination of every logger built from it.
type Sink struct {
	w    io.Writer
	file *lumberjack.Logger

	mu      sync.Mutex
	loggers map[string]*log.Logger
}

// NewSink opens the destination described by opts. The log file is created
// lazily on the first write.
func NewSink(opts Options) *Sink {
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}

	s := &Sink{loggers: make(map[string]*log.Logger)}
	if opts.File != "" {
		s.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, s.file)
	}

	switch len(writers) {
	case 0:
		s.w = io.Discard
	case 1:
		s.w = writers[0]
	default:
		s.w = io.MultiWriter(writers...)
	}
	return s
}

// Logger returns the logger for component, creating it on first use.
func (s *Sink) Logger(component string) *log.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.loggers[component]; ok {
		return l
	}
	l := log.New(s.w, "["+component+"] ", log.LstdFlags)
	s.loggers[component] = l
	return l
}

// Rotate starts a new log file. It is a no-op without a file.
func (s *Sink) Rotate() error {
	if s.file == nil {
		return nil
	}
	return s.file.Rotate()
}

// Close releases the log file.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

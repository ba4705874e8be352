// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package build

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// RotatingLogWriter is a wrapper around the log writer that manages the
// subsystem loggers of a process and an optional rotating log file.
type RotatingLogWriter struct {
	backend *btclog.Backend

	// out receives a copy of every log line in addition to the log file.
	out io.Writer

	mu   sync.Mutex
	pipe *io.PipeWriter
	done chan error

	rotator *rotator.Rotator

	subsystemLoggers map[string]btclog.Logger
}

// NewRotatingLogWriter creates a new log writer that writes to stdout until
// InitLogRotator is called.
func NewRotatingLogWriter() *RotatingLogWriter {
	return newRotatingLogWriter(os.Stdout)
}

// NewRotatingLogWriterTo creates a new log writer that copies every line to
// out. A nil out only writes to the log file.
func NewRotatingLogWriterTo(out io.Writer) *RotatingLogWriter {
	return newRotatingLogWriter(out)
}

func newRotatingLogWriter(out io.Writer) *RotatingLogWriter {
	r := &RotatingLogWriter{
		out:              out,
		subsystemLoggers: make(map[string]btclog.Logger),
	}
	r.backend = btclog.NewBackend(r)
	return r
}

// InitLogRotator initializes the log file rotator to write logs to logFile
// and create roll files in the same directory. It must be called before the
// package-global log rotator variables are used.
func (r *RotatingLogWriter) InitLogRotator(logFile string, maxFileSizeMB,
	maxLogFiles int) error {

	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w",
				err)
		}
	}

	rot, err := rotator.New(
		logFile, int64(maxFileSizeMB*1024), false, maxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- rot.Run(pr)
	}()

	r.mu.Lock()
	r.rotator = rot
	r.pipe = pw
	r.done = done
	r.mu.Unlock()

	return nil
}

// Write writes the byte slice to stdout and, if initialized, the log
// rotator.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	if r.out != nil {
		r.out.Write(b)
	}

	r.mu.Lock()
	pipe := r.pipe
	r.mu.Unlock()
	if pipe != nil {
		return pipe.Write(b)
	}

	return len(b), nil
}

// GenSubLogger creates a new sublogger for the given subsystem tag. It can
// be passed to NewSubLogger.
func (r *RotatingLogWriter) GenSubLogger(tag string) btclog.Logger {
	return r.backend.Logger(tag)
}

// RegisterSubLogger records logger under subsystem so that its level can be
// changed with SetLogLevel.
func (r *RotatingLogWriter) RegisterSubLogger(subsystem string,
	logger btclog.Logger) {

	r.subsystemLoggers[subsystem] = logger
}

// SupportedSubsystems returns a sorted slice of the registered subsystems.
func (r *RotatingLogWriter) SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(r.subsystemLoggers))
	for subsysID := range r.subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// SetLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored.
func (r *RotatingLogWriter) SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := r.subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func (r *RotatingLogWriter) SetLogLevels(logLevel string) {
	for subsystemID := range r.subsystemLoggers {
		r.SetLogLevel(subsystemID, logLevel)
	}
}

// Close closes the log file rotator, if initialized.
func (r *RotatingLogWriter) Close() error {
	r.mu.Lock()
	pipe, done := r.pipe, r.done
	r.pipe = nil
	r.mu.Unlock()

	if pipe == nil {
		return nil
	}

	if err := pipe.Close(); err != nil {
		return err
	}
	if err := <-done; err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"

	"github.com/btcsuite/descwallet/build"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wallet"
)

// logWriter routes every subsystem logger to stderr and, once
// initLogRotator is called, to a rotating log file. Stdout is left to the
// command output.
var logWriter = build.NewRotatingLogWriterTo(os.Stderr)

// Loggers per subsystem. When adding new subsystems, add them to
// subsystemLoggers in init.
var (
	log       = build.NewSubLogger("DWLT", logWriter.GenSubLogger)
	walletLog = build.NewSubLogger("WLLT", logWriter.GenSubLogger)
	storeLog  = build.NewSubLogger("PRST", logWriter.GenSubLogger)
)

func init() {
	logWriter.RegisterSubLogger("DWLT", log)
	logWriter.RegisterSubLogger("WLLT", walletLog)
	logWriter.RegisterSubLogger("PRST", storeLog)

	wallet.UseLogger(walletLog)
	persist.UseLogger(storeLog)
}

// initLogRotator initializes the logging rotater to write logs to logFile
// and create roll files in the same directory.
func initLogRotator(logFile string) error {
	return logWriter.InitLogRotator(
		logFile, defaultMaxLogFileSize, defaultMaxLogFiles,
	)
}

// logClosure is used to provide a closure over expensive logging operations
// so don't have to be performed when the logging level doesn't warrant it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// newLogClosure returns a new closure over a function that returns a string
// which itself provides a Stringer interface so that it can be used with the
// logging system.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}

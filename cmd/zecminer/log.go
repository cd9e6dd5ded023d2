// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/toole-brendan/zecminer/internal/coordinator"
	"github.com/toole-brendan/zecminer/internal/stratumclient"
	"github.com/toole-brendan/zecminer/internal/supervisor"
)

// logWriter implements io.Writer and writes marshaled log records to both
// standard out and a rotated log file.
type logWriter struct {
	rotator *rotator.Rotator
}

func (w logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return w.rotator.Write(p)
}

var logRotator *rotator.Rotator

// initLogRotator opens, or creates, the log file at logFile, and rotates it
// at 10 MiB as the shell/btcd family of applications does.
func initLogRotator(logFile string) error {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

// verbosityLevel maps the -v/--verbose repeat count and --debug flag to a
// btclog level: 0 verbose flags is Info, 1 is Debug, --debug or 2+ is Trace.
func verbosityLevel(verbosity int, debug bool) btclog.Level {
	switch {
	case debug || verbosity >= 2:
		return btclog.LevelTrace
	case verbosity == 1:
		return btclog.LevelDebug
	default:
		return btclog.LevelInfo
	}
}

// backendLog is the logging backend used to create all subsystem loggers.
var backendLog *btclog.Backend

// subsystemLoggers maps each subsystem's shorthand tag to its logger, the
// way the shell/btcd family's cmd-level log.go enumerates subsystems for
// runtime verbosity control.
var subsystemLoggers = make(map[string]btclog.Logger)

func initLogging(logFile string, level btclog.Level) {
	var w io.Writer = os.Stdout
	if logRotator != nil {
		w = logWriter{rotator: logRotator}
	}
	backendLog = btclog.NewBackend(w)

	addSubsystemLogger("CORD", coordinator.UseLogger)
	addSubsystemLogger("STRM", stratumclient.UseLogger)
	addSubsystemLogger("SUPV", supervisor.UseLogger)

	setLogLevels(level)
}

func addSubsystemLogger(tag string, use func(btclog.Logger)) {
	l := backendLog.Logger(tag)
	subsystemLoggers[tag] = l
	use(l)
}

func setLogLevels(level btclog.Level) {
	for _, l := range subsystemLoggers {
		l.SetLevel(level)
	}
}

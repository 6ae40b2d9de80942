// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import "log"

// Logger is the structured logging seam NuDB reports diagnostics
// through; the background commit thread logs commit failures to it.
// Recover, Rekey and Verify do not log. It mirrors the minimal interface
// nutsdb exposes (ILogger in its logger.go) rather than committing
// callers to a specific logging library.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// stdLogger is the default Logger, backed by the standard library log
// package. Debug output is discarded by default.
type stdLogger struct {
	debug bool
}

func (l *stdLogger) Debugf(format string, args ...interface{}) {
	if l.debug {
		log.Printf("[DEBUG] "+format, args...)
	}
}

func (l *stdLogger) Infof(format string, args ...interface{}) {
	log.Printf("[INFO] "+format, args...)
}

func (l *stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[ERROR] "+format, args...)
}

// NewStdLogger returns a Logger backed by the standard library log
// package.
func NewStdLogger(debug bool) Logger {
	return &stdLogger{debug: debug}
}

// nopLogger discards everything; used when Options.Logger is nil.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

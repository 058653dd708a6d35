// Copyright 2024 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides a minimal leveled logging front for the kernel.
//
// The kernel traces every syscall at debug level, so the hot path matters:
// callers are expected to gate expensive argument formatting on IsLogging.
// The backing sink is logrus; the kernel only ever sees the Logger interface.
package log

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Level is the log level.
type Level uint32

// The supported levels, in decreasing order of severity.
const (
	Warning Level = iota
	Info
	Debug
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case Warning:
		return "W"
	case Info:
		return "I"
	case Debug:
		return "D"
	default:
		return "?"
	}
}

// Logger is a high-level logging interface. Kernel components hold a Logger,
// never a concrete type, so boards and tests can substitute their own sinks.
type Logger interface {
	// Debugf logs a debug statement.
	Debugf(format string, v ...any)

	// Infof logs at an info level.
	Infof(format string, v ...any)

	// Warningf logs at a warning level.
	Warningf(format string, v ...any)

	// IsLogging returns true iff this level is being logged. This may be
	// used to gate expensive operations for debugging only.
	IsLogging(level Level) bool
}

// BasicLogger logs to a logrus logger at or below a fixed level.
type BasicLogger struct {
	level   atomic.Uint32
	backend *logrus.Logger
}

// New returns a BasicLogger writing to w at the given level.
func New(w io.Writer, level Level) *BasicLogger {
	backend := logrus.New()
	backend.SetOutput(w)
	// Filtering happens here, not in logrus; the backend passes everything
	// through so that level changes are a single atomic store.
	backend.SetLevel(logrus.DebugLevel)
	l := &BasicLogger{backend: backend}
	l.level.Store(uint32(level))
	return l
}

// Debugf implements Logger.Debugf.
func (l *BasicLogger) Debugf(format string, v ...any) {
	if l.IsLogging(Debug) {
		l.backend.Debugf(format, v...)
	}
}

// Infof implements Logger.Infof.
func (l *BasicLogger) Infof(format string, v ...any) {
	if l.IsLogging(Info) {
		l.backend.Infof(format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (l *BasicLogger) Warningf(format string, v ...any) {
	if l.IsLogging(Warning) {
		l.backend.Warningf(format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (l *BasicLogger) IsLogging(level Level) bool {
	return uint32(level) <= l.level.Load()
}

// SetLevel sets the logging level.
func (l *BasicLogger) SetLevel(level Level) {
	l.level.Store(uint32(level))
}

// SetTarget redirects the logger's output.
func (l *BasicLogger) SetTarget(w io.Writer) {
	l.backend.SetOutput(w)
}

var log atomic.Pointer[BasicLogger]

func init() {
	log.Store(New(os.Stderr, Info))
}

// Log returns the global logger.
func Log() *BasicLogger {
	return log.Load()
}

// SetLogger replaces the global logger.
func SetLogger(l *BasicLogger) {
	log.Store(l)
}

// SetLevel sets the global logger's level.
func SetLevel(level Level) {
	Log().SetLevel(level)
}

// Debugf logs a debug statement to the global logger.
func Debugf(format string, v ...any) {
	Log().Debugf(format, v...)
}

// Infof logs at an info level to the global logger.
func Infof(format string, v ...any) {
	Log().Infof(format, v...)
}

// Warningf logs at a warning level to the global logger.
func Warningf(format string, v ...any) {
	Log().Warningf(format, v...)
}

// IsLogging returns whether the global logger logs the given level.
func IsLogging(level Level) bool {
	return Log().IsLogging(level)
}

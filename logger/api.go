// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides logging wrappers
//
// These wrappers allow us to standardize logging while still using a third-party
// logging package.
//
// This package is currently implemented on top of the sirupsen/logrus package:
//   https://github.com/sirupsen/logrus
//
// The APIs here add package, calling function and goroutine to all logs.
//
// Trace logs are enabled/disabled on a per package basis.
package logger

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/bufcache/utils"
)

type Level int

// Our logging levels. Trace is finer grained than logrus' levels and is
// emitted at logrus.InfoLevel when enabled for the calling package.
const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	TraceLevel
)

const (
	packageKey  string = "package"
	functionKey string = "function"
	errorKey    string = "error"
	gidKey      string = "goroutine"
)

// packageTraceSettings controls whether tracing is enabled for particular packages.
//
// In order to enable tracing for a package using the "Logging.TraceLevelLogging"
// config variable, the package must be in this map.
//
var packageTraceSettings = map[string]bool{
	"flatfs":  false,
	"logger":  false,
	"ramdisk": false,
	"slab":    false,
	"vfs":     false,
}

var traceLevelEnabled = false

func traceEnabled(pkg string) bool {
	return packageTraceSettings[pkg]
}

func newLogEntry(level int) (entry *log.Entry, pkg string) {
	fn, pkg, gid := utils.GetFuncPackage(level + 1)

	fields := make(log.Fields)
	fields[functionKey] = fn
	fields[packageKey] = pkg
	fields[gidKey] = gid

	entry = log.WithFields(fields)
	return
}

func emit(level Level, err error, format string, args ...interface{}) {
	if (level == TraceLevel) && !traceLevelEnabled {
		return
	}

	// emit() is always two frames below the caller of interest
	entry, pkg := newLogEntry(2)

	if (level == TraceLevel) && !traceEnabled(pkg) {
		return
	}
	if nil != err {
		entry = entry.WithField(errorKey, err)
	}

	switch level {
	case PanicLevel:
		entry.Panicf(format, args...)
	case FatalLevel:
		entry.Fatalf(format, args...)
	case ErrorLevel:
		entry.Errorf(format, args...)
	case WarnLevel:
		entry.Warnf(format, args...)
	case InfoLevel, TraceLevel:
		entry.Infof(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	emit(ErrorLevel, nil, format, args...)
}

func Fatalf(format string, args ...interface{}) {
	emit(FatalLevel, nil, format, args...)
}

func Infof(format string, args ...interface{}) {
	emit(InfoLevel, nil, format, args...)
}

func Tracef(format string, args ...interface{}) {
	emit(TraceLevel, nil, format, args...)
}

func Warnf(format string, args ...interface{}) {
	emit(WarnLevel, nil, format, args...)
}

// Panicf logs and then panics with the formatted message.
func Panicf(format string, args ...interface{}) {
	emit(PanicLevel, nil, format, args...)
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	emit(ErrorLevel, err, format, args...)
}

func FatalfWithError(err error, format string, args ...interface{}) {
	emit(FatalLevel, err, format, args...)
}

func InfofWithError(err error, format string, args ...interface{}) {
	emit(InfoLevel, err, format, args...)
}

func PanicfWithError(err error, format string, args ...interface{}) {
	emit(PanicLevel, err, format, args...)
}

func TracefWithError(err error, format string, args ...interface{}) {
	emit(TraceLevel, err, format, args...)
}

func WarnfWithError(err error, format string, args ...interface{}) {
	emit(WarnLevel, err, format, args...)
}

// Add another target for log messages to be written to.  writer is an object
// with an io.Writer interface that's called once for each log message.
//
// Logger.Up() must be called before this function is used.
//
func AddLogTarget(writer io.Writer) {
	addLogTarget(writer)
}

// A log target that captures the most recent n lines of log into an array.
// Useful for writing test cases.
//
type LogBuffer struct {
	LogEntries   []string // most recent log entry is [0]
	TotalEntries int      // count of all entries seen
}

type LogTarget struct {
	LogBuf *LogBuffer
}

// Initialize a LogTarget to hold upto nEntry log entries.
//
func (target *LogTarget) Init(nEntry int) {
	target.LogBuf = &LogBuffer{TotalEntries: 0}
	target.LogBuf.LogEntries = make([]string, nEntry)
}

// Called by logger for each log entry
//
func (target LogTarget) Write(p []byte) (n int, err error) {
	logBuf := target.LogBuf
	if len(logBuf.LogEntries) > 0 {
		copy(logBuf.LogEntries[1:], logBuf.LogEntries[:len(logBuf.LogEntries)-1])
		logBuf.LogEntries[0] = string(p)
	}
	logBuf.TotalEntries++
	n = len(p)
	return
}

// String renders the log entry that is index entries back from the newest.
func (target LogTarget) String(index int) string {
	if index >= len(target.LogBuf.LogEntries) {
		return fmt.Sprintf("<entry %d not retained>", index)
	}
	return target.LogBuf.LogEntries[index]
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/bufcache/conf"
)

// multiWriter fans each log entry out to every registered writer.
type multiWriter struct {
	sync.Mutex
	writers []io.Writer
}

func (mw *multiWriter) addWriter(writer io.Writer) {
	mw.Lock()
	mw.writers = append(mw.writers, writer)
	mw.Unlock()
}

func (mw *multiWriter) Write(p []byte) (n int, err error) {
	mw.Lock()
	defer mw.Unlock()

	for _, writer := range mw.writers {
		n, err = writer.Write(p)
		// regardless of the error, keep going
	}
	n = len(p)
	return
}

func (mw *multiWriter) clear() {
	mw.Lock()
	mw.writers = nil
	mw.Unlock()
}

var (
	logFile    *os.File
	logTargets multiWriter
)

// Up configures logrus from the [Logging] section of confMap.
//
// LogFilePath, if present and non-empty, names a file log entries are
// appended to; LogToConsole additionally (or, absent a file, exclusively)
// sends them to stderr. TraceLevelLogging lists the packages whose Tracef()
// calls are emitted.
func Up(confMap conf.ConfMap) (err error) {
	log.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})

	logFilePath, _ := confMap.FetchOptionValueString("Logging", "LogFilePath")
	if "" != logFilePath {
		logFile, err = os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if nil != err {
			log.Errorf("couldn't open log file: %v", err)
			return
		}
	}

	logToConsole, err := confMap.FetchOptionValueBool("Logging", "LogToConsole")
	if nil != err {
		logToConsole = ("" == logFilePath)
		err = nil
	}

	logTargets.clear()
	if nil != logFile {
		logTargets.addWriter(logFile)
	}
	if logToConsole {
		logTargets.addWriter(os.Stderr)
	}
	log.SetOutput(&logTargets)

	// logrus always runs at max verbosity; this package decides what to emit
	log.SetLevel(log.DebugLevel)

	traceConfSlice, _ := confMap.FetchOptionValueStringSlice("Logging", "TraceLevelLogging")
	setTraceLoggingLevel(traceConfSlice)

	Infof("logger is starting up")

	return
}

func Down() (err error) {
	Infof("logger is shutting down")

	log.SetOutput(os.Stderr)
	logTargets.clear()

	if nil != logFile {
		err = logFile.Close()
		logFile = nil
	}

	for pkg := range packageTraceSettings {
		packageTraceSettings[pkg] = false
	}
	traceLevelEnabled = false
	return
}

func setTraceLoggingLevel(confStrSlice []string) {
	traceLevelEnabled = false

HandlePkgs:
	for _, pkg := range confStrSlice {
		switch pkg {
		case "none":
			traceLevelEnabled = false
			break HandlePkgs
		default:
			if _, ok := packageTraceSettings[pkg]; ok {
				packageTraceSettings[pkg] = true
				traceLevelEnabled = true
			}
		}
	}

	if traceLevelEnabled {
		for pkg, isEnabled := range packageTraceSettings {
			if isEnabled {
				Infof("Package %v trace logging is enabled.", pkg)
			}
		}
	}
}

func addLogTarget(writer io.Writer) {
	logTargets.addWriter(writer)
}

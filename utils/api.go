// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package utils collects small helpers shared by the logging, allocation and
// buffer cache packages.
package utils

import (
	"bytes"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

var (
	trailingPathComponentRE = regexp.MustCompile(`[^\/]*$`)
	leadingPackageRE        = regexp.MustCompile(`^[^.]*`)
	trailingFuncRE          = regexp.MustCompile(`[^.]*$`)
)

// GetGID returns the id of the calling goroutine.
//
// Only used to decorate log entries; nothing should make decisions based on
// it.
//
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	n, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return n
}

// GetAFnName returns "package.Function" for the frame level levels up the
// stack (0 is the caller of GetAFnName).
func GetAFnName(level int) string {
	pc, _, _, ok := runtime.Caller(level + 1)
	if !ok {
		return "unknown.unknown"
	}
	functionObject := runtime.FuncForPC(pc)
	if functionObject == nil {
		return "unknown.unknown"
	}
	return trailingPathComponentRE.FindString(functionObject.Name())
}

// GetFuncPackage returns the function and package names of the frame level
// levels up the stack along with the current goroutine id.
func GetFuncPackage(level int) (fn string, pkg string, gid uint64) {
	funcPkg := GetAFnName(level + 1)

	pkg = leadingPackageRE.FindString(funcPkg)
	fn = trailingFuncRE.FindString(funcPkg)
	gid = GetGID()

	return
}

// GetFnName returns "package.Function" of the caller.
func GetFnName() string {
	return GetAFnName(1)
}

// RoundUp rounds n up to the next multiple of unit, which must be a power of
// two.
func RoundUp(n uint64, unit uint64) uint64 {
	return (n + unit - 1) &^ (unit - 1)
}

// IsPowerOfTwo reports whether n is a non-zero power of two.
func IsPowerOfTwo(n uint64) bool {
	return n != 0 && (n&(n-1)) == 0
}

// Stopwatch measures elapsed time between NewStopwatch() and Stop().
type Stopwatch struct {
	StartTime time.Time
	StopTime  time.Time
	IsRunning bool
}

func NewStopwatch() *Stopwatch {
	return &Stopwatch{StartTime: time.Now(), IsRunning: true}
}

// Stop stops the stopwatch (if running) and returns the elapsed time.
func (sw *Stopwatch) Stop() time.Duration {
	if sw.IsRunning {
		sw.StopTime = time.Now()
		sw.IsRunning = false
	}
	return sw.StopTime.Sub(sw.StartTime)
}

func (sw *Stopwatch) Elapsed() time.Duration {
	if sw.IsRunning {
		return time.Since(sw.StartTime)
	}
	return sw.StopTime.Sub(sw.StartTime)
}

func (sw *Stopwatch) ElapsedUs() int64 {
	return int64(sw.Elapsed() / time.Microsecond)
}

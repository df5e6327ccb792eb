// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package bucketstats implements easy to use counters, averages and
// power-of-two histograms.
//
// A package collects its statistics as exported fields of a struct and
// registers a pointer to it under a package name and group name:
//
//   type cacheStats struct {
//       Hits    bucketstats.Total
//       Latency bucketstats.BucketLog2
//   }
//   bucketstats.Register("vfs", "cache0", &stats)
//
// Every statistic is updated with atomic operations so no additional locking
// is required.
package bucketstats

import (
	"math/bits"
	"sync/atomic"
)

type StatStringFormat int

const (
	StatFormatParsable1 StatStringFormat = iota
)

// A Totaler can be incremented, or added to, and tracks the total value of all
// values added.
type Totaler interface {
	Increment()
	Add(value uint64)
	TotalGet() (total uint64)
	Sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) (values string)
}

// An Averager is a Totaler that also tracks the number of values added.
type Averager interface {
	Totaler
	CountGet() (count uint64)
	AverageGet() (avg uint64)
}

// Register a set of statistics, where the statistics are one or more fields in
// the passed structure.
//
// Fields whose Name is empty are named after the field. Registering the same
// pkgName and statsGroupName twice panics.
func Register(pkgName string, statsGroupName string, statsStruct interface{}) {
	register(pkgName, statsGroupName, statsStruct)
}

// UnRegister a set of statistics. Once unregistered, the same or a different
// set of statistics can be registered using the same name.
func UnRegister(pkgName string, statsGroupName string) {
	unRegister(pkgName, statsGroupName)
}

// SprintStats returns the statistics for the selected group(s). pkgName and
// statsGroupName may be "*" to select all of them.
func SprintStats(stringFmt StatStringFormat, pkgName string, statsGroupName string) (values string) {
	return sprintStats(stringFmt, pkgName, statsGroupName)
}

// Total is a simple counter.
type Total struct {
	total uint64 // Ensure 64-bit alignment
	Name  string
}

func (this *Total) Add(value uint64) {
	atomic.AddUint64(&this.total, value)
}

func (this *Total) Increment() {
	atomic.AddUint64(&this.total, 1)
}

func (this *Total) TotalGet() uint64 {
	return atomic.LoadUint64(&this.total)
}

func (this *Total) Sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	return this.sprint(stringFmt, pkgName, statsGroupName)
}

// Average counts a number of items and their average size.
type Average struct {
	count uint64 // Ensure 64-bit alignment
	total uint64 // Ensure 64-bit alignment
	Name  string
}

func (this *Average) Add(value uint64) {
	atomic.AddUint64(&this.total, value)
	atomic.AddUint64(&this.count, 1)
}

func (this *Average) Increment() {
	this.Add(1)
}

func (this *Average) CountGet() uint64 {
	return atomic.LoadUint64(&this.count)
}

func (this *Average) TotalGet() uint64 {
	return atomic.LoadUint64(&this.total)
}

func (this *Average) AverageGet() uint64 {
	count := atomic.LoadUint64(&this.count)
	if 0 == count {
		return 0
	}
	return atomic.LoadUint64(&this.total) / count
}

func (this *Average) Sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	return this.sprint(stringFmt, pkgName, statsGroupName)
}

// BucketLog2 is an Averager that additionally keeps a histogram of the values
// added. Bucket 0 holds the value 0 and bucket n (n > 0) holds values in the
// range [2^(n-1), 2^n).
type BucketLog2 struct {
	count       uint64 // Ensure 64-bit alignment
	total       uint64 // Ensure 64-bit alignment
	Name        string
	statBuckets [65]uint32
}

func (this *BucketLog2) Add(value uint64) {
	atomic.AddUint32(&this.statBuckets[bits.Len64(value)], 1)
	atomic.AddUint64(&this.total, value)
	atomic.AddUint64(&this.count, 1)
}

func (this *BucketLog2) Increment() {
	this.Add(1)
}

func (this *BucketLog2) CountGet() uint64 {
	return atomic.LoadUint64(&this.count)
}

func (this *BucketLog2) TotalGet() uint64 {
	return atomic.LoadUint64(&this.total)
}

func (this *BucketLog2) AverageGet() uint64 {
	count := atomic.LoadUint64(&this.count)
	if 0 == count {
		return 0
	}
	return atomic.LoadUint64(&this.total) / count
}

// BucketGet returns the count held in bucket idx.
func (this *BucketLog2) BucketGet(idx int) uint64 {
	return uint64(atomic.LoadUint32(&this.statBuckets[idx]))
}

func (this *BucketLog2) Sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	return this.sprint(stringFmt, pkgName, statsGroupName)
}

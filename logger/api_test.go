// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/bufcache/conf"
)

func TestAPI(t *testing.T) {
	assert := assert.New(t)

	confMap, err := conf.MakeConfMapFromStrings([]string{
		"Logging.LogFilePath=",
		"Logging.LogToConsole=false",
		"Logging.TraceLevelLogging=logger",
	})
	if !assert.Nil(err) {
		return
	}

	err = Up(confMap)
	if !assert.Nil(err) {
		return
	}

	var target LogTarget
	target.Init(10)
	AddLogTarget(target)

	Tracef("hello there!")
	assert.Equal(1, target.LogBuf.TotalEntries)
	assert.True(strings.Contains(target.String(0), "hello there!"))
	assert.True(strings.Contains(target.String(0), "function=TestAPI"))
	assert.True(strings.Contains(target.String(0), "package=logger"))

	Warnf("%v: %v", "IAmTheCaller", "this is the warning")
	assert.Equal(2, target.LogBuf.TotalEntries)
	assert.True(strings.Contains(target.String(0), "level=warning"))

	err = fmt.Errorf("this is the error")
	ErrorfWithError(err, "we had an error!")
	assert.Equal(3, target.LogBuf.TotalEntries)
	assert.True(strings.Contains(target.String(0), "this is the error"))
	assert.True(strings.Contains(target.String(1), "IAmTheCaller"))

	assert.Panics(func() { PanicfWithError(err, "contract violated") })

	err = Down()
	assert.Nil(err)
}

func TestTraceDisabled(t *testing.T) {
	assert := assert.New(t)

	confMap, _ := conf.MakeConfMapFromStrings([]string{
		"Logging.LogToConsole=false",
		"Logging.TraceLevelLogging=none",
	})
	err := Up(confMap)
	if !assert.Nil(err) {
		return
	}

	var target LogTarget
	target.Init(4)
	AddLogTarget(target)

	Tracef("should not appear")
	assert.Equal(0, target.LogBuf.TotalEntries)

	Infof("should appear")
	assert.Equal(1, target.LogBuf.TotalEntries)

	err = Down()
	assert.Nil(err)
}

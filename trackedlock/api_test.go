// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package trackedlock

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/bufcache/conf"
	"github.com/NVIDIA/bufcache/logger"
)

func testSetup(t *testing.T, limit string) (target logger.LogTarget) {
	confStrings := []string{
		"Logging.LogToConsole=false",
	}
	if "" != limit {
		confStrings = append(confStrings, "TrackedLock.LockHoldTimeLimit="+limit)
	}

	confMap, err := conf.MakeConfMapFromStrings(confStrings)
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() failed: %v", err)
	}
	err = logger.Up(confMap)
	if nil != err {
		t.Fatalf("logger.Up() failed: %v", err)
	}
	target.Init(10)
	logger.AddLogTarget(target)

	err = Up(confMap)
	if nil != err {
		t.Fatalf("trackedlock.Up() failed: %v", err)
	}
	return
}

func testTeardown(t *testing.T) {
	_ = Down()
	_ = logger.Down()
}

func TestHoldTimeLimit(t *testing.T) {
	assert := assert.New(t)

	target := testSetup(t, "20ms")
	defer testTeardown(t)

	var m Mutex

	m.Lock()
	m.Unlock()
	assert.Equal(uint64(0), OverLimitCount())

	m.Lock()
	time.Sleep(40 * time.Millisecond)
	m.Unlock()
	assert.Equal(uint64(1), OverLimitCount())
	assert.True(strings.Contains(target.String(0), "TestHoldTimeLimit"))
}

func TestUntracked(t *testing.T) {
	assert := assert.New(t)

	testSetup(t, "")
	defer testTeardown(t)

	var m Mutex

	m.Lock()
	time.Sleep(5 * time.Millisecond)
	m.Unlock()
	assert.Equal(uint64(0), OverLimitCount())
}

func TestCondWait(t *testing.T) {
	assert := assert.New(t)

	testSetup(t, "50ms")
	defer testTeardown(t)

	var (
		m     Mutex
		ready bool
		wg    sync.WaitGroup
	)
	cond := sync.NewCond(&m)

	wg.Add(1)
	go func() {
		m.Lock()
		for !ready {
			cond.Wait()
		}
		m.Unlock()
		wg.Done()
	}()

	// the waiter sleeps in Wait() far longer than the limit
	time.Sleep(100 * time.Millisecond)
	m.Lock()
	ready = true
	cond.Broadcast()
	m.Unlock()
	wg.Wait()

	assert.Equal(uint64(0), OverLimitCount())
}

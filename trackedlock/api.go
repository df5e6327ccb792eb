// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package trackedlock provides an implementation of the sync.Mutex interface
// that checks how long the lock is held.
//
// When a Mutex is unlocked after being held longer than
// "TrackedLock.LockHoldTimeLimit" a warning is logged naming the function that
// acquired it and the function that released it. If the limit is 0 (the
// default) locks are not tracked and the overhead of this package is a single
// atomic load per Lock().
//
// A Mutex may be used before Up() is called; it is simply not tracked until
// the first Lock() after Up().
//
// Because a Mutex implements sync.Locker it may back a sync.Cond. Time spent
// in Cond.Wait() does not count against the hold time.
package trackedlock

import (
	"sync"
	"time"

	"github.com/NVIDIA/bufcache/logger"
	"github.com/NVIDIA/bufcache/utils"
)

type Mutex struct {
	wrappedMutex sync.Mutex // the actual Mutex
	lockTime     time.Time  // zero if not tracked
	lockerFn     string     // function that acquired the lock
}

func (m *Mutex) Lock() {
	m.wrappedMutex.Lock()

	if 0 != holdTimeLimit() {
		m.lockTime = time.Now()
		m.lockerFn = utils.GetAFnName(1)
	}
}

func (m *Mutex) Unlock() {
	if !m.lockTime.IsZero() {
		held := time.Since(m.lockTime)
		limit := holdTimeLimit()
		m.lockTime = time.Time{}

		if (0 != limit) && (held > limit) {
			logger.Warnf("trackedlock.Mutex at %p locked by %s held for %v (limit %v); unlocked by %s",
				m, m.lockerFn, held, limit, utils.GetAFnName(1))
			overLimitCount.Increment()
		}
	}

	m.wrappedMutex.Unlock()
}

// OverLimitCount returns the number of unlocks that found the lock held
// longer than the limit since Up().
func OverLimitCount() uint64 {
	return overLimitCount.TotalGet()
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package trackedlock

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/bufcache/bucketstats"
	"github.com/NVIDIA/bufcache/conf"
	"github.com/NVIDIA/bufcache/logger"
)

var (
	lockHoldTimeLimit int64 // time.Duration; accessed atomically
	overLimitCount    bucketstats.Total
)

func holdTimeLimit() time.Duration {
	return time.Duration(atomic.LoadInt64(&lockHoldTimeLimit))
}

// Up initializes the package from the [TrackedLock] section of confMap.
// A missing LockHoldTimeLimit disables tracking.
func Up(confMap conf.ConfMap) (err error) {
	limit, err := confMap.FetchOptionValueDuration("TrackedLock", "LockHoldTimeLimit")
	if nil != err {
		logger.Warnf("config variable 'TrackedLock.LockHoldTimeLimit' defaulting to '0s': %v", err)
		limit = time.Duration(0)
		err = nil
	}

	atomic.StoreInt64(&lockHoldTimeLimit, int64(limit))
	overLimitCount = bucketstats.Total{}

	logger.Infof("trackedlock.Up(): LockHoldTimeLimit %v", limit)
	return
}

// Down stops lock tracking.
func Down() (err error) {
	atomic.StoreInt64(&lockHoldTimeLimit, 0)
	return
}

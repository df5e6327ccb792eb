// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetFuncPackage(t *testing.T) {
	assert := assert.New(t)

	fn, pkg, gid := GetFuncPackage(0)
	assert.Equal("TestGetFuncPackage", fn)
	assert.Equal("utils", pkg)
	assert.NotEqual(uint64(0), gid)

	assert.Equal("utils.TestGetFuncPackage", GetFnName())
}

func TestRoundUp(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint64(0), RoundUp(0, 4096))
	assert.Equal(uint64(4096), RoundUp(1, 4096))
	assert.Equal(uint64(4096), RoundUp(4096, 4096))
	assert.Equal(uint64(8192), RoundUp(4097, 4096))
	assert.Equal(uint64(512), RoundUp(512, 512))

	assert.True(IsPowerOfTwo(4096))
	assert.False(IsPowerOfTwo(0))
	assert.False(IsPowerOfTwo(3000))
}

func TestStopwatch(t *testing.T) {
	sw := NewStopwatch()
	time.Sleep(2 * time.Millisecond)
	elapsed := sw.Stop()
	assert.True(t, elapsed >= 2*time.Millisecond)
	assert.Equal(t, elapsed, sw.Elapsed())
	assert.False(t, sw.IsRunning)
}

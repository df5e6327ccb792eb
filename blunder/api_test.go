// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blunder

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestNewError(t *testing.T) {
	assert := assert.New(t)

	err := NewError(IOError, "sector %d unreadable", 7)
	assert.Equal("sector 7 unreadable", err.Error())
	assert.Equal(int(unix.EIO), Errno(err))
	assert.True(Is(err, IOError))
	assert.True(IsNot(err, InterruptedError))
	assert.True(IsNotSuccess(err))
	assert.True(strings.HasSuffix(ErrorString(err), fmt.Sprintf("Error Value: %v", int(unix.EIO))))

	file, line := Location(err)
	assert.True(strings.HasSuffix(file, "api_test.go"))
	assert.NotEqual(0, line)
	assert.NotEqual("", Stacktrace(err))
	assert.True(strings.HasPrefix(Details(err), "sector 7 unreadable"))
}

func TestAddError(t *testing.T) {
	assert := assert.New(t)

	assert.True(IsSuccess(nil))
	assert.Equal(0, Errno(nil))
	assert.Equal("", ErrorString(nil))

	plain := fmt.Errorf("plain")
	assert.Equal(-1, Errno(plain))

	err := AddError(plain, InterruptedError)
	assert.True(Is(err, InterruptedError))
	assert.Equal("plain", err.Error())

	// re-annotating replaces the value
	err = AddError(err, IOError)
	assert.True(Is(err, IOError))

	err = AddError(nil, NotSupportedError)
	assert.True(Is(err, NotSupportedError))
	assert.Equal(unix.ENOTSUP.Error(), err.Error())

	err = AddError(nil, ChecksumMismatchError)
	assert.Equal("checksum mismatch", err.Error())
	assert.Equal(int(ChecksumMismatchError), Errno(err))
}

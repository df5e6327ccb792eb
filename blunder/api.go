// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder attaches errno values to errors.
//
// Drivers and file systems report failures to the buffer cache and vnode
// layer as errors carrying one of the FsError values below. Callers test
// for a particular failure with Is() rather than comparing error strings.
//
// The errors are built with github.com/ansel1/merry so that a stack trace
// is captured where the error was first raised.
package blunder

import (
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/bufcache/logger"
)

// FsError is the errno value an error carries.
type FsError int

const (
	NotPermError      FsError = FsError(int(unix.EPERM))        // Operation not permitted
	NotFoundError     FsError = FsError(int(unix.ENOENT))       // No such file or directory
	InterruptedError  FsError = FsError(int(unix.EINTR))        // Interrupted system call
	IOError           FsError = FsError(int(unix.EIO))          // I/O error
	NoDevAddrError    FsError = FsError(int(unix.ENXIO))        // No such device or address
	TooBigError       FsError = FsError(int(unix.E2BIG))        // Argument list too long
	TryAgainError     FsError = FsError(int(unix.EAGAIN))       // Try again
	OutOfMemoryError  FsError = FsError(int(unix.ENOMEM))       // Out of memory
	PermDeniedError   FsError = FsError(int(unix.EACCES))       // Permission denied
	DevBusyError      FsError = FsError(int(unix.EBUSY))        // Device or resource busy
	FileExistsError   FsError = FsError(int(unix.EEXIST))       // File exists
	NoDeviceError     FsError = FsError(int(unix.ENODEV))       // No such device
	NotDirError       FsError = FsError(int(unix.ENOTDIR))      // Not a directory
	IsDirError        FsError = FsError(int(unix.EISDIR))       // Is a directory
	InvalidArgError   FsError = FsError(int(unix.EINVAL))       // Invalid argument
	TableOverflowErr  FsError = FsError(int(unix.ENFILE))       // File table overflow
	FileTooLargeError FsError = FsError(int(unix.EFBIG))        // File too large
	NoSpaceError      FsError = FsError(int(unix.ENOSPC))       // No space left on device
	ReadOnlyError     FsError = FsError(int(unix.EROFS))        // Read-only file system
	NameTooLongError  FsError = FsError(int(unix.ENAMETOOLONG)) // File name too long
	NotEmptyError     FsError = FsError(int(unix.ENOTEMPTY))    // Directory not empty
	NotSupportedError FsError = FsError(int(unix.ENOTSUP))      // Operation not supported
)

// Errors specific to the on-disk formats layered on the buffer cache.
const ( // reset iota to 0
	UnpackError FsError = 1000 + iota
	PackError
	CorruptBlockError
	ChecksumMismatchError
)

const SuccessError FsError = 0

const successErrno = 0
const failureErrno = -1

func (err FsError) Value() int {
	return int(err)
}

func (err FsError) String() string {
	switch err {
	case UnpackError:
		return "unpack error"
	case PackError:
		return "pack error"
	case CorruptBlockError:
		return "corrupt block"
	case ChecksumMismatchError:
		return "checksum mismatch"
	}
	return unix.Errno(err).Error()
}

// NewError creates a new merry/blunder.FsError-annotated error using the given
// format string and arguments.
func NewError(errValue FsError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue("errno", int(errValue))
}

// AddError is used to add FS error detail to a Go error.
//
// NOTE: Checks whether the error value has already been set.
//       Warns if the error value has already been set to a different value.
//
func AddError(e error, errValue FsError) error {
	if e == nil {
		return merry.New(errValue.String()).WithValue("errno", int(errValue))
	}

	prevValue := Errno(e)
	if prevValue != successErrno && prevValue != failureErrno && prevValue != int(errValue) {
		logger.Warnf("replacing error value %v with value %v for error %v", prevValue, int(errValue), e)
	}

	return merry.WrapSkipping(e, 1).WithValue("errno", int(errValue))
}

// Errno extracts errno from the error, if it was previously wrapped.
// Otherwise a default value is returned.
//
func Errno(e error) int {
	if e == nil {
		return successErrno
	}

	var errno = failureErrno
	tmp := merry.Value(e, "errno")
	if tmp != nil {
		errno = tmp.(int)
	}

	return errno
}

func ErrorString(e error) string {
	if e == nil {
		return ""
	}

	errPlusVal := e.Error()

	tmp := merry.Value(e, "errno")
	if tmp != nil {
		errPlusVal = fmt.Sprintf("%s. Error Value: %v", errPlusVal, tmp.(int))
	}

	return errPlusVal
}

// Is reports whether e carries theError's errno.
func Is(e error, theError FsError) bool {
	return Errno(e) == theError.Value()
}

func IsNot(e error, theError FsError) bool {
	return Errno(e) != theError.Value()
}

func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

func IsNotSuccess(e error) bool {
	return Errno(e) != successErrno
}

func Location(e error) (file string, line int) {
	file, line = merry.Location(e)
	return
}

func Details(e error) string {
	return merry.Details(e)
}

func Stacktrace(e error) string {
	return merry.Stacktrace(e)
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"github.com/NVIDIA/bufcache/blunder"
)

type UioRw int

const (
	UioRead  UioRw = iota // device or file to Buf
	UioWrite              // Buf to device or file
)

// Uio describes a transfer between a caller's byte slice and a file or
// device. Offset is the file or device position; Resid counts the bytes of
// Buf not yet transferred, which are always its tail.
type Uio struct {
	Buf    []byte
	Offset int64
	Resid  int
	Rw     UioRw
}

func NewUio(buf []byte, offset int64, rw UioRw) *Uio {
	return &Uio{
		Buf:    buf,
		Offset: offset,
		Resid:  len(buf),
		Rw:     rw,
	}
}

// Done returns the number of bytes transferred so far.
func (uio *Uio) Done() int {
	return len(uio.Buf) - uio.Resid
}

// Uiomove moves up to n bytes between data and uio in the direction of
// uio.Rw, advancing uio.
func Uiomove(data []byte, n int, uio *Uio) (err error) {
	if (0 > n) || (uio.Resid > len(uio.Buf)) || (0 > uio.Resid) {
		err = blunder.NewError(blunder.InvalidArgError, "Uiomove() of %d bytes with Resid %d of %d", n, uio.Resid, len(uio.Buf))
		return
	}
	if n > uio.Resid {
		n = uio.Resid
	}
	if n > len(data) {
		n = len(data)
	}

	pos := uio.Done()
	if UioRead == uio.Rw {
		copy(uio.Buf[pos:pos+n], data[:n])
	} else {
		copy(data[:n], uio.Buf[pos:pos+n])
	}

	uio.Resid -= n
	uio.Offset += int64(n)
	return
}

// VnRead reads into buf from vp at offset and returns how many bytes were
// read. vp must be referenced and unlocked.
func VnRead(vp *Vnode, buf []byte, offset int64) (n int, err error) {
	uio := NewUio(buf, offset, UioRead)
	Vlock(vp)
	err = vp.ops.Read(vp, uio, 0)
	Vunlock(vp)
	n = uio.Done()
	return
}

// VnWrite writes buf to vp at offset and returns how many bytes were
// written. vp must be referenced and unlocked.
func VnWrite(vp *Vnode, buf []byte, offset int64) (n int, err error) {
	uio := NewUio(buf, offset, UioWrite)
	Vlock(vp)
	err = vp.ops.Write(vp, uio, 0)
	Vunlock(vp)
	n = uio.Done()
	return
}

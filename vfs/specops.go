// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"github.com/NVIDIA/bufcache/blunder"
)

// SpecOps is the capability set of block and char device vnodes. Block
// device I/O goes through the buffer cache one sector at a time; char
// device I/O goes straight to the driver.
type SpecOps struct {
	NotSupportedOps
}

var specOps = &SpecOps{}

func (*SpecOps) Open(vp *Vnode, mode int) (err error) {
	devno := Vdev(vp)

	switch vp.Type {
	case VBlk:
		var driver BlockDriver
		driver, err = vp.cache.devsw.BlockDriver(devno.Major())
		if nil == err {
			err = driver.Open(devno, mode)
		}
	case VChr:
		var driver CharDriver
		driver, err = vp.cache.devsw.CharDriver(devno.Major())
		if nil == err {
			err = driver.Open(devno, mode)
		}
	default:
		err = blunder.NewError(blunder.NoDeviceError, "%v is not a device", vp)
	}
	return
}

// Close tells the driver only on the last close of the device or when the
// caller holds vp locked. A block device's cached buffers are flushed and
// invalidated on every close.
func (*SpecOps) Close(vp *Vnode, mode int) (err error) {
	devno := Vdev(vp)
	locked := IsLocked(vp)
	lastClose := (1 >= vp.Refs()) || locked

	switch vp.Type {
	case VBlk:
		if !locked {
			Vlock(vp)
		}
		err = Vinvalbuf(vp)
		if !locked {
			Vunlock(vp)
		}
		if (nil != err) || !lastClose {
			return
		}
		var driver BlockDriver
		driver, err = vp.cache.devsw.BlockDriver(devno.Major())
		if nil == err {
			err = driver.Close(devno, mode)
		}
	case VChr:
		if !lastClose {
			return
		}
		var driver CharDriver
		driver, err = vp.cache.devsw.CharDriver(devno.Major())
		if nil == err {
			err = driver.Close(devno, mode)
		}
	default:
		err = blunder.NewError(blunder.NoDeviceError, "%v is not a device", vp)
	}
	return
}

// Read is called with vp locked; the lock is dropped for the transfer and
// retaken before returning.
func (*SpecOps) Read(vp *Vnode, uio *Uio, ioflags int) (err error) {
	if UioRead != uio.Rw {
		return blunder.NewError(blunder.InvalidArgError, "Read() given a write uio")
	}
	if 0 > uio.Offset {
		return blunder.NewError(blunder.InvalidArgError, "Read() at offset %d", uio.Offset)
	}
	if 0 == uio.Resid {
		return
	}

	Vunlock(vp)
	defer Vlock(vp)

	if VChr == vp.Type {
		var driver CharDriver
		devno := Vdev(vp)
		driver, err = vp.cache.devsw.CharDriver(devno.Major())
		if nil == err {
			err = driver.Read(devno, uio, ioflags)
		}
		return
	}

	var bp *Buffer
	for 0 < uio.Resid {
		lblkno := uio.Offset / SectorSize
		on := int(uio.Offset % SectorSize)
		n := SectorSize - on
		if n > uio.Resid {
			n = uio.Resid
		}

		bp, err = Bread(vp, lblkno, SectorSize, false)
		if nil != err {
			Brelse(bp)
			return
		}
		err = Uiomove(bp.Data[on:], n, uio)
		Brelse(bp)
		if nil != err {
			return
		}
	}
	return
}

// Write is called with vp locked; the lock is dropped for the transfer and
// retaken before returning. Partial sectors are read before being modified.
func (*SpecOps) Write(vp *Vnode, uio *Uio, ioflags int) (err error) {
	if UioWrite != uio.Rw {
		return blunder.NewError(blunder.InvalidArgError, "Write() given a read uio")
	}
	if 0 > uio.Offset {
		return blunder.NewError(blunder.InvalidArgError, "Write() at offset %d", uio.Offset)
	}
	if 0 == uio.Resid {
		return
	}

	Vunlock(vp)
	defer Vlock(vp)

	if VChr == vp.Type {
		var driver CharDriver
		devno := Vdev(vp)
		driver, err = vp.cache.devsw.CharDriver(devno.Major())
		if nil == err {
			err = driver.Write(devno, uio, ioflags)
		}
		return
	}

	var bp *Buffer
	for 0 < uio.Resid {
		lblkno := uio.Offset / SectorSize
		on := int(uio.Offset % SectorSize)
		n := SectorSize - on
		if n > uio.Resid {
			n = uio.Resid
		}

		if SectorSize == n {
			bp, err = Bget(vp, lblkno, SectorSize, false)
		} else {
			bp, err = Bread(vp, lblkno, SectorSize, false)
		}
		if nil != err {
			Brelse(bp)
			return
		}
		err = Uiomove(bp.Data[on:], n, uio)
		if nil == err {
			err = Bwrite(bp)
		}
		Brelse(bp)
		if nil != err {
			return
		}
	}
	return
}

// Inactive only unlocks; a device vnode keeps nothing to flush.
func (*SpecOps) Inactive(vp *Vnode) (err error) {
	Vunlock(vp)
	return
}

func (*SpecOps) Reclaim(vp *Vnode) (err error) {
	return
}

func (*SpecOps) Access(vp *Vnode, acc int) (err error) {
	return
}

func (*SpecOps) Fsync(vp *Vnode) (err error) {
	return
}

// Strategy starts I/O on a buffer of a device vnode, or on a file system's
// buffer whose Devno and Blkno the file system has already resolved.
func (*SpecOps) Strategy(bp *Buffer) (err error) {
	return specStrategy(bp)
}

func specStrategy(bp *Buffer) (err error) {
	if BlknoInvalid == bp.Blkno {
		bp.Blkno = bp.Lblkno
	}

	driver, err := bp.cache.devsw.BlockDriver(bp.Devno.Major())
	if nil != err {
		return
	}
	err = driver.Strategy(bp)
	return
}

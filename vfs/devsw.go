// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"fmt"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/logger"
	"github.com/NVIDIA/bufcache/trackedlock"
)

// Devno is a device number: major in the high 16 bits, minor in the low 16.
type Devno uint32

// NoDev is the device number of no device.
const NoDev Devno = 0xFFFFFFFF

func MakeDevno(major uint32, minor uint32) Devno {
	return Devno(((major & 0xFFFF) << 16) | (minor & 0xFFFF))
}

func (devno Devno) Major() uint32 {
	return uint32(devno) >> 16
}

func (devno Devno) Minor() uint32 {
	return uint32(devno) & 0xFFFF
}

func (devno Devno) String() string {
	if NoDev == devno {
		return "NODEV"
	}
	return fmt.Sprintf("%d,%d", devno.Major(), devno.Minor())
}

// BlockDriver is the contract of a block device driver.
//
// Strategy queues the transfer described by the busy buffer bp (Blkno in
// SectorSize units, Nbytes, Data; a write if bp.IsWrite()) and returns. The
// driver later reports completion exactly once with Biodone(), having
// counted Nbytesrem down as the transfer progressed. An error return means
// the transfer was not queued and Biodone() must not be called for it.
type BlockDriver interface {
	Open(devno Devno, mode int) (err error)
	Close(devno Devno, mode int) (err error)
	Strategy(bp *Buffer) (err error)
}

// CharDriver is the contract of a character device driver. Transfers are
// synchronous and bypass the buffer cache.
type CharDriver interface {
	Open(devno Devno, mode int) (err error)
	Close(devno Devno, mode int) (err error)
	Read(devno Devno, uio *Uio, ioflags int) (err error)
	Write(devno Devno, uio *Uio, ioflags int) (err error)
}

// DevSwitch maps major numbers to drivers. It is created by the owner of
// the drivers and handed to New().
type DevSwitch struct {
	lock         trackedlock.Mutex
	blockDrivers map[uint32]BlockDriver
	charDrivers  map[uint32]CharDriver
}

func NewDevSwitch() *DevSwitch {
	return &DevSwitch{
		blockDrivers: make(map[uint32]BlockDriver),
		charDrivers:  make(map[uint32]CharDriver),
	}
}

func (devsw *DevSwitch) RegisterBlock(major uint32, driver BlockDriver) (err error) {
	devsw.lock.Lock()
	defer devsw.lock.Unlock()

	if _, ok := devsw.blockDrivers[major]; ok {
		err = blunder.NewError(blunder.FileExistsError, "block major %d already registered", major)
		return
	}
	devsw.blockDrivers[major] = driver
	logger.Infof("block driver %T registered as major %d", driver, major)
	return
}

func (devsw *DevSwitch) RegisterChar(major uint32, driver CharDriver) (err error) {
	devsw.lock.Lock()
	defer devsw.lock.Unlock()

	if _, ok := devsw.charDrivers[major]; ok {
		err = blunder.NewError(blunder.FileExistsError, "char major %d already registered", major)
		return
	}
	devsw.charDrivers[major] = driver
	logger.Infof("char driver %T registered as major %d", driver, major)
	return
}

// Unregister removes the block and char drivers of major, if any.
func (devsw *DevSwitch) Unregister(major uint32) {
	devsw.lock.Lock()
	delete(devsw.blockDrivers, major)
	delete(devsw.charDrivers, major)
	devsw.lock.Unlock()
}

func (devsw *DevSwitch) BlockDriver(major uint32) (driver BlockDriver, err error) {
	devsw.lock.Lock()
	driver, ok := devsw.blockDrivers[major]
	devsw.lock.Unlock()
	if !ok {
		err = blunder.NewError(blunder.NoDeviceError, "no block driver for major %d", major)
	}
	return
}

func (devsw *DevSwitch) CharDriver(major uint32) (driver CharDriver, err error) {
	devsw.lock.Lock()
	driver, ok := devsw.charDrivers[major]
	devsw.lock.Unlock()
	if !ok {
		err = blunder.NewError(blunder.NoDeviceError, "no char driver for major %d", major)
	}
	return
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package ramdisk is a memory-backed block driver for the vfs buffer cache.
//
// Transfers are queued by Strategy() and worked off by a single goroutine
// standing in for the controller's interrupt handler: one sector moves per
// step, Nbytesrem counts down, and vfs.Biodone() is called when the transfer
// reaches zero or fails. Each minor number is a separate unit of
// [RAMDisk]Sectors sectors kept sparsely; unwritten sectors read as zeros.
//
// Typical configuration:
//
//   [RAMDisk]
//   Major:           3
//   Units:           2
//   Sectors:         8192
//   VerifyChecksums: true
//   SectorDelay:     0s
package ramdisk

import (
	"github.com/NVIDIA/bufcache/conf"
	"github.com/NVIDIA/bufcache/vfs"
)

// Disk is a set of RAM disk units sharing one request queue.
type Disk struct {
	disk
}

// New creates a Disk configured from confMap and starts its interrupt
// handler. The Disk is not reachable by a vfs.Cache until Attach() is
// called.
func New(confMap conf.ConfMap) (d *Disk, err error) {
	config, err := ParseConfMap(confMap)
	if nil != err {
		return
	}

	d = &Disk{}
	d.up(config)
	return
}

// Attach registers d as the block driver for [RAMDisk]Major in devsw.
func (d *Disk) Attach(devsw *vfs.DevSwitch) error {
	return devsw.RegisterBlock(d.config.Major, d)
}

// Detach removes d from devsw.
func (d *Disk) Detach(devsw *vfs.DevSwitch) {
	devsw.Unregister(d.config.Major)
}

// Config returns the settings d was created with.
func (d *Disk) Config() Config {
	return *d.config
}

// Devno returns the device number of unit.
func (d *Disk) Devno(unit uint32) vfs.Devno {
	return vfs.MakeDevno(d.config.Major, unit)
}

// Open implements vfs.BlockDriver.
func (d *Disk) Open(devno vfs.Devno, mode int) error {
	return d.open(devno)
}

// Close implements vfs.BlockDriver.
func (d *Disk) Close(devno vfs.Devno, mode int) error {
	return d.close(devno)
}

// Strategy implements vfs.BlockDriver. A transfer d cannot perform (beyond
// the end of the unit, not a whole number of sectors, or after Stop()) is
// completed at once with an error rather than refused.
func (d *Disk) Strategy(bp *vfs.Buffer) error {
	return d.strategy(bp)
}

// Opens returns the number of outstanding opens of devno.
func (d *Disk) Opens(devno vfs.Devno) int {
	return d.opens(devno)
}

// QueueLen returns the number of transfers queued or in progress.
func (d *Disk) QueueLen() int {
	return d.queueLen()
}

// InjectFault arranges for the next transfer touching sector blkno of devno
// to fail with err (every such transfer if once is false). An err for which
// blunder.Is(err, blunder.InterruptedError) aborts the transfer instead.
func (d *Disk) InjectFault(devno vfs.Devno, blkno int64, err error, once bool) error {
	return d.injectFault(devno, blkno, err, once)
}

// ClearFaults removes every injected fault.
func (d *Disk) ClearFaults() {
	d.clearFaults()
}

// Peek returns a copy of sector blkno of devno, bypassing the queue.
func (d *Disk) Peek(devno vfs.Devno, blkno int64) ([]byte, error) {
	return d.peek(devno, blkno)
}

// Poke overwrites sector blkno of devno with data, bypassing the queue.
func (d *Disk) Poke(devno vfs.Devno, blkno int64, data []byte) error {
	return d.poke(devno, blkno, data)
}

// Corrupt flips a bit of sector blkno of devno without updating its
// checksum.
func (d *Disk) Corrupt(devno vfs.Devno, blkno int64) error {
	return d.corrupt(devno, blkno)
}

// SectorsInUse returns the number of sectors of devno holding non-zero data.
func (d *Disk) SectorsInUse(devno vfs.Devno) int {
	return d.sectorsInUse(devno)
}

// Stop aborts every queued and in-progress transfer with EINTR and waits for
// the interrupt handler to exit. Later transfers are aborted the same way.
func (d *Disk) Stop() {
	d.down()
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package vfs implements the buffer cache and the vnode layer that sit
// between file systems and block device drivers.
//
// A Cache owns the buffer descriptor pool, the data region allocator, the
// vnode pool, the table of device vnodes (specinfo) and the mounts. It is
// created once with New() and handed the DevSwitch holding the drivers.
//
// Block I/O goes through the classic interface:
//
//   bp, err := vfs.Bread(vp, lblkno, nbytes, false) // read, waits for completion
//   ... use bp.Data ...
//   err = vfs.Bwrite(bp)                            // write, waits for completion
//   vfs.Brelse(bp)                                  // always, even on error
//
// A Buffer is exclusively owned by one caller while BufBusy is set; a second
// caller asking for the same block of the same vnode sleeps until it is
// released. Drivers accept buffers through BlockDriver.Strategy() and report
// completion, exactly once per request, with Biodone().
//
// Vnodes are reference counted (Vref/Vrele) and carry a sleep lock
// (Vlock/Vunlock). Vget and Vput combine the two. When the last reference is
// dropped the vnode is deactivated through its Ops.Inactive() and then
// reclaimed: its buffers are flushed and destroyed, Ops.Reclaim() frees the
// file system private state and the descriptor returns to the pool.
//
// Violations of the calling contract (releasing a buffer that is not busy,
// completing an I/O twice, asking for a cached block with a different size,
// unlocking a vnode that is not locked) panic.
package vfs

import (
	"github.com/NVIDIA/bufcache/blunder"
)

// SectorSize is the unit of block device addressing.
const SectorSize = 512

// BlknoInvalid marks a Buffer whose device block number is not yet resolved.
const BlknoInvalid int64 = -1

// BufFlag is the state of a Buffer.
type BufFlag uint32

const (
	BufBusy    BufFlag = 1 << iota // exclusively held by one caller
	BufDirty                       // content must be written
	BufInvalid                     // content must be read
	BufDone                        // I/O finished, successfully or not
	BufError                       // I/O failed
	BufEINTR                       // I/O aborted
)

// VType is the kind of object a Vnode stands for.
type VType int

const (
	VNon VType = iota // no type
	VReg              // regular file
	VDir              // directory
	VBlk              // block device
	VChr              // character device
	VLnk              // symlink
	VBad
)

func (vtype VType) String() string {
	switch vtype {
	case VNon:
		return "VNON"
	case VReg:
		return "VREG"
	case VDir:
		return "VDIR"
	case VBlk:
		return "VBLK"
	case VChr:
		return "VCHR"
	case VLnk:
		return "VLNK"
	}
	return "VBAD"
}

// VFlag holds the Vnode flag bits.
type VFlag uint32

const (
	VXLock VFlag = 1 << iota // locked
	VRoot                    // root of a file system
)

// Vattr describes a vnode to be created.
type Vattr struct {
	Type VType
}

// Ops is the capability set of a vnode. Every Vnode is bound to one at
// creation; the vnode layer and file systems only ever reach file system or
// device specific behaviour through it.
//
// Embed NotSupportedOps to inherit a "not supported" answer for every
// capability a variant does not implement.
type Ops interface {
	Open(vp *Vnode, mode int) (err error)
	Close(vp *Vnode, mode int) (err error)

	// Read and Write transfer according to uio. vp is locked.
	Read(vp *Vnode, uio *Uio, ioflags int) (err error)
	Write(vp *Vnode, uio *Uio, ioflags int) (err error)

	// Inactive is called with vp locked when its last reference is dropped.
	// It flushes or frees type specific state and must leave vp unlocked.
	// Returning blunder.NotSupportedError instead asks the caller to unlock.
	Inactive(vp *Vnode) (err error)

	// Reclaim frees the file system private state of a vnode being destroyed.
	Reclaim(vp *Vnode) (err error)

	// Strategy starts the transfer of a busy buffer owned by a vnode bound
	// to these Ops.
	Strategy(bp *Buffer) (err error)

	// Lookup finds name in the locked directory dvp and returns its vnode
	// referenced and locked (or dvp itself, only referenced, for ".").
	Lookup(dvp *Vnode, name string) (vp *Vnode, err error)

	// Create makes a regular file name in the locked directory dvp and
	// returns its vnode referenced and locked.
	Create(dvp *Vnode, name string, va *Vattr) (vp *Vnode, err error)

	// Bmap translates a logical block of vp into a device block of devvp.
	// blunder.TooBigError means lblkno is past the end of the file's
	// storage. run is the number of following blocks that are contiguous.
	Bmap(vp *Vnode, lblkno int64) (devvp *Vnode, blkno int64, run int, err error)

	Link(dvp *Vnode, name string, vp *Vnode) (err error)
	Remove(dvp *Vnode, name string, vp *Vnode) (err error)
	Access(vp *Vnode, acc int) (err error)
	Mkdir(dvp *Vnode, name string, va *Vattr) (vp *Vnode, err error)

	// Fsync writes the vnode's own metadata. Data buffers have already been
	// written by the vnode layer.
	Fsync(vp *Vnode) (err error)
}

// NotSupportedOps answers blunder.NotSupportedError for every capability.
type NotSupportedOps struct{}

func notSupported(capability string) error {
	return blunder.NewError(blunder.NotSupportedError, "vnode capability %s not supported", capability)
}

func (NotSupportedOps) Open(vp *Vnode, mode int) error                 { return notSupported("Open") }
func (NotSupportedOps) Close(vp *Vnode, mode int) error                { return notSupported("Close") }
func (NotSupportedOps) Read(vp *Vnode, uio *Uio, ioflags int) error    { return notSupported("Read") }
func (NotSupportedOps) Write(vp *Vnode, uio *Uio, ioflags int) error   { return notSupported("Write") }
func (NotSupportedOps) Inactive(vp *Vnode) error                       { return notSupported("Inactive") }
func (NotSupportedOps) Reclaim(vp *Vnode) error                        { return notSupported("Reclaim") }
func (NotSupportedOps) Strategy(bp *Buffer) error                      { return notSupported("Strategy") }
func (NotSupportedOps) Lookup(dvp *Vnode, name string) (*Vnode, error) { return nil, notSupported("Lookup") }
func (NotSupportedOps) Create(dvp *Vnode, name string, va *Vattr) (*Vnode, error) {
	return nil, notSupported("Create")
}
func (NotSupportedOps) Bmap(vp *Vnode, lblkno int64) (*Vnode, int64, int, error) {
	return nil, BlknoInvalid, 0, notSupported("Bmap")
}
func (NotSupportedOps) Link(dvp *Vnode, name string, vp *Vnode) error   { return notSupported("Link") }
func (NotSupportedOps) Remove(dvp *Vnode, name string, vp *Vnode) error { return notSupported("Remove") }
func (NotSupportedOps) Access(vp *Vnode, acc int) error                 { return notSupported("Access") }
func (NotSupportedOps) Mkdir(dvp *Vnode, name string, va *Vattr) (*Vnode, error) {
	return nil, notSupported("Mkdir")
}
func (NotSupportedOps) Fsync(vp *Vnode) error { return notSupported("Fsync") }

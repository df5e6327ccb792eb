// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/NVIDIA/bufcache/logger"
)

// Buffer is the in-memory copy of one block range of a vnode (or, for an
// anonymous buffer, of a device).
//
// Lblkno, Nbytes and Vnode are fixed while the buffer is cached. Blkno,
// Nbytesrem and Data may be changed by whoever holds the buffer busy, which
// during I/O is the driver.
type Buffer struct {
	Vnode     *Vnode // nil for an anonymous buffer
	Devno     Devno  // device of a device vnode's or anonymous buffer
	Lblkno    int64  // block number relative to Vnode
	Blkno     int64  // absolute device block number, or BlknoInvalid
	Nbytes    int
	Nbytesrem int    // bytes of the current transfer not yet done
	Data      []byte // len(Data) == Nbytes

	cache   *Cache
	flags   BufFlag    // protected by cache.bioLock
	err     error      // recorded with BufError
	cond    *sync.Cond // on cache.bioLock; signalled on release and completion
	region  []byte     // whole page rounded allocation behind Data
	element *list.Element
}

func (bp *Buffer) String() string {
	return fmt.Sprintf("buf %p vnode %p lblkno %d blkno %d nbytes %d", bp, bp.Vnode, bp.Lblkno, bp.Blkno, bp.Nbytes)
}

// Flags returns a snapshot of the buffer's state.
func (bp *Buffer) Flags() (flags BufFlag) {
	bp.cache.bioLock.Lock()
	flags = bp.flags
	bp.cache.bioLock.Unlock()
	return
}

// Error returns the error recorded by the last failed transfer, if any.
func (bp *Buffer) Error() (err error) {
	bp.cache.bioLock.Lock()
	err = bp.err
	bp.cache.bioLock.Unlock()
	return
}

// IsDirty reports whether the buffer holds data not yet written. Only
// meaningful to the holder of a busy buffer.
func (bp *Buffer) IsDirty() bool {
	return 0 != bp.Flags()&BufDirty
}

// IsInvalid reports whether the buffer's data has not been loaded.
func (bp *Buffer) IsInvalid() bool {
	return 0 != bp.Flags()&BufInvalid
}

// IsWrite reports whether the transfer a driver has been handed is a write.
func (bp *Buffer) IsWrite() bool {
	return bp.IsDirty()
}

// SetError is called by a driver, before Biodone(), to fail the transfer.
func (bp *Buffer) SetError(err error) {
	bp.cache.bioLock.Lock()
	bp.flags |= BufError
	bp.err = err
	bp.cache.bioLock.Unlock()
}

// SetInterrupted is called by a driver, before Biodone(), when the transfer
// was aborted rather than failed.
func (bp *Buffer) SetInterrupted() {
	bp.cache.bioLock.Lock()
	bp.flags |= BufEINTR
	bp.cache.bioLock.Unlock()
}

// Cache returns the Cache bp belongs to.
func (bp *Buffer) Cache() *Cache {
	return bp.cache
}

// bufGet allocates a buffer for lblkno of vp (or an anonymous one if vp is
// nil), recycling the last clean idle buffer on vp's list if there is one.
//
// Caller holds cache.bioLock and, for a non-nil vp, vp's lock.
func (cache *Cache) bufGet(vp *Vnode, lblkno int64, nbytes int) (bp *Buffer, err error) {
	if nil != vp {
		for e := vp.bufs.Back(); nil != e; e = e.Prev() {
			candidate := e.Value.(*Buffer)
			if 0 == candidate.flags&(BufBusy|BufDirty) {
				bp = candidate
				break
			}
		}
	}

	if nil != bp {
		cache.dataPool.Free(bp.region)
		bp.region = nil
		bp.Data = nil
		cache.stats.BufRecycles.Increment()
		logger.Tracef("recycling %v for lblkno %d", bp, lblkno)
	} else {
		var obj interface{}
		obj, err = cache.bufPool.Alloc()
		if nil != err {
			cache.stats.OutOfMemory.Increment()
			return
		}
		bp = obj.(*Buffer)
		bp.cache = cache
		bp.cond = sync.NewCond(&cache.bioLock)
		if nil != vp {
			bp.element = vp.bufs.PushBack(bp)
		}
	}

	bp.region, err = cache.dataPool.Alloc(nbytes)
	if nil != err {
		cache.stats.OutOfMemory.Increment()
		if nil != bp.element {
			vp.bufs.Remove(bp.element)
			bp.element = nil
		}
		cache.bufPool.Free(bp)
		bp = nil
		return
	}

	bp.flags = BufBusy | BufInvalid
	bp.err = nil
	bp.Nbytes = nbytes
	bp.Nbytesrem = 0
	bp.Blkno = BlknoInvalid
	bp.Data = bp.region[:nbytes]
	bp.Vnode = vp
	bp.Lblkno = 0
	bp.Devno = NoDev
	if nil != vp {
		bp.Lblkno = lblkno
		if ((VBlk == vp.Type) || (VChr == vp.Type)) && (nil != vp.specinfo) {
			bp.Devno = vp.specinfo.Devno
		}
	}

	return
}

// bdestroy frees bp's data and descriptor. bp is already off any list.
//
// Caller holds cache.bioLock.
func (cache *Cache) bdestroy(bp *Buffer) {
	logger.Tracef("destroying %v", bp)
	if nil != bp.region {
		cache.dataPool.Free(bp.region)
	}
	bp.region = nil
	bp.Data = nil
	bp.element = nil
	cache.bufPool.Free(bp)
	cache.stats.BufDestroys.Increment()
}

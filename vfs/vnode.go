// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/logger"
	"github.com/NVIDIA/bufcache/trackedlock"
)

// Vnode is the in-memory handle of a file, directory or device.
type Vnode struct {
	Type  VType
	Mount *Mount      // nil for device vnodes
	Data  interface{} // file system private state

	cache    *Cache
	ops      Ops
	specinfo *Specinfo
	refs     int32 // atomic

	interlock trackedlock.Mutex // protects flag
	flag      VFlag
	lockCond  *sync.Cond // on interlock; signalled when VXLock clears

	bufs     *list.List // of *Buffer; protected by cache.bioLock
	noutputs int        // writes in flight; protected by cache.bioLock
	ioCond   *sync.Cond // on cache.bioLock; signalled when noutputs reaches 0

	vnodeElement *list.Element // in cache.vnodeList
	mountElement *list.Element // in Mount.vnodes
}

func (vp *Vnode) String() string {
	return fmt.Sprintf("vnode %p %v refs %d", vp, vp.Type, atomic.LoadInt32(&vp.refs))
}

// Ops returns the capability set vp was created with.
func (vp *Vnode) Ops() Ops {
	return vp.ops
}

// Cache returns the Cache vp belongs to.
func (vp *Vnode) Cache() *Cache {
	return vp.cache
}

// Refs returns the current reference count.
func (vp *Vnode) Refs() int32 {
	return atomic.LoadInt32(&vp.refs)
}

// NumBuffers returns the number of buffers cached for vp.
func (vp *Vnode) NumBuffers() (count int) {
	vp.cache.bioLock.Lock()
	count = vp.bufs.Len()
	vp.cache.bioLock.Unlock()
	return
}

// Noutputs returns the number of writes in flight on vp.
func (vp *Vnode) Noutputs() (count int) {
	vp.cache.bioLock.Lock()
	count = vp.noutputs
	vp.cache.bioLock.Unlock()
	return
}

// Getnewvnode allocates a vnode bound to ops with one reference, unlocked,
// and adds it to mp (which may be nil).
func (cache *Cache) Getnewvnode(mp *Mount, ops Ops) (vp *Vnode, err error) {
	obj, err := cache.vnodePool.Alloc()
	if nil != err {
		cache.stats.OutOfMemory.Increment()
		logger.WarnfWithError(err, "Getnewvnode() could not allocate a vnode")
		return
	}

	vp = obj.(*Vnode)
	vp.Type = VNon
	vp.cache = cache
	vp.ops = ops
	vp.refs = 1
	vp.lockCond = sync.NewCond(&vp.interlock)
	vp.bufs = list.New()
	vp.ioCond = sync.NewCond(&cache.bioLock)

	cache.vnodeListLock.Lock()
	vp.vnodeElement = cache.vnodeList.PushBack(vp)
	cache.vnodeListLock.Unlock()

	insmntque(vp, mp)

	cache.stats.VnodeAllocs.Increment()
	return
}

// insmntque moves vp from its current mount (if any) to mp (if non-nil).
func insmntque(vp *Vnode, mp *Mount) {
	if nil != vp.Mount {
		vp.Mount.vnodeLock.Lock()
		vp.Mount.vnodes.Remove(vp.mountElement)
		vp.Mount.vnodeLock.Unlock()
		vp.mountElement = nil
		vp.Mount = nil
	}
	if nil != mp {
		mp.vnodeLock.Lock()
		vp.mountElement = mp.vnodes.PushBack(vp)
		mp.vnodeLock.Unlock()
		vp.Mount = mp
	}
}

// Vlock takes vp's exclusive lock, sleeping while another caller holds it.
// The lock is not recursive.
func Vlock(vp *Vnode) {
	vp.interlock.Lock()
	for 0 != vp.flag&VXLock {
		vp.lockCond.Wait()
	}
	vp.flag |= VXLock
	vp.interlock.Unlock()
}

// Vtrylock takes vp's lock if it is free and reports whether it did.
func Vtrylock(vp *Vnode) (locked bool) {
	vp.interlock.Lock()
	if 0 == vp.flag&VXLock {
		vp.flag |= VXLock
		locked = true
	}
	vp.interlock.Unlock()
	return
}

// Vunlock releases vp's lock and wakes every waiter.
func Vunlock(vp *Vnode) {
	vp.interlock.Lock()
	if 0 == vp.flag&VXLock {
		vp.interlock.Unlock()
		logger.PanicfWithError(blunder.NewError(blunder.InvalidArgError, "%v not locked", vp), "Vunlock() of unlocked vnode")
	}
	vp.flag &^= VXLock
	vp.lockCond.Broadcast()
	vp.interlock.Unlock()
}

// IsLocked reports whether someone holds vp's lock.
func IsLocked(vp *Vnode) (locked bool) {
	vp.interlock.Lock()
	locked = 0 != vp.flag&VXLock
	vp.interlock.Unlock()
	return
}

// SetRoot marks vp as the root directory of its mount.
func SetRoot(vp *Vnode) {
	vp.interlock.Lock()
	vp.flag |= VRoot
	vp.interlock.Unlock()
}

// IsRoot reports whether vp is the root directory of its mount.
func IsRoot(vp *Vnode) (root bool) {
	vp.interlock.Lock()
	root = 0 != vp.flag&VRoot
	vp.interlock.Unlock()
	return
}

// Vget locks vp and takes a reference on it.
func Vget(vp *Vnode) {
	Vlock(vp)
	atomic.AddInt32(&vp.refs, 1)
}

// Vref takes another reference on vp, which the caller knows to be live.
func Vref(vp *Vnode) {
	if 1 >= atomic.AddInt32(&vp.refs, 1) {
		atomic.AddInt32(&vp.refs, -1)
		logger.PanicfWithError(blunder.NewError(blunder.InvalidArgError, "%v", vp), "Vref() of unreferenced vnode")
	}
}

// VrefIfLive takes a reference on vp unless its count already reached zero,
// in which case vp is being reclaimed and must not be used. File systems use
// it to look vnodes up in their own inode hash.
func VrefIfLive(vp *Vnode) bool {
	for {
		refs := atomic.LoadInt32(&vp.refs)
		if 0 >= refs {
			return false
		}
		if atomic.CompareAndSwapInt32(&vp.refs, refs, refs+1) {
			return true
		}
	}
}

func (vp *Vnode) dropRef(caller string) (refs int32) {
	refs = atomic.AddInt32(&vp.refs, -1)
	if 0 > refs {
		logger.PanicfWithError(blunder.NewError(blunder.InvalidArgError, "%v", vp), "%s() of unreferenced vnode", caller)
	}
	return
}

// Vput drops a reference on the locked vnode vp and unlocks it. Dropping the
// last reference deactivates and reclaims vp.
func Vput(vp *Vnode) {
	if 0 < vp.dropRef("Vput") {
		Vunlock(vp)
		return
	}
	vinactive(vp)
	Vgone(vp)
}

// Vrele drops a reference on the unlocked vnode vp. Dropping the last
// reference locks, deactivates and reclaims vp.
func Vrele(vp *Vnode) {
	if 0 < vp.dropRef("Vrele") {
		return
	}
	Vlock(vp)
	vinactive(vp)
	Vgone(vp)
}

// vinactive runs the Inactive capability on the locked vnode vp, which
// leaves it unlocked.
func vinactive(vp *Vnode) {
	err := vp.ops.Inactive(vp)
	if nil == err {
		return
	}
	if blunder.Is(err, blunder.NotSupportedError) {
		Vunlock(vp)
		return
	}
	logger.WarnfWithError(err, "Inactive() of %v failed", vp)
	if IsLocked(vp) {
		Vunlock(vp)
	}
}

// Vgone reclaims vp, whose reference count is zero: its buffers are written
// back and destroyed, the file system frees its private state, and vp leaves
// its mount, the device table and finally returns to the pool.
func Vgone(vp *Vnode) {
	cache := vp.cache

	if 0 != atomic.LoadInt32(&vp.refs) {
		logger.PanicfWithError(blunder.NewError(blunder.DevBusyError, "%v", vp), "Vgone() of referenced vnode")
	}

	Vlock(vp)

	err := Vinvalbuf(vp)
	if nil != err {
		logger.ErrorfWithError(err, "Vgone() of %v could not write back every buffer", vp)
	}

	err = vp.ops.Reclaim(vp)
	if (nil != err) && blunder.IsNot(err, blunder.NotSupportedError) {
		logger.ErrorfWithError(err, "Reclaim() of %v failed", vp)
	}

	cache.vnodeListLock.Lock()
	cache.vnodeList.Remove(vp.vnodeElement)
	cache.vnodeListLock.Unlock()
	vp.vnodeElement = nil

	insmntque(vp, nil)

	if nil != vp.specinfo {
		cache.specTable.remove(vp.specinfo)
		vp.specinfo = nil
	}

	logger.Tracef("reclaimed %v", vp)
	cache.stats.VnodeReclaims.Increment()
	cache.vnodePool.Free(vp)
}

// vwakeup accounts for a completed write on vp.
//
// Caller holds cache.bioLock.
func vwakeup(vp *Vnode) {
	vp.noutputs--
	if 0 > vp.noutputs {
		vp.cache.contractViolation("%v completed more writes than were started", vp)
	}
	if 0 == vp.noutputs {
		vp.ioCond.Broadcast()
	}
}

// Vwaitforio sleeps until no write is in flight on vp.
func Vwaitforio(vp *Vnode) {
	cache := vp.cache

	cache.bioLock.Lock()
	for 0 < vp.noutputs {
		vp.ioCond.Wait()
	}
	cache.bioLock.Unlock()
}

func (vp *Vnode) hasDirtyBuffers() (dirty bool) {
	vp.cache.bioLock.Lock()
	for e := vp.bufs.Front(); nil != e; e = e.Next() {
		if 0 != e.Value.(*Buffer).flags&BufDirty {
			dirty = true
			break
		}
	}
	vp.cache.bioLock.Unlock()
	return
}

// VFlushBuf writes back every dirty buffer of the locked vnode vp, waiting
// for busy ones. Every write is attempted; the errors are combined.
func VFlushBuf(vp *Vnode) (err error) {
	cache := vp.cache

	cache.bioLock.Lock()

restart:
	for e := vp.bufs.Front(); nil != e; e = e.Next() {
		bp := e.Value.(*Buffer)
		if 0 == bp.flags&BufDirty {
			continue
		}
		if 0 != bp.flags&BufBusy {
			bp.cond.Wait()
			goto restart
		}
		bp.flags |= BufBusy
		cache.bioLock.Unlock()

		err = multierr.Append(err, Bwrite(bp))
		Brelse(bp)
		cache.stats.FlushedBuffers.Increment()

		cache.bioLock.Lock()
		goto restart
	}

	cache.bioLock.Unlock()
	return
}

// Vinvalbuf empties the buffer list of the locked vnode vp: pending writes
// are waited for, dirty buffers written back, the file system's own metadata
// synced through Fsync, and then every buffer destroyed. Busy buffers are
// waited for, never skipped.
func Vinvalbuf(vp *Vnode) (err error) {
	cache := vp.cache

	cache.stats.VinvalbufCalls.Increment()

	Vwaitforio(vp)

	err = VFlushBuf(vp)

	fsyncErr := vp.ops.Fsync(vp)
	if (nil != fsyncErr) && blunder.IsNot(fsyncErr, blunder.NotSupportedError) {
		err = multierr.Append(err, fsyncErr)
	}

	for {
		redirtied := false

		cache.bioLock.Lock()
		e := vp.bufs.Front()
		for nil != e {
			bp := e.Value.(*Buffer)
			if 0 != bp.flags&BufBusy {
				bp.cond.Wait()
				e = vp.bufs.Front()
				continue
			}
			if 0 != bp.flags&BufDirty {
				// Delayed write by a holder released while we slept.
				redirtied = true
				e = e.Next()
				continue
			}
			next := e.Next()
			vp.bufs.Remove(e)
			cache.bdestroy(bp)
			e = next
		}
		cache.bioLock.Unlock()

		if !redirtied {
			return
		}
		err = multierr.Append(err, VFlushBuf(vp))
	}
}

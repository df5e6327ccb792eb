// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/logger"
	"github.com/NVIDIA/bufcache/utils"
)

// contractViolation unlocks bioLock (held by the caller) and panics.
func (cache *Cache) contractViolation(format string, args ...interface{}) {
	cache.bioLock.Unlock()
	err := blunder.NewError(blunder.InvalidArgError, format, args...)
	logger.PanicfWithError(err, "vfs contract violation")
}

// Bget returns the buffer for lblkno of vp marked busy, allocating (or
// recycling) one if lblkno is not cached. The data of a newly allocated
// buffer is invalid.
//
// locked says whether the caller already holds vp's lock; if not, Bget takes
// it for the duration of the call. Bget sleeps while another caller holds
// the buffer busy, then starts over.
func Bget(vp *Vnode, lblkno int64, nbytes int, locked bool) (bp *Buffer, err error) {
	cache := vp.cache

	if (0 >= nbytes) || (0 != nbytes%SectorSize) || (0 > lblkno) {
		logger.PanicfWithError(blunder.NewError(blunder.InvalidArgError, "lblkno %d nbytes %d", lblkno, nbytes),
			"Bget() of %p given a bad block range", vp)
	}

	if !locked {
		Vlock(vp)
		defer Vunlock(vp)
	}

	cache.bioLock.Lock()

restart:
	for e := vp.bufs.Front(); nil != e; e = e.Next() {
		bp = e.Value.(*Buffer)
		if lblkno != bp.Lblkno {
			continue
		}
		if 0 != bp.flags&BufBusy {
			cache.stats.BgetSleeps.Increment()
			bp.cond.Wait()
			goto restart
		}
		if nbytes != bp.Nbytes {
			cache.contractViolation("Bget() of lblkno %d with %d bytes but %v is cached", lblkno, nbytes, bp)
		}
		bp.flags |= BufBusy
		cache.bioLock.Unlock()
		cache.stats.BgetHits.Increment()
		return
	}

	bp, err = cache.bufGet(vp, lblkno, nbytes)
	cache.bioLock.Unlock()
	if nil != err {
		logger.WarnfWithError(err, "Bget() of lblkno %d on %p could not allocate a buffer", lblkno, vp)
		return
	}

	cache.stats.BgetMisses.Increment()
	return
}

// Bgetempty returns an anonymous busy buffer of nbytes. It belongs to no
// vnode and is destroyed when released. The caller sets Devno and Blkno
// before starting I/O on it.
func (cache *Cache) Bgetempty(nbytes int) (bp *Buffer, err error) {
	if 0 >= nbytes {
		err = blunder.NewError(blunder.InvalidArgError, "Bgetempty() of %d bytes", nbytes)
		return
	}
	if 0 != nbytes%SectorSize {
		logger.PanicfWithError(blunder.NewError(blunder.InvalidArgError, "nbytes %d", nbytes),
			"Bgetempty() given part of a sector")
	}

	cache.bioLock.Lock()
	bp, err = cache.bufGet(nil, 0, nbytes)
	cache.bioLock.Unlock()
	return
}

// Bread returns the busy buffer for lblkno of vp with its data read from the
// device if it was not already cached. The buffer is returned even when the
// read failed; the caller must Brelse() it in every case.
func Bread(vp *Vnode, lblkno int64, nbytes int, locked bool) (bp *Buffer, err error) {
	bp, err = Bget(vp, lblkno, nbytes, locked)
	if nil != err {
		return
	}

	cache := bp.cache

	cache.bioLock.Lock()
	mustRead := (0 != bp.flags&BufInvalid) && (0 == bp.flags&BufDirty)
	cache.bioLock.Unlock()

	if mustRead {
		cache.stats.DeviceReads.Increment()
		_ = cache.Strategy(bp)
	}

	err = Biowait(bp)
	return
}

// Bwrite writes the busy buffer bp and waits for the write to complete. The
// buffer stays busy.
func Bwrite(bp *Buffer) (err error) {
	cache := bp.cache

	cache.bioLock.Lock()
	if 0 == bp.flags&BufBusy {
		cache.contractViolation("Bwrite() of %v which is not busy", bp)
	}
	if nil != bp.Vnode {
		bp.Vnode.noutputs++
	}
	bp.flags &^= BufInvalid
	bp.flags |= BufDirty
	cache.bioLock.Unlock()

	cache.stats.DeviceWrites.Increment()
	_ = cache.Strategy(bp)

	err = Biowait(bp)
	return
}

// Bdwrite marks the busy buffer bp dirty and releases it without writing.
// The data reaches the device when the vnode is flushed or reclaimed.
func Bdwrite(bp *Buffer) {
	cache := bp.cache

	cache.bioLock.Lock()
	if 0 == bp.flags&BufBusy {
		cache.contractViolation("Bdwrite() of %v which is not busy", bp)
	}
	if nil == bp.Vnode {
		cache.contractViolation("Bdwrite() of anonymous %v", bp)
	}
	bp.flags &^= BufInvalid | BufError | BufEINTR
	// no transfer will complete a delayed write; its data is already whole
	bp.flags |= BufDirty | BufDone
	bp.err = nil
	cache.bioLock.Unlock()

	cache.stats.DelayedWrites.Increment()
	Brelse(bp)
}

// Strategy hands the busy buffer bp to its vnode's Strategy capability, or
// for an anonymous buffer straight to the block driver of bp.Devno. Any
// completion state left from an earlier transfer is cleared first.
//
// The transfer completes through Biodone(). If it could not even be started
// the buffer is completed here with the error recorded, so Biowait() never
// hangs; the error is also returned.
func (cache *Cache) Strategy(bp *Buffer) (err error) {
	cache.bioLock.Lock()
	if 0 == bp.flags&BufBusy {
		cache.contractViolation("Strategy() of %v which is not busy", bp)
	}
	bp.flags &^= BufDone | BufError | BufEINTR
	bp.err = nil
	bp.Nbytesrem = bp.Nbytes
	cache.bioLock.Unlock()

	if nil != bp.Vnode {
		err = bp.Vnode.ops.Strategy(bp)
	} else if BlknoInvalid == bp.Blkno {
		err = blunder.NewError(blunder.InvalidArgError, "anonymous %v has no device block", bp)
	} else {
		err = specStrategy(bp)
	}

	if nil != err {
		logger.WarnfWithError(err, "Strategy() could not start I/O on %v", bp)
		bp.SetError(err)
		Biodone(bp)
	}
	return
}

// Biowait sleeps until the transfer on bp completes. An interrupted transfer
// returns blunder.InterruptedError and leaves the data invalid; a failed one
// returns the error the driver recorded (blunder.IOError if none).
func Biowait(bp *Buffer) (err error) {
	cache := bp.cache
	stopwatch := utils.NewStopwatch()

	cache.bioLock.Lock()
	for 0 == bp.flags&BufDone {
		bp.cond.Wait()
	}

	if 0 != bp.flags&BufEINTR {
		bp.flags &^= BufEINTR
		bp.flags |= BufInvalid
		err = blunder.NewError(blunder.InterruptedError, "I/O on %v interrupted", bp)
	} else if 0 != bp.flags&BufError {
		err = bp.err
		if nil == err {
			err = blunder.NewError(blunder.IOError, "I/O on %v failed", bp)
		}
	}
	cache.bioLock.Unlock()

	if nil != err {
		if blunder.Is(err, blunder.InterruptedError) {
			cache.stats.Interrupts.Increment()
		} else {
			cache.stats.IOErrors.Increment()
		}
	}
	cache.stats.BiowaitUsec.Add(uint64(stopwatch.ElapsedUs()))
	return
}

// Biodone is called by a driver, exactly once per transfer, when the
// transfer on bp has finished (after SetError() or SetInterrupted() if it
// did not succeed). It may be called from any goroutine.
func Biodone(bp *Buffer) {
	cache := bp.cache

	cache.bioLock.Lock()
	if 0 != bp.flags&BufDone {
		cache.contractViolation("Biodone() of %v which is already done", bp)
	}
	bp.flags |= BufDone
	if (0 != bp.flags&BufDirty) && (nil != bp.Vnode) {
		vwakeup(bp.Vnode)
	}
	bp.flags &^= BufDirty | BufInvalid
	bp.cond.Broadcast()
	cache.bioLock.Unlock()
}

// Brelse releases the busy buffer bp. An anonymous buffer is destroyed; a
// vnode's buffer stays cached for the next Bget(). Brelse does not check that
// I/O on bp has completed. Releasing nil is a no-op.
func Brelse(bp *Buffer) {
	if nil == bp {
		return
	}

	cache := bp.cache

	cache.bioLock.Lock()
	if 0 == bp.flags&BufBusy {
		cache.contractViolation("Brelse() of %v which is not busy", bp)
	}
	bp.flags &^= BufBusy

	if nil == bp.Vnode {
		cache.bdestroy(bp)
		cache.bioLock.Unlock()
		return
	}

	if 0 != bp.flags&(BufError|BufEINTR) {
		bp.flags &^= BufError | BufEINTR
		bp.flags |= BufInvalid
		bp.err = nil
	}
	bp.cond.Broadcast()
	cache.bioLock.Unlock()
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/conf"
)

const testMajor = 7

// memDriver is a block driver over a map of sectors that counts the
// transfers it is handed and completes them from another goroutine.
type memDriver struct {
	sync.Mutex
	sectors   map[int64][]byte
	reads     int32
	writes    int32
	opens     int32
	closes    int32
	delay     time.Duration
	failWith  error // complete every transfer with this error
	interrupt bool  // complete every transfer interrupted
	refuse    bool  // Strategy() fails without queueing
	closeErr  error // Close() fails with this error
}

func newMemDriver() *memDriver {
	return &memDriver{sectors: make(map[int64][]byte)}
}

func (d *memDriver) Open(devno Devno, mode int) error {
	atomic.AddInt32(&d.opens, 1)
	return nil
}

func (d *memDriver) Close(devno Devno, mode int) error {
	atomic.AddInt32(&d.closes, 1)
	d.Lock()
	defer d.Unlock()
	return d.closeErr
}

func (d *memDriver) Strategy(bp *Buffer) error {
	d.Lock()
	refuse := d.refuse
	d.Unlock()
	if refuse {
		return blunder.NewError(blunder.NoDevAddrError, "refused")
	}
	if bp.IsWrite() {
		atomic.AddInt32(&d.writes, 1)
	} else {
		atomic.AddInt32(&d.reads, 1)
	}
	go d.complete(bp)
	return nil
}

func (d *memDriver) complete(bp *Buffer) {
	d.Lock()
	delay := d.delay
	d.Unlock()
	if 0 < delay {
		time.Sleep(delay)
	}

	d.Lock()
	switch {
	case nil != d.failWith:
		bp.SetError(d.failWith)
	case d.interrupt:
		bp.SetInterrupted()
	default:
		write := bp.IsWrite()
		for off := 0; off < bp.Nbytes; off += SectorSize {
			sector := bp.Blkno + int64(off/SectorSize)
			if write {
				d.sectors[sector] = append([]byte(nil), bp.Data[off:off+SectorSize]...)
			} else if data, ok := d.sectors[sector]; ok {
				copy(bp.Data[off:off+SectorSize], data)
			} else {
				copy(bp.Data[off:off+SectorSize], make([]byte, SectorSize))
			}
			bp.Nbytesrem -= SectorSize
		}
	}
	d.Unlock()

	Biodone(bp)
}

func (d *memDriver) sector(blkno int64) []byte {
	d.Lock()
	defer d.Unlock()
	return d.sectors[blkno]
}

func (d *memDriver) setSector(blkno int64, fill byte) {
	data := make([]byte, SectorSize)
	for i := range data {
		data[i] = fill
	}
	d.Lock()
	d.sectors[blkno] = data
	d.Unlock()
}

func filled(n int, fill byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = fill
	}
	return data
}

// testOps is a file-like capability set whose blocks live at blkOffset on
// the device devno.
type testOps struct {
	NotSupportedOps
	devno      Devno
	blkOffset  int64
	inactives  int32
	reclaims   int32
	fsyncs     int32
	strategies int32
}

func (ops *testOps) Strategy(bp *Buffer) error {
	atomic.AddInt32(&ops.strategies, 1)
	bp.Devno = ops.devno
	bp.Blkno = bp.Lblkno + ops.blkOffset
	return specStrategy(bp)
}

func (ops *testOps) Inactive(vp *Vnode) error {
	atomic.AddInt32(&ops.inactives, 1)
	Vunlock(vp)
	return nil
}

func (ops *testOps) Reclaim(vp *Vnode) error {
	atomic.AddInt32(&ops.reclaims, 1)
	return nil
}

func (ops *testOps) Fsync(vp *Vnode) error {
	atomic.AddInt32(&ops.fsyncs, 1)
	return nil
}

func newTestCache(t *testing.T, extraConf ...string) (cache *Cache, driver *memDriver) {
	confMap, err := conf.MakeConfMapFromStrings(extraConf)
	if nil != err {
		t.Fatalf("MakeConfMapFromStrings() failed: %v", err)
	}

	driver = newMemDriver()
	devsw := NewDevSwitch()
	err = devsw.RegisterBlock(testMajor, driver)
	if nil != err {
		t.Fatalf("RegisterBlock() failed: %v", err)
	}

	cache, err = New(confMap, devsw)
	if nil != err {
		t.Fatalf("New() failed: %v", err)
	}
	return
}

func closeTestCache(t *testing.T, cache *Cache) {
	assert := assert.New(t)

	assert.Equal(uint64(0), cache.BuffersInUse())
	assert.Equal(uint64(0), cache.DataBytesInUse())
	err := cache.Close()
	assert.Nil(err)
}

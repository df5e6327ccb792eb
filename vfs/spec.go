// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"container/list"
	"sync"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/logger"
	"github.com/NVIDIA/bufcache/slab"
	"github.com/NVIDIA/bufcache/trackedlock"
)

// Specinfo binds a device number to its unique device vnode.
type Specinfo struct {
	Devno Devno
	Vnode *Vnode

	element *list.Element
}

// SpecTable is the list of Specinfo records of a Cache. It is short; lookups
// scan it.
type SpecTable struct {
	lock  trackedlock.Mutex
	cond  *sync.Cond // on lock; signalled when a record is removed
	infos *list.List // of *Specinfo
	pool  *slab.Cache
}

func newSpecTable(pool *slab.Cache) (table *SpecTable) {
	table = &SpecTable{
		infos: list.New(),
		pool:  pool,
	}
	table.cond = sync.NewCond(&table.lock)
	return
}

// Find returns the record of devno, or nil.
func (table *SpecTable) Find(devno Devno) (si *Specinfo) {
	table.lock.Lock()
	si = table.find(devno)
	table.lock.Unlock()
	return
}

// Len returns the number of device vnodes.
func (table *SpecTable) Len() (count int) {
	table.lock.Lock()
	count = table.infos.Len()
	table.lock.Unlock()
	return
}

// Caller holds table.lock.
func (table *SpecTable) find(devno Devno) *Specinfo {
	for e := table.infos.Front(); nil != e; e = e.Next() {
		si := e.Value.(*Specinfo)
		if devno == si.Devno {
			return si
		}
	}
	return nil
}

func (table *SpecTable) remove(si *Specinfo) {
	table.lock.Lock()
	table.infos.Remove(si.element)
	si.element = nil
	si.Vnode = nil
	table.pool.Free(si)
	table.cond.Broadcast()
	table.lock.Unlock()
}

// SpecTable returns the device vnode table of cache.
func (cache *Cache) SpecTable() *SpecTable {
	return cache.specTable
}

// Bdevvp returns the block device vnode of devno, referenced and unlocked,
// creating it on first use.
func (cache *Cache) Bdevvp(devno Devno) (vp *Vnode, err error) {
	return cache.getdevvp(devno, VBlk)
}

// Cdevvp returns the char device vnode of devno, referenced and unlocked,
// creating it on first use.
func (cache *Cache) Cdevvp(devno Devno) (vp *Vnode, err error) {
	return cache.getdevvp(devno, VChr)
}

func (cache *Cache) getdevvp(devno Devno, vtype VType) (vp *Vnode, err error) {
	if NoDev == devno {
		err = blunder.NewError(blunder.NoDeviceError, "no vnode for NODEV")
		return
	}

	table := cache.specTable
	table.lock.Lock()

	for {
		si := table.find(devno)
		if nil == si {
			break
		}
		if vtype != si.Vnode.Type {
			table.lock.Unlock()
			err = blunder.NewError(blunder.DevBusyError, "device %v is in use as %v", devno, si.Vnode.Type)
			return
		}
		if VrefIfLive(si.Vnode) {
			vp = si.Vnode
			table.lock.Unlock()
			return
		}
		// Being reclaimed; wait for its record to go.
		table.cond.Wait()
	}

	obj, err := table.pool.Alloc()
	if nil != err {
		table.lock.Unlock()
		return
	}
	si := obj.(*Specinfo)

	vp, err = cache.Getnewvnode(nil, specOps)
	if nil != err {
		table.pool.Free(si)
		table.lock.Unlock()
		return
	}
	vp.Type = vtype
	vp.specinfo = si

	si.Devno = devno
	si.Vnode = vp
	si.element = table.infos.PushBack(si)

	table.lock.Unlock()

	cache.stats.SpecinfoCreates.Increment()
	logger.Tracef("new %v for device %v", vp, devno)
	return
}

// Vdev returns the device number of a device vnode, NoDev for any other.
func Vdev(vp *Vnode) Devno {
	if nil == vp.specinfo {
		return NoDev
	}
	return vp.specinfo.Devno
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"container/list"

	"go.uber.org/multierr"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/bucketstats"
	"github.com/NVIDIA/bufcache/conf"
	"github.com/NVIDIA/bufcache/logger"
	"github.com/NVIDIA/bufcache/slab"
	"github.com/NVIDIA/bufcache/trackedlock"
)

type cacheStats struct {
	BgetHits        bucketstats.Total
	BgetMisses      bucketstats.Total
	BgetSleeps      bucketstats.Total
	BufRecycles     bucketstats.Total
	BufDestroys     bucketstats.Total
	DeviceReads     bucketstats.Total
	DeviceWrites    bucketstats.Total
	DelayedWrites   bucketstats.Total
	IOErrors        bucketstats.Total
	Interrupts      bucketstats.Total
	OutOfMemory     bucketstats.Total
	BiowaitUsec     bucketstats.BucketLog2
	VnodeAllocs     bucketstats.Total
	VnodeReclaims   bucketstats.Total
	VinvalbufCalls  bucketstats.Total
	FlushedBuffers  bucketstats.Total
	SpecinfoCreates bucketstats.Total
}

// Cache is one instance of the buffer cache and vnode layer.
type Cache struct {
	config *Config

	// bioLock is the interlock for every Buffer's flags, every Vnode's
	// buffer list and noutputs. Held only briefly; never across a call into
	// a driver or file system.
	bioLock trackedlock.Mutex

	bufPool   *slab.Cache
	dataPool  *slab.PageAllocator
	vnodePool *slab.Cache
	specPool  *slab.Cache

	devsw     *DevSwitch
	specTable *SpecTable

	vnodeListLock trackedlock.Mutex
	vnodeList     *list.List // of *Vnode; every live vnode

	mountLock   trackedlock.Mutex
	mountList   *list.List // of *Mount
	fileSystems map[string]FileSystem

	stats cacheStats
}

// New creates a Cache configured from confMap (see Config) dispatching
// device I/O through devsw.
func New(confMap conf.ConfMap, devsw *DevSwitch) (cache *Cache, err error) {
	if nil == devsw {
		err = blunder.NewError(blunder.InvalidArgError, "vfs.New() requires a DevSwitch")
		return
	}

	config, err := ParseConfMap(confMap)
	if nil != err {
		return
	}

	cache = &Cache{
		config:      config,
		devsw:       devsw,
		vnodeList:   list.New(),
		mountList:   list.New(),
		fileSystems: make(map[string]FileSystem),
	}

	groupName := config.StatsGroupName

	cache.dataPool, err = slab.NewPageAllocator(groupName+"-data", config.PageSize, config.MaxDataBytes)
	if nil != err {
		cache = nil
		return
	}
	cache.bufPool = slab.NewCache(groupName+"-buf", &Buffer{}, config.MaxBuffers)
	cache.vnodePool = slab.NewCache(groupName+"-vnode", &Vnode{}, config.MaxVnodes)
	cache.specPool = slab.NewCache(groupName+"-specinfo", &Specinfo{}, 0)
	cache.specTable = newSpecTable(cache.specPool)

	bucketstats.Register("vfs", groupName, &cache.stats)

	logger.Infof("vfs cache %s up: PageSize %d MaxBuffers %d MaxDataBytes %d MaxVnodes %d",
		groupName, config.PageSize, config.MaxBuffers, config.MaxDataBytes, config.MaxVnodes)

	return
}

// Close tears down the Cache. Every vnode must have been released.
func (cache *Cache) Close() (err error) {
	cache.vnodeListLock.Lock()
	live := cache.vnodeList.Len()
	cache.vnodeListLock.Unlock()

	if 0 != live {
		err = blunder.NewError(blunder.DevBusyError, "vfs cache %s still has %d live vnodes",
			cache.config.StatsGroupName, live)
		return
	}

	bucketstats.UnRegister("vfs", cache.config.StatsGroupName)
	cache.bufPool.Destroy()
	cache.dataPool.Destroy()
	cache.vnodePool.Destroy()
	cache.specPool.Destroy()

	logger.Infof("vfs cache %s down", cache.config.StatsGroupName)
	return
}

func (cache *Cache) Config() Config {
	return *cache.config
}

func (cache *Cache) DevSwitch() *DevSwitch {
	return cache.devsw
}

// StatsGroupName is the bucketstats group ("vfs" package) of this Cache.
func (cache *Cache) StatsGroupName() string {
	return cache.config.StatsGroupName
}

// BuffersInUse returns the number of buffer descriptors allocated.
func (cache *Cache) BuffersInUse() uint64 {
	return cache.bufPool.InUse()
}

// VnodesInUse returns the number of vnodes not yet reclaimed.
func (cache *Cache) VnodesInUse() uint64 {
	return cache.vnodePool.InUse()
}

// DataBytesInUse returns the number of bytes of data regions allocated.
func (cache *Cache) DataBytesInUse() uint64 {
	return cache.dataPool.InUse()
}

// Sync writes back every dirty buffer of every live vnode, then asks every
// mounted file system to write its own metadata.
func (cache *Cache) Sync() (err error) {
	for _, vp := range cache.referenceLiveVnodes() {
		if !vp.hasDirtyBuffers() {
			Vrele(vp)
			continue
		}
		Vlock(vp)
		err = multierr.Append(err, VFlushBuf(vp))
		Vput(vp)
	}

	for _, mp := range cache.Mounts() {
		err = multierr.Append(err, mp.ops.Sync(mp))
	}
	return
}

// referenceLiveVnodes returns every live vnode with a reference taken on it.
// Vnodes already on their way to reclamation are skipped.
func (cache *Cache) referenceLiveVnodes() (vnodes []*Vnode) {
	cache.vnodeListLock.Lock()
	vnodes = make([]*Vnode, 0, cache.vnodeList.Len())
	for e := cache.vnodeList.Front(); nil != e; e = e.Next() {
		vp := e.Value.(*Vnode)
		if VrefIfLive(vp) {
			vnodes = append(vnodes, vp)
		}
	}
	cache.vnodeListLock.Unlock()
	return
}

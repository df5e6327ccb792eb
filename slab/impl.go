// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package slab

import (
	"fmt"
	"reflect"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/bucketstats"
	"github.com/NVIDIA/bufcache/logger"
	"github.com/NVIDIA/bufcache/trackedlock"
	"github.com/NVIDIA/bufcache/utils"
)

// regions of one size kept for reuse; beyond this they are left to the GC
const maxFreeRegionsPerSize = 64

type allocStats struct {
	Allocs    bucketstats.Total
	Frees     bucketstats.Total
	Reuses    bucketstats.Total
	Exhausted bucketstats.Total
}

type Cache struct {
	lock      trackedlock.Mutex
	name      string
	objType   reflect.Type
	limit     uint64
	freeList  []interface{}
	allocated map[interface{}]struct{}
	stats     allocStats
}

type PageAllocator struct {
	lock     trackedlock.Mutex
	name     string
	pageSize uint64
	limit    uint64
	used     uint64
	freeList map[uint64][][]byte // key is the number of pages
	stats    allocStats
}

func newCache(name string, objType reflect.Type, limit uint64) (cache *Cache) {
	cache = &Cache{
		name:      name,
		objType:   objType,
		limit:     limit,
		freeList:  make([]interface{}, 0),
		allocated: make(map[interface{}]struct{}),
	}

	bucketstats.Register("slab", name, &cache.stats)
	return
}

func (cache *Cache) alloc() (obj interface{}, err error) {
	cache.lock.Lock()

	if (0 != cache.limit) && (uint64(len(cache.allocated)) >= cache.limit) {
		cache.lock.Unlock()
		cache.stats.Exhausted.Increment()
		err = blunder.NewError(blunder.OutOfMemoryError, "slab cache %s exhausted (limit %d)", cache.name, cache.limit)
		return
	}

	freeLen := len(cache.freeList)
	if freeLen > 0 {
		obj = cache.freeList[freeLen-1]
		cache.freeList[freeLen-1] = nil
		cache.freeList = cache.freeList[:freeLen-1]
		cache.stats.Reuses.Increment()
	} else {
		obj = reflect.New(cache.objType).Interface()
	}
	cache.allocated[obj] = struct{}{}

	cache.lock.Unlock()

	// zero outside the lock; nobody else can reach obj yet
	reflect.ValueOf(obj).Elem().Set(reflect.Zero(cache.objType))

	cache.stats.Allocs.Increment()
	return
}

func (cache *Cache) free(obj interface{}) {
	cache.lock.Lock()

	_, ok := cache.allocated[obj]
	if !ok {
		cache.lock.Unlock()
		err := fmt.Errorf("object %T at %p was not allocated from slab cache %s", obj, obj, cache.name)
		logger.PanicfWithError(err, "%s: freeing foreign or already free object", utils.GetAFnName(2))
	}

	delete(cache.allocated, obj)
	cache.freeList = append(cache.freeList, obj)

	cache.lock.Unlock()

	cache.stats.Frees.Increment()
}

func (cache *Cache) inUse() (count uint64) {
	cache.lock.Lock()
	count = uint64(len(cache.allocated))
	cache.lock.Unlock()
	return
}

func (cache *Cache) destroy() {
	inUse := cache.inUse()
	if 0 != inUse {
		logger.Warnf("slab cache %s destroyed with %d objects in use", cache.name, inUse)
	}
	bucketstats.UnRegister("slab", cache.name)
}

func newPageAllocator(name string, pageSize uint64, limit uint64) (pageAllocator *PageAllocator, err error) {
	if !utils.IsPowerOfTwo(pageSize) {
		err = blunder.NewError(blunder.InvalidArgError, "page size %d is not a power of two", pageSize)
		return
	}

	pageAllocator = &PageAllocator{
		name:     name,
		pageSize: pageSize,
		limit:    limit,
		freeList: make(map[uint64][][]byte),
	}

	bucketstats.Register("slab", name, &pageAllocator.stats)
	return
}

func (pageAllocator *PageAllocator) alloc(nbytes int) (region []byte, err error) {
	if nbytes < 0 {
		err = blunder.NewError(blunder.InvalidArgError, "negative region size %d", nbytes)
		return
	}

	size := utils.RoundUp(uint64(nbytes), pageAllocator.pageSize)
	pages := size / pageAllocator.pageSize

	pageAllocator.lock.Lock()

	if (0 != pageAllocator.limit) && (pageAllocator.used+size > pageAllocator.limit) {
		pageAllocator.lock.Unlock()
		pageAllocator.stats.Exhausted.Increment()
		err = blunder.NewError(blunder.OutOfMemoryError, "page allocator %s exhausted: %d + %d bytes exceeds limit %d",
			pageAllocator.name, pageAllocator.used, size, pageAllocator.limit)
		return
	}
	pageAllocator.used += size

	freeRegions := pageAllocator.freeList[pages]
	if len(freeRegions) > 0 {
		region = freeRegions[len(freeRegions)-1]
		freeRegions[len(freeRegions)-1] = nil
		pageAllocator.freeList[pages] = freeRegions[:len(freeRegions)-1]
	}

	pageAllocator.lock.Unlock()

	if nil == region {
		region = make([]byte, size)
	} else {
		for i := range region {
			region[i] = 0
		}
		pageAllocator.stats.Reuses.Increment()
	}

	pageAllocator.stats.Allocs.Increment()
	return
}

func (pageAllocator *PageAllocator) free(region []byte) {
	size := uint64(cap(region))
	if (uint64(len(region)) != size) || (0 != size%pageAllocator.pageSize) {
		err := fmt.Errorf("region len %d cap %d is not a whole number of %d byte pages", len(region), cap(region), pageAllocator.pageSize)
		logger.PanicfWithError(err, "%s: freeing region not allocated from page allocator %s", utils.GetAFnName(2), pageAllocator.name)
	}

	pageAllocator.lock.Lock()

	if size > pageAllocator.used {
		pageAllocator.lock.Unlock()
		err := fmt.Errorf("freeing %d bytes with only %d in use", size, pageAllocator.used)
		logger.PanicfWithError(err, "page allocator %s: double free", pageAllocator.name)
	}
	pageAllocator.used -= size

	pages := size / pageAllocator.pageSize
	if (0 != pages) && (len(pageAllocator.freeList[pages]) < maxFreeRegionsPerSize) {
		pageAllocator.freeList[pages] = append(pageAllocator.freeList[pages], region)
	}

	pageAllocator.lock.Unlock()

	pageAllocator.stats.Frees.Increment()
}

func (pageAllocator *PageAllocator) inUse() (used uint64) {
	pageAllocator.lock.Lock()
	used = pageAllocator.used
	pageAllocator.lock.Unlock()
	return
}

func (pageAllocator *PageAllocator) destroy() {
	used := pageAllocator.inUse()
	if 0 != used {
		logger.Warnf("page allocator %s destroyed with %d bytes in use", pageAllocator.name, used)
	}
	bucketstats.UnRegister("slab", pageAllocator.name)
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package slab provides the two allocators the buffer cache is built on:
//
// A Cache hands out zero-initialized objects of one fixed type (buffer
// descriptors, vnodes, specinfo records) and takes them back when they are
// freed. Freed objects are kept on a free list and reused.
//
// A PageAllocator hands out data regions whose size is rounded up to a whole
// number of pages, again zeroed, keeping freed regions on per-size free
// lists.
//
// Either may be given a limit. Exhausting it is reported to the caller as
// blunder.OutOfMemoryError; it is never fatal by itself. Freeing something
// that was not allocated from the same allocator is a programming error and
// panics.
package slab

import (
	"reflect"
)

// NewCache returns a Cache of objects of proto's type, which must be a
// pointer to a struct. A limit of 0 means unlimited. name is used to
// register statistics and must be unique among live Caches.
func NewCache(name string, proto interface{}, limit uint64) (cache *Cache) {
	protoType := reflect.TypeOf(proto)
	if (nil == protoType) || (protoType.Kind() != reflect.Ptr) || (protoType.Elem().Kind() != reflect.Struct) {
		panic("slab.NewCache(): proto must be a pointer to a struct")
	}

	cache = newCache(name, protoType.Elem(), limit)
	return
}

// Alloc returns a zero-initialized object or blunder.OutOfMemoryError if
// limit objects are already allocated.
func (cache *Cache) Alloc() (obj interface{}, err error) {
	return cache.alloc()
}

// Free returns obj to the cache. obj must not be used afterwards.
func (cache *Cache) Free(obj interface{}) {
	cache.free(obj)
}

// InUse returns the number of objects allocated and not yet freed.
func (cache *Cache) InUse() uint64 {
	return cache.inUse()
}

// Destroy unregisters the cache's statistics. Objects still in use are
// reported but not reclaimed.
func (cache *Cache) Destroy() {
	cache.destroy()
}

// NewPageAllocator returns a PageAllocator handing out multiples of
// pageSize, which must be a power of two. A limit of 0 means unlimited;
// otherwise at most limit bytes (after rounding) are outstanding at once.
func NewPageAllocator(name string, pageSize uint64, limit uint64) (pageAllocator *PageAllocator, err error) {
	return newPageAllocator(name, pageSize, limit)
}

// Alloc returns a zeroed region of nbytes rounded up to the page size.
func (pageAllocator *PageAllocator) Alloc(nbytes int) (region []byte, err error) {
	return pageAllocator.alloc(nbytes)
}

// Free returns a region obtained from Alloc.
func (pageAllocator *PageAllocator) Free(region []byte) {
	pageAllocator.free(region)
}

// InUse returns the number of bytes handed out and not yet freed.
func (pageAllocator *PageAllocator) InUse() uint64 {
	return pageAllocator.inUse()
}

func (pageAllocator *PageAllocator) PageSize() uint64 {
	return pageAllocator.pageSize
}

func (pageAllocator *PageAllocator) Destroy() {
	pageAllocator.destroy()
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package slab

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/bufcache/blunder"
)

type testObj struct {
	id    int
	data  []byte
	inUse bool
}

func TestCache(t *testing.T) {
	assert := assert.New(t)

	cache := NewCache("TestCache", &testObj{}, 2)
	defer cache.Destroy()

	obj1, err := cache.Alloc()
	if !assert.Nil(err) {
		return
	}
	o1 := obj1.(*testObj)
	assert.Equal(testObj{}, *o1)
	o1.id = 7
	o1.data = []byte("stale")
	o1.inUse = true

	obj2, err := cache.Alloc()
	assert.Nil(err)
	assert.Equal(uint64(2), cache.InUse())

	_, err = cache.Alloc()
	assert.True(blunder.Is(err, blunder.OutOfMemoryError))

	cache.Free(obj1)
	assert.Equal(uint64(1), cache.InUse())

	// freed descriptors are reused, zeroed
	obj3, err := cache.Alloc()
	assert.Nil(err)
	assert.True(obj3 == obj1)
	assert.Equal(testObj{}, *obj3.(*testObj))

	cache.Free(obj2)
	cache.Free(obj3)
	assert.Equal(uint64(0), cache.InUse())

	assert.Panics(func() { cache.Free(obj3) }, "double free")
	assert.Panics(func() { cache.Free(&testObj{}) }, "foreign object")
	assert.Panics(func() { NewCache("notapointer", testObj{}, 0) })
}

func TestCacheConcurrent(t *testing.T) {
	assert := assert.New(t)

	cache := NewCache("TestCacheConcurrent", &testObj{}, 0)
	defer cache.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				obj, err := cache.Alloc()
				if nil != err {
					t.Errorf("Alloc() failed: %v", err)
					return
				}
				o := obj.(*testObj)
				if (0 != o.id) || o.inUse {
					t.Errorf("Alloc() returned dirty object %+v", o)
				}
				o.id = id
				o.inUse = true
				cache.Free(obj)
			}
		}(i + 1)
	}
	wg.Wait()

	assert.Equal(uint64(0), cache.InUse())
}

func TestPageAllocator(t *testing.T) {
	assert := assert.New(t)

	_, err := NewPageAllocator("TestPageAllocatorBad", 3000, 0)
	assert.True(blunder.Is(err, blunder.InvalidArgError))

	pa, err := NewPageAllocator("TestPageAllocator", 4096, 3*4096)
	if !assert.Nil(err) {
		return
	}
	defer pa.Destroy()
	assert.Equal(uint64(4096), pa.PageSize())

	r1, err := pa.Alloc(512)
	assert.Nil(err)
	assert.Equal(4096, len(r1))
	assert.Equal(4096, cap(r1))
	for i := range r1 {
		r1[i] = 0xAA
	}

	r2, err := pa.Alloc(4097)
	assert.Nil(err)
	assert.Equal(8192, len(r2))
	assert.Equal(uint64(3*4096), pa.InUse())

	_, err = pa.Alloc(1)
	assert.True(blunder.Is(err, blunder.OutOfMemoryError))

	pa.Free(r1)
	assert.Equal(uint64(2*4096), pa.InUse())

	// reused region comes back zeroed
	r3, err := pa.Alloc(100)
	assert.Nil(err)
	assert.Equal(make([]byte, 4096), r3)

	assert.Panics(func() { pa.Free(r3[:512]) }, "partial region")

	pa.Free(r2)
	pa.Free(r3)
	assert.Equal(uint64(0), pa.InUse())

	assert.Panics(func() { pa.Free(make([]byte, 4096)) }, "nothing in use")

	empty, err := pa.Alloc(0)
	assert.Nil(err)
	assert.Equal(0, len(empty))
	pa.Free(empty)

	_, err = pa.Alloc(-1)
	assert.True(blunder.Is(err, blunder.InvalidArgError))
}

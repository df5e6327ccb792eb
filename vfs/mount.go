// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"container/list"

	"go.uber.org/multierr"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/logger"
	"github.com/NVIDIA/bufcache/trackedlock"
)

// FileSystem is a file system type that can be mounted on a block device.
type FileSystem interface {
	Name() string
	// Mount reads the file system on devvp (referenced, unlocked) and
	// returns the Mount made with NewMount(). On success the Mount owns the
	// reference on devvp.
	Mount(cache *Cache, devvp *Vnode) (mp *Mount, err error)
}

// MountOps is the capability set of a mounted file system.
type MountOps interface {
	// Root returns the root directory vnode referenced and locked.
	Root(mp *Mount) (vp *Vnode, err error)
	// Vget returns the vnode of inode number ino referenced and locked.
	Vget(mp *Mount, ino uint64) (vp *Vnode, err error)
	// Sync writes the file system's metadata.
	Sync(mp *Mount) (err error)
	// Unmount writes everything back, releases the file system's vnodes and
	// devvp. It fails with blunder.DevBusyError while files are in use.
	Unmount(mp *Mount) (err error)
}

// Mount is one mounted file system.
type Mount struct {
	FSName string
	Devvp  *Vnode
	Data   interface{} // file system private state

	cache     *Cache
	ops       MountOps
	vnodeLock trackedlock.Mutex
	vnodes    *list.List // of *Vnode; see insmntque()
	element   *list.Element
}

// NewMount makes a Mount of the file system fsName on devvp and adds it to
// the mount list. Called from FileSystem.Mount().
func (cache *Cache) NewMount(fsName string, ops MountOps, devvp *Vnode, data interface{}) (mp *Mount) {
	mp = &Mount{
		FSName: fsName,
		Devvp:  devvp,
		Data:   data,
		cache:  cache,
		ops:    ops,
		vnodes: list.New(),
	}

	cache.mountLock.Lock()
	mp.element = cache.mountList.PushBack(mp)
	cache.mountLock.Unlock()

	logger.Infof("mounted %s on %v", fsName, Vdev(devvp))
	return
}

func (mp *Mount) Ops() MountOps {
	return mp.ops
}

func (mp *Mount) Cache() *Cache {
	return mp.cache
}

// NumVnodes returns the number of live vnodes of mp.
func (mp *Mount) NumVnodes() (count int) {
	mp.vnodeLock.Lock()
	count = mp.vnodes.Len()
	mp.vnodeLock.Unlock()
	return
}

// Mounts returns the current mounts.
func (cache *Cache) Mounts() (mounts []*Mount) {
	cache.mountLock.Lock()
	mounts = make([]*Mount, 0, cache.mountList.Len())
	for e := cache.mountList.Front(); nil != e; e = e.Next() {
		mounts = append(mounts, e.Value.(*Mount))
	}
	cache.mountLock.Unlock()
	return
}

func (cache *Cache) RegisterFS(fs FileSystem) (err error) {
	cache.mountLock.Lock()
	defer cache.mountLock.Unlock()

	if _, ok := cache.fileSystems[fs.Name()]; ok {
		err = blunder.NewError(blunder.FileExistsError, "file system %s already registered", fs.Name())
		return
	}
	cache.fileSystems[fs.Name()] = fs
	return
}

func (cache *Cache) FindFS(name string) (fs FileSystem, err error) {
	cache.mountLock.Lock()
	fs, ok := cache.fileSystems[name]
	cache.mountLock.Unlock()
	if !ok {
		err = blunder.NewError(blunder.NotFoundError, "no file system %s", name)
	}
	return
}

// MountFS mounts the registered file system name on the block device devno.
func (cache *Cache) MountFS(name string, devno Devno) (mp *Mount, err error) {
	fs, err := cache.FindFS(name)
	if nil != err {
		return
	}

	devvp, err := cache.Bdevvp(devno)
	if nil != err {
		return
	}

	err = devvp.ops.Open(devvp, 0)
	if nil != err {
		Vrele(devvp)
		return
	}

	mp, err = fs.Mount(cache, devvp)
	if nil != err {
		err = multierr.Append(err, devvp.ops.Close(devvp, 0))
		Vrele(devvp)
	}
	return
}

// Unmount unmounts mp, which then leaves the mount list.
func (cache *Cache) Unmount(mp *Mount) (err error) {
	err = mp.ops.Unmount(mp)
	if nil != err {
		return
	}

	cache.FreeMount(mp)
	logger.Infof("unmounted %s", mp.FSName)
	return
}

// FreeMount takes mp off the mount list. A FileSystem.Mount() that fails
// after NewMount() calls it before returning.
func (cache *Cache) FreeMount(mp *Mount) {
	cache.mountLock.Lock()
	if nil != mp.element {
		cache.mountList.Remove(mp.element)
		mp.element = nil
	}
	cache.mountLock.Unlock()
}

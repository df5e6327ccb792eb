// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package flatfs

import (
	"sync"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/bucketstats"
	"github.com/NVIDIA/bufcache/logger"
	"github.com/NVIDIA/bufcache/trackedlock"
	"github.com/NVIDIA/bufcache/vfs"
)

type mountStats struct {
	HashHits    bucketstats.Total
	HashMisses  bucketstats.Total
	HashRetries bucketstats.Total
	InodeReads  bucketstats.Total
	InodeWrites bucketstats.Total
	InodeAllocs bucketstats.Total
	InodeFrees  bucketstats.Total
	Lookups     bucketstats.Total
}

// mount is the private state of a mounted flatfs (vfs.Mount.Data).
type mount struct {
	fs             *FS
	mp             *vfs.Mount
	devvp          *vfs.Vnode
	sb             superBlock
	rootvp         *vfs.Vnode // referenced for the life of the mount
	statsGroupName string

	allocLock trackedlock.Mutex // serializes inode table scans

	// hash maps inode numbers to their vnodes. An entry stays until the
	// vnode's Reclaim(); hashCond is signalled when one is removed.
	hashLock trackedlock.Mutex
	hashCond *sync.Cond
	hash     map[uint32]*vfs.Vnode

	stats mountStats
}

// inode is the private state of a flatfs vnode (vfs.Vnode.Data), protected
// by the vnode's lock.
type inode struct {
	m     *mount
	ino   uint32
	d     onDiskInode
	dirty bool // d differs from the inode table
}

func vtoi(vp *vfs.Vnode) *inode {
	ip, _ := vp.Data.(*inode)
	return ip
}

func (m *mount) readDinode(ino uint32) (d onDiskInode, err error) {
	b, offset := m.sb.inodeBlock(ino)

	bp, err := vfs.Bread(m.devvp, devBlkno(b), BlockSize, false)
	if nil == err {
		err = unpack(bp.Data[offset:offset+inodeSize], &d)
	}
	vfs.Brelse(bp)

	m.stats.InodeReads.Increment()
	return
}

func (m *mount) writeDinode(ino uint32, d *onDiskInode) (err error) {
	b, offset := m.sb.inodeBlock(ino)

	bp, err := vfs.Bread(m.devvp, devBlkno(b), BlockSize, false)
	if nil == err {
		err = pack(d, bp.Data[offset:offset+inodeSize])
		if nil == err {
			err = vfs.Bwrite(bp)
		}
	}
	vfs.Brelse(bp)

	m.stats.InodeWrites.Increment()
	return
}

// update writes ip back to the inode table if it changed. Caller holds the
// vnode lock.
func (ip *inode) update() (err error) {
	if !ip.dirty {
		return
	}
	err = ip.m.writeDinode(ip.ino, &ip.d)
	if nil == err {
		ip.dirty = false
	}
	return
}

// allocInode claims the lowest free inode for a new object of mode.
func (m *mount) allocInode(mode uint32, nlink uint32) (ino uint32, err error) {
	m.allocLock.Lock()
	defer m.allocLock.Unlock()

	for ino = RootIno + 1; ino < m.sb.Inodes; ino++ {
		var d onDiskInode
		d, err = m.readDinode(ino)
		if nil != err {
			return
		}
		if modeFree != d.Mode {
			continue
		}
		d = onDiskInode{
			Mode:       mode,
			Nlink:      nlink,
			Generation: d.Generation + 1,
		}
		err = m.writeDinode(ino, &d)
		if nil == err {
			m.stats.InodeAllocs.Increment()
		}
		return
	}

	err = blunder.NewError(blunder.NoSpaceError, "flatfs on %v has no free inode", vfs.Vdev(m.devvp))
	return
}

// freeInode returns ip's inode to the free pool. Caller holds the vnode
// lock; ip must no longer be named by any directory.
func (ip *inode) free() (err error) {
	ip.d = onDiskInode{Generation: ip.d.Generation}
	ip.dirty = true
	err = ip.update()
	if nil == err {
		ip.m.stats.InodeFrees.Increment()
		logger.Tracef("flatfs freed inode %d", ip.ino)
	}
	return
}

func opsFor(mode uint32) (ops vfs.Ops, vtype vfs.VType) {
	switch mode {
	case modeReg:
		return regularOps, vfs.VReg
	case modeDir:
		return directoryOps, vfs.VDir
	}
	return nil, vfs.VBad
}

// vget returns the vnode of ino referenced and locked, reading the inode if
// it has no vnode yet. A vnode being reclaimed is waited out so that ino
// never has two vnodes.
func (m *mount) vget(ino uint32) (vp *vfs.Vnode, err error) {
	if (RootIno > ino) || (ino >= m.sb.Inodes) {
		err = blunder.NewError(blunder.NotFoundError, "flatfs has no inode %d", ino)
		return
	}

	for {
		m.hashLock.Lock()
		found, ok := m.hash[ino]
		if ok {
			if vfs.VrefIfLive(found) {
				m.hashLock.Unlock()
				m.stats.HashHits.Increment()
				vfs.Vlock(found)
				vp = found
				return
			}
			m.stats.HashRetries.Increment()
			m.hashCond.Wait()
			m.hashLock.Unlock()
			continue
		}
		m.hashLock.Unlock()

		m.stats.HashMisses.Increment()

		var d onDiskInode
		d, err = m.readDinode(ino)
		if nil != err {
			return
		}
		ops, vtype := opsFor(d.Mode)
		if nil == ops {
			err = blunder.NewError(blunder.NotFoundError, "flatfs inode %d is not in use", ino)
			return
		}

		vp, err = m.mp.Cache().Getnewvnode(m.mp, ops)
		if nil != err {
			return
		}
		vp.Type = vtype
		vfs.Vlock(vp)

		m.hashLock.Lock()
		if _, raced := m.hash[ino]; raced {
			m.hashLock.Unlock()
			vfs.Vput(vp)
			vp = nil
			continue
		}
		vp.Data = &inode{m: m, ino: ino, d: d}
		m.hash[ino] = vp
		m.hashLock.Unlock()
		return
	}
}

// unhash removes ip's vnode from the hash once it is being reclaimed.
func (ip *inode) unhash(vp *vfs.Vnode) {
	m := ip.m

	m.hashLock.Lock()
	if m.hash[ip.ino] == vp {
		delete(m.hash, ip.ino)
	}
	m.hashCond.Broadcast()
	m.hashLock.Unlock()
}

// hashedVnodes returns every live hashed vnode, each with a reference.
func (m *mount) hashedVnodes() (vnodes []*vfs.Vnode) {
	m.hashLock.Lock()
	vnodes = make([]*vfs.Vnode, 0, len(m.hash))
	for _, vp := range m.hash {
		if vfs.VrefIfLive(vp) {
			vnodes = append(vnodes, vp)
		}
	}
	m.hashLock.Unlock()
	return
}

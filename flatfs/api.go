// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package flatfs is a small file system built on the vfs buffer cache.
//
// Every inode owns a fixed contiguous extent of [FlatFS]ExtentBlocks blocks,
// so block mapping is arithmetic and a file can never grow past its extent.
// Directories are flat arrays of fixed size entries. Metadata (superblock,
// inode table, directory blocks) is read and written through the buffer
// cache of the device vnode; file data through the buffer cache of the file
// vnode, whose strategy maps each block and hands it to the device vnode.
//
// Typical configuration:
//
//   [FlatFS]
//   Inodes:       64
//   ExtentBlocks: 8
package flatfs

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/bucketstats"
	"github.com/NVIDIA/bufcache/conf"
	"github.com/NVIDIA/bufcache/logger"
	"github.com/NVIDIA/bufcache/vfs"
)

// Name is the name flatfs registers under.
const Name = "flatfs"

// FS is the flatfs file system type. It implements vfs.FileSystem and
// vfs.MountOps.
type FS struct {
	config *Config
}

// Stat describes a flatfs vnode.
type Stat struct {
	Ino        uint64
	Type       vfs.VType
	Nlink      uint32
	Size       uint64
	Generation uint64
}

// DirEntry is one name in a directory.
type DirEntry struct {
	Name string
	Ino  uint64
}

var mountInstance uint64

// New returns the flatfs file system type, formatting with the [FlatFS]
// parameters of confMap.
func New(confMap conf.ConfMap) (fs *FS, err error) {
	err = checkLayout()
	if nil != err {
		return
	}

	config, err := ParseConfMap(confMap)
	if nil != err {
		return
	}

	fs = &FS{config: config}
	return
}

func (fs *FS) Name() string {
	return Name
}

func (fs *FS) Config() Config {
	return *fs.config
}

// Format writes an empty flatfs holding only its root directory to the
// block device devno. It fails with blunder.NoSpaceError if the device is
// too small.
func (fs *FS) Format(cache *vfs.Cache, devno vfs.Devno) (err error) {
	devvp, err := cache.Bdevvp(devno)
	if nil != err {
		return
	}
	defer vfs.Vrele(devvp)

	err = devvp.Ops().Open(devvp, 0)
	if nil != err {
		return
	}
	defer func() {
		err = multierr.Append(err, devvp.Ops().Close(devvp, 0))
	}()

	sb := layoutFor(fs.config)

	// the last block must exist
	bp, err := vfs.Bread(devvp, devBlkno(sb.TotalBlocks-1), BlockSize, false)
	vfs.Brelse(bp)
	if nil != err {
		err = blunder.AddError(err, blunder.NoSpaceError)
		return
	}

	err = formatBlock(devvp, 0, func(data []byte) error {
		return pack(&sb, data[:superSize])
	})
	if nil != err {
		return
	}

	rootBlock, rootOffset := sb.inodeBlock(RootIno)
	for b := sb.InodeTableStart; b < sb.DataStart; b++ {
		err = formatBlock(devvp, b, func(data []byte) error {
			if rootBlock != b {
				return nil
			}
			root := onDiskInode{
				Mode:       modeDir,
				Nlink:      2,
				Size:       2 * direntSize,
				Generation: 1,
			}
			return pack(&root, data[rootOffset:rootOffset+inodeSize])
		})
		if nil != err {
			return
		}
	}

	err = formatBlock(devvp, sb.extentStart(RootIno), func(data []byte) (err error) {
		dot := newDirent(RootIno, ".")
		dotdot := newDirent(RootIno, "..")
		err = pack(&dot, data[:direntSize])
		if nil == err {
			err = pack(&dotdot, data[direntSize:2*direntSize])
		}
		return
	})
	if nil != err {
		return
	}

	logger.Infof("formatted flatfs on %v: %d inodes of %d blocks, %d blocks total",
		devno, sb.Inodes, sb.ExtentBlocks, sb.TotalBlocks)
	return
}

// formatBlock writes block b of devvp as zeroes filled in by fill.
func formatBlock(devvp *vfs.Vnode, b uint64, fill func(data []byte) error) (err error) {
	bp, err := vfs.Bget(devvp, devBlkno(b), BlockSize, false)
	if nil != err {
		return
	}
	for i := range bp.Data {
		bp.Data[i] = 0
	}
	err = fill(bp.Data)
	if nil == err {
		err = vfs.Bwrite(bp)
	}
	vfs.Brelse(bp)
	return
}

// Mount implements vfs.FileSystem.
func (fs *FS) Mount(cache *vfs.Cache, devvp *vfs.Vnode) (mp *vfs.Mount, err error) {
	m := &mount{
		fs:    fs,
		devvp: devvp,
		hash:  make(map[uint32]*vfs.Vnode),
	}
	m.hashCond = sync.NewCond(&m.hashLock)

	bp, err := vfs.Bread(devvp, 0, BlockSize, false)
	if nil == err {
		err = unpack(bp.Data[:superSize], &m.sb)
	}
	vfs.Brelse(bp)
	if nil != err {
		return
	}
	err = m.sb.validate()
	if nil != err {
		return
	}

	m.statsGroupName = fmt.Sprintf("flatfs%d", atomic.AddUint64(&mountInstance, 1)-1)
	bucketstats.Register("flatfs", m.statsGroupName, &m.stats)

	m.mp = cache.NewMount(Name, fs, devvp, m)

	m.rootvp, err = m.vget(RootIno)
	if nil != err {
		cache.FreeMount(m.mp)
		bucketstats.UnRegister("flatfs", m.statsGroupName)
		mp = nil
		return
	}
	if vfs.VDir != m.rootvp.Type {
		vfs.Vput(m.rootvp)
		cache.FreeMount(m.mp)
		bucketstats.UnRegister("flatfs", m.statsGroupName)
		err = blunder.NewError(blunder.NotDirError, "flatfs root inode is not a directory")
		return
	}
	vfs.SetRoot(m.rootvp)
	vfs.Vunlock(m.rootvp)

	mp = m.mp
	return
}

func (fs *FS) Root(mp *vfs.Mount) (vp *vfs.Vnode, err error) {
	vp = mp.Data.(*mount).rootvp
	vfs.Vget(vp)
	return
}

func (fs *FS) Vget(mp *vfs.Mount, ino uint64) (vp *vfs.Vnode, err error) {
	if ino > maxInodes {
		err = blunder.NewError(blunder.NotFoundError, "flatfs has no inode %d", ino)
		return
	}
	return mp.Data.(*mount).vget(uint32(ino))
}

// Sync writes back the inode of every vnode of mp.
func (fs *FS) Sync(mp *vfs.Mount) (err error) {
	for _, vp := range mp.Data.(*mount).hashedVnodes() {
		vfs.Vlock(vp)
		err = multierr.Append(err, vp.Ops().Fsync(vp))
		vfs.Vput(vp)
	}
	return
}

// Unmount fails with blunder.DevBusyError while any vnode besides the root,
// or any other reference to the root, remains.
func (fs *FS) Unmount(mp *vfs.Mount) (err error) {
	m := mp.Data.(*mount)

	if (1 < mp.NumVnodes()) || (1 < m.rootvp.Refs()) {
		err = blunder.NewError(blunder.DevBusyError, "flatfs on %v is busy", vfs.Vdev(m.devvp))
		return
	}

	vfs.Vrele(m.rootvp)
	m.rootvp = nil

	err = m.devvp.Ops().Close(m.devvp, 0)
	vfs.Vrele(m.devvp)

	bucketstats.UnRegister("flatfs", m.statsGroupName)
	return
}

// GetStat describes the locked vnode vp.
func GetStat(vp *vfs.Vnode) (stat Stat, err error) {
	ip := vtoi(vp)
	if nil == ip {
		err = blunder.NewError(blunder.InvalidArgError, "%v is not a flatfs vnode", vp)
		return
	}
	stat = Stat{
		Ino:        uint64(ip.ino),
		Type:       vp.Type,
		Nlink:      ip.d.Nlink,
		Size:       ip.d.Size,
		Generation: ip.d.Generation,
	}
	return
}

// ReadDir lists the locked directory dvp, "." and ".." included.
func ReadDir(dvp *vfs.Vnode) (entries []DirEntry, err error) {
	if (nil == vtoi(dvp)) || (vfs.VDir != dvp.Type) {
		err = blunder.NewError(blunder.NotDirError, "%v is not a flatfs directory", dvp)
		return
	}
	err = forEachEntry(dvp, func(slot int64, de *onDiskDirent) bool {
		if 0 != de.Ino {
			entries = append(entries, DirEntry{Name: de.name(), Ino: uint64(de.Ino)})
		}
		return false
	})
	return
}

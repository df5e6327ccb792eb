// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package flatfs

import (
	"strings"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/vfs"
)

// IOSync asks Write() to write each block before returning.
const IOSync = 0x1

// commonOps are the capabilities shared by regular files and directories.
type commonOps struct {
	vfs.NotSupportedOps
}

type regularFileOps struct {
	commonOps
}

// dirOps implement name space operations. Link() and Remove() expect both
// dvp and vp locked; dvp is always locked before any vnode it names.
type dirOps struct {
	commonOps
}

var (
	regularOps   = &regularFileOps{}
	directoryOps = &dirOps{}
)

func (*commonOps) Open(vp *vfs.Vnode, mode int) error {
	return nil
}

func (*commonOps) Close(vp *vfs.Vnode, mode int) error {
	return nil
}

func (*commonOps) Access(vp *vfs.Vnode, acc int) error {
	return nil
}

// Inactive frees the inode of an unlinked vnode, otherwise writes back its
// inode, and unlocks vp.
func (*commonOps) Inactive(vp *vfs.Vnode) (err error) {
	ip := vtoi(vp)
	if (nil != ip) && (modeFree != ip.d.Mode) {
		if 0 == ip.d.Nlink {
			err = ip.free()
		} else {
			err = ip.update()
		}
	}
	vfs.Vunlock(vp)
	return
}

func (*commonOps) Reclaim(vp *vfs.Vnode) error {
	ip := vtoi(vp)
	if nil != ip {
		ip.unhash(vp)
		vp.Data = nil
	}
	return nil
}

func (*commonOps) Fsync(vp *vfs.Vnode) error {
	ip := vtoi(vp)
	if nil == ip {
		return nil
	}
	return ip.update()
}

// Bmap maps lblkno into the inode's extent. There are no holes and no
// indirection; blocks past the extent do not exist.
func (*commonOps) Bmap(vp *vfs.Vnode, lblkno int64) (devvp *vfs.Vnode, blkno int64, run int, err error) {
	ip := vtoi(vp)
	blkno = vfs.BlknoInvalid
	if nil == ip {
		err = blunder.NewError(blunder.InvalidArgError, "Bmap() of reclaimed %v", vp)
		return
	}

	sb := &ip.m.sb
	if (0 > lblkno) || (lblkno >= int64(sb.ExtentBlocks)) {
		err = blunder.NewError(blunder.TooBigError, "block %d past the %d block extent of inode %d", lblkno, sb.ExtentBlocks, ip.ino)
		return
	}

	devvp = ip.m.devvp
	blkno = devBlkno(sb.extentStart(ip.ino) + uint64(lblkno))
	run = int(int64(sb.ExtentBlocks) - lblkno - 1)
	return
}

// Strategy points bp at its device block and passes it to the device vnode.
func (ops *commonOps) Strategy(bp *vfs.Buffer) (err error) {
	devvp, blkno, _, err := ops.Bmap(bp.Vnode, bp.Lblkno)
	if nil != err {
		return
	}
	bp.Devno = vfs.Vdev(devvp)
	bp.Blkno = blkno
	return devvp.Ops().Strategy(bp)
}

func (*regularFileOps) Read(vp *vfs.Vnode, uio *vfs.Uio, ioflags int) (err error) {
	if vfs.UioRead != uio.Rw {
		return blunder.NewError(blunder.InvalidArgError, "Read() given a write uio")
	}
	if 0 > uio.Offset {
		return blunder.NewError(blunder.InvalidArgError, "Read() at offset %d", uio.Offset)
	}

	ip := vtoi(vp)
	size := int64(ip.d.Size)

	for (0 < uio.Resid) && (uio.Offset < size) {
		lblkno := uio.Offset / BlockSize
		on := int(uio.Offset % BlockSize)
		n := BlockSize - on
		if n > uio.Resid {
			n = uio.Resid
		}
		if int64(n) > size-uio.Offset {
			n = int(size - uio.Offset)
		}

		var bp *vfs.Buffer
		bp, err = vfs.Bread(vp, lblkno, BlockSize, true)
		if nil == err {
			err = vfs.Uiomove(bp.Data[on:on+n], n, uio)
		}
		vfs.Brelse(bp)
		if nil != err {
			return
		}
	}
	return
}

// Write extends the file as needed, zero filling any gap left past the old
// end. Blocks are written back later unless ioflags has IOSync.
func (*regularFileOps) Write(vp *vfs.Vnode, uio *vfs.Uio, ioflags int) (err error) {
	if vfs.UioWrite != uio.Rw {
		return blunder.NewError(blunder.InvalidArgError, "Write() given a read uio")
	}
	if 0 > uio.Offset {
		return blunder.NewError(blunder.InvalidArgError, "Write() at offset %d", uio.Offset)
	}

	ip := vtoi(vp)
	if uio.Offset+int64(uio.Resid) > ip.m.sb.extentBytes() {
		return blunder.NewError(blunder.FileTooLargeError, "inode %d holds at most %d bytes", ip.ino, ip.m.sb.extentBytes())
	}

	if uio.Offset > int64(ip.d.Size) {
		err = zeroFill(vp, ip, int64(ip.d.Size), uio.Offset, ioflags)
		if nil != err {
			return
		}
	}

	for 0 < uio.Resid {
		lblkno := uio.Offset / BlockSize
		on := int(uio.Offset % BlockSize)
		n := BlockSize - on
		if n > uio.Resid {
			n = uio.Resid
		}

		var bp *vfs.Buffer
		bp, err = fileBlock(vp, ip, lblkno, (0 == on) && (BlockSize == n))
		if nil != err {
			vfs.Brelse(bp)
			return
		}
		err = vfs.Uiomove(bp.Data[on:on+n], n, uio)
		if nil != err {
			vfs.Brelse(bp)
			return
		}
		err = writeBlock(bp, ioflags)
		if nil != err {
			return
		}

		if uint64(uio.Offset) > ip.d.Size {
			ip.d.Size = uint64(uio.Offset)
			ip.dirty = true
		}
	}

	if 0 != ioflags&IOSync {
		err = ip.update()
	}
	return
}

// fileBlock returns the busy buffer for lblkno of the locked file vp, with
// valid contents unless overwrite says all of it is about to be replaced.
// Blocks wholly past the end of the file are zeroed rather than read.
func fileBlock(vp *vfs.Vnode, ip *inode, lblkno int64, overwrite bool) (bp *vfs.Buffer, err error) {
	if !overwrite && (lblkno*BlockSize < int64(ip.d.Size)) {
		return vfs.Bread(vp, lblkno, BlockSize, true)
	}

	bp, err = vfs.Bget(vp, lblkno, BlockSize, true)
	if (nil == err) && bp.IsInvalid() {
		for i := range bp.Data {
			bp.Data[i] = 0
		}
	}
	return
}

func writeBlock(bp *vfs.Buffer, ioflags int) (err error) {
	if 0 != ioflags&IOSync {
		err = vfs.Bwrite(bp)
		vfs.Brelse(bp)
		return
	}
	vfs.Bdwrite(bp)
	return
}

// zeroFill zeroes [from,to) of the locked file vp and extends it to to.
func zeroFill(vp *vfs.Vnode, ip *inode, from int64, to int64, ioflags int) (err error) {
	for from < to {
		lblkno := from / BlockSize
		on := int(from % BlockSize)
		n := BlockSize - on
		if int64(n) > to-from {
			n = int(to - from)
		}

		var bp *vfs.Buffer
		bp, err = fileBlock(vp, ip, lblkno, false)
		if nil != err {
			vfs.Brelse(bp)
			return
		}
		for i := on; i < on+n; i++ {
			bp.Data[i] = 0
		}
		err = writeBlock(bp, ioflags)
		if nil != err {
			return
		}

		from += int64(n)
		ip.d.Size = uint64(from)
		ip.dirty = true
	}
	return
}

// forEachEntry calls visit with each directory entry slot of the locked
// directory dvp, in use or not, until visit returns true.
func forEachEntry(dvp *vfs.Vnode, visit func(slot int64, de *onDiskDirent) (stop bool)) (err error) {
	ip := vtoi(dvp)
	size := int64(ip.d.Size)

	for blockOffset := int64(0); blockOffset < size; blockOffset += BlockSize {
		var bp *vfs.Buffer
		bp, err = vfs.Bread(dvp, blockOffset/BlockSize, BlockSize, true)
		if nil != err {
			vfs.Brelse(bp)
			return
		}

		stop := false
		for on := int64(0); (on < BlockSize) && (blockOffset+on < size); on += direntSize {
			var de onDiskDirent
			err = unpack(bp.Data[on:on+direntSize], &de)
			if nil != err {
				break
			}
			if visit(blockOffset+on, &de) {
				stop = true
				break
			}
		}
		vfs.Brelse(bp)
		if (nil != err) || stop {
			return
		}
	}
	return
}

// dirLookup returns the slot and inode of name in the locked directory dvp.
func dirLookup(dvp *vfs.Vnode, name string) (slot int64, ino uint32, err error) {
	err = forEachEntry(dvp, func(s int64, de *onDiskDirent) bool {
		if (0 != de.Ino) && (name == de.name()) {
			slot = s
			ino = de.Ino
			return true
		}
		return false
	})
	if (nil == err) && (0 == ino) {
		err = blunder.NewError(blunder.NotFoundError, "%s not found", name)
	}
	return
}

// writeEntry stores de in slot of the locked directory dvp, growing it if
// slot is its end.
func writeEntry(dvp *vfs.Vnode, slot int64, de *onDiskDirent) (err error) {
	ip := vtoi(dvp)

	if slot+direntSize > ip.m.sb.extentBytes() {
		err = blunder.NewError(blunder.NoSpaceError, "directory inode %d is full", ip.ino)
		return
	}

	bp, err := fileBlock(dvp, ip, slot/BlockSize, false)
	if nil != err {
		vfs.Brelse(bp)
		return
	}
	on := slot % BlockSize
	err = pack(de, bp.Data[on:on+direntSize])
	if nil != err {
		vfs.Brelse(bp)
		return
	}
	err = writeBlock(bp, IOSync)
	if nil != err {
		return
	}

	if uint64(slot+direntSize) > ip.d.Size {
		ip.d.Size = uint64(slot + direntSize)
		ip.dirty = true
	}
	return
}

// dirAdd enters name for ino in the locked directory dvp, reusing the first
// free slot.
func dirAdd(dvp *vfs.Vnode, name string, ino uint32) (err error) {
	ip := vtoi(dvp)
	slot := int64(ip.d.Size)
	exists := false

	err = forEachEntry(dvp, func(s int64, de *onDiskDirent) bool {
		if 0 == de.Ino {
			if s < slot {
				slot = s
			}
			return false
		}
		if name == de.name() {
			exists = true
			return true
		}
		return false
	})
	if nil != err {
		return
	}
	if exists {
		return blunder.NewError(blunder.FileExistsError, "%s exists", name)
	}

	de := newDirent(ino, name)
	return writeEntry(dvp, slot, &de)
}

func checkName(name string) error {
	switch {
	case ("" == name) || ("." == name) || (".." == name) || strings.Contains(name, "/"):
		return blunder.NewError(blunder.InvalidArgError, "%q is not a valid name", name)
	case len(name) > MaxNameLen:
		return blunder.NewError(blunder.NameTooLongError, "%q is longer than %d bytes", name, MaxNameLen)
	}
	return nil
}

// Lookup returns "." (and ".." of the root) as dvp itself, referenced but
// not relocked. For any other ".." dvp is unlocked while the parent is
// locked, then relocked.
func (*dirOps) Lookup(dvp *vfs.Vnode, name string) (vp *vfs.Vnode, err error) {
	dip := vtoi(dvp)
	dip.m.stats.Lookups.Increment()

	if ("." == name) || ((".." == name) && vfs.IsRoot(dvp)) {
		vfs.Vref(dvp)
		return dvp, nil
	}

	_, ino, err := dirLookup(dvp, name)
	if nil != err {
		return
	}

	if ino == dip.ino {
		vfs.Vref(dvp)
		return dvp, nil
	}

	if ".." == name {
		vfs.Vunlock(dvp)
		vp, err = dip.m.vget(ino)
		vfs.Vlock(dvp)
		return
	}

	return dip.m.vget(ino)
}

func (ops *dirOps) Create(dvp *vfs.Vnode, name string, va *vfs.Vattr) (vp *vfs.Vnode, err error) {
	if (nil != va) && (vfs.VDir == va.Type) {
		return ops.Mkdir(dvp, name, va)
	}
	if (nil != va) && (vfs.VReg != va.Type) {
		err = blunder.NewError(blunder.NotSupportedError, "flatfs cannot create a %v", va.Type)
		return
	}
	return makeNode(dvp, name, modeReg)
}

// Mkdir makes a directory holding "." and "..".
func (*dirOps) Mkdir(dvp *vfs.Vnode, name string, va *vfs.Vattr) (vp *vfs.Vnode, err error) {
	return makeNode(dvp, name, modeDir)
}

func makeNode(dvp *vfs.Vnode, name string, mode uint32) (vp *vfs.Vnode, err error) {
	dip := vtoi(dvp)
	m := dip.m

	err = checkName(name)
	if nil != err {
		return
	}
	if _, _, lookupErr := dirLookup(dvp, name); nil == lookupErr {
		err = blunder.NewError(blunder.FileExistsError, "%s exists", name)
		return
	}

	nlink := uint32(1)
	if modeDir == mode {
		nlink = 2
	}
	ino, err := m.allocInode(mode, nlink)
	if nil != err {
		return
	}

	vp, err = m.vget(ino)
	if nil != err {
		return
	}
	ip := vtoi(vp)

	if modeDir == mode {
		dot := newDirent(ino, ".")
		dotdot := newDirent(dip.ino, "..")
		err = writeEntry(vp, 0, &dot)
		if nil == err {
			err = writeEntry(vp, direntSize, &dotdot)
		}
		if nil == err {
			err = ip.update()
		}
		if nil != err {
			ip.d.Nlink = 0
			vfs.Vput(vp)
			vp = nil
			return
		}
	}

	err = dirAdd(dvp, name, ino)
	if nil != err {
		ip.d.Nlink = 0
		vfs.Vput(vp)
		vp = nil
		return
	}

	if modeDir == mode {
		dip.d.Nlink++
		dip.dirty = true
	}
	return
}

func (*dirOps) Link(dvp *vfs.Vnode, name string, vp *vfs.Vnode) (err error) {
	if vfs.VDir == vp.Type {
		return blunder.NewError(blunder.NotPermError, "cannot link directory %v", vp)
	}
	if dvp.Mount != vp.Mount {
		return blunder.NewError(blunder.InvalidArgError, "cannot link across mounts")
	}
	err = checkName(name)
	if nil != err {
		return
	}

	err = dirAdd(dvp, name, vtoi(vp).ino)
	if nil != err {
		return
	}

	ip := vtoi(vp)
	ip.d.Nlink++
	ip.dirty = true
	return
}

// Remove unlinks name, which must name vp. A directory must hold nothing
// but "." and "..". The inode is freed when vp is last released.
func (*dirOps) Remove(dvp *vfs.Vnode, name string, vp *vfs.Vnode) (err error) {
	dip := vtoi(dvp)
	ip := vtoi(vp)

	if ("." == name) || (".." == name) {
		return blunder.NewError(blunder.InvalidArgError, "cannot remove %q", name)
	}

	slot, ino, err := dirLookup(dvp, name)
	if nil != err {
		return
	}
	if ino != ip.ino {
		return blunder.NewError(blunder.NotFoundError, "%s does not name inode %d", name, ip.ino)
	}

	if vfs.VDir == vp.Type {
		empty := true
		err = forEachEntry(vp, func(s int64, de *onDiskDirent) bool {
			if (0 != de.Ino) && ("." != de.name()) && (".." != de.name()) {
				empty = false
				return true
			}
			return false
		})
		if nil != err {
			return
		}
		if !empty {
			return blunder.NewError(blunder.NotEmptyError, "directory %s is not empty", name)
		}
	}

	var free onDiskDirent
	err = writeEntry(dvp, slot, &free)
	if nil != err {
		return
	}

	if vfs.VDir == vp.Type {
		ip.d.Nlink = 0
		dip.d.Nlink--
		dip.dirty = true
	} else {
		ip.d.Nlink--
	}
	ip.dirty = true
	return
}

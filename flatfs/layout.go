// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package flatfs

import (
	"github.com/NVIDIA/cstruct"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/vfs"
)

// On-disk layout, in BlockSize blocks:
//
//   0                       superBlock
//   InodeTableStart...      onDiskInode[Inodes], inodesPerBlock per block
//   DataStart...            ExtentBlocks blocks per inode, in inode order
//
// A directory's data is an array of onDiskDirent; a slot with Ino 0 is free.

const (
	BlockSize       = 1024
	sectorsPerBlock = BlockSize / vfs.SectorSize

	RootIno    = 1
	MaxNameLen = 27

	superMagic   uint64 = 0x30534674616C46 // "FlatFS0" little endian
	superVersion uint32 = 1

	superSize      = 48
	inodeSize      = 64
	inodesPerBlock = BlockSize / inodeSize
	direntSize     = 32

	maxInodes       = 1 << 20
	maxExtentBlocks = 1 << 16
)

const (
	modeFree uint32 = iota
	modeReg
	modeDir
)

type superBlock struct {
	Magic           uint64
	Version         uint32
	BlockSize       uint32
	Inodes          uint32
	ExtentBlocks    uint32
	InodeTableStart uint64
	DataStart       uint64
	TotalBlocks     uint64
}

type onDiskInode struct {
	Mode       uint32
	Nlink      uint32
	Size       uint64
	Generation uint64
	Reserved   [40]uint8
}

type onDiskDirent struct {
	Ino     uint32
	NameLen uint8
	Name    [MaxNameLen]uint8
}

func (de *onDiskDirent) name() string {
	return string(de.Name[:de.NameLen])
}

func newDirent(ino uint32, name string) (de onDiskDirent) {
	de.Ino = ino
	de.NameLen = uint8(copy(de.Name[:], name))
	return
}

// pack encodes obj into dst, which must be exactly its packed size.
func pack(obj interface{}, dst []byte) (err error) {
	packed, err := cstruct.Pack(obj, cstruct.LittleEndian)
	if nil != err {
		err = blunder.AddError(err, blunder.PackError)
		return
	}
	if len(packed) != len(dst) {
		err = blunder.NewError(blunder.PackError, "packed %T is %d bytes, not %d", obj, len(packed), len(dst))
		return
	}
	copy(dst, packed)
	return
}

func unpack(src []byte, objPtr interface{}) (err error) {
	_, err = cstruct.Unpack(src, objPtr, cstruct.LittleEndian)
	if nil != err {
		err = blunder.AddError(err, blunder.UnpackError)
	}
	return
}

// checkLayout verifies the packed sizes the layout constants assume.
func checkLayout() (err error) {
	for _, check := range []struct {
		obj  interface{}
		size uint64
	}{
		{superBlock{}, superSize},
		{onDiskInode{}, inodeSize},
		{onDiskDirent{}, direntSize},
	} {
		var size uint64
		size, _, err = cstruct.Examine(check.obj)
		if nil != err {
			return
		}
		if check.size != size {
			err = blunder.NewError(blunder.PackError, "%T packs to %d bytes, not %d", check.obj, size, check.size)
			return
		}
	}
	return
}

// devBlkno returns the device (sector) block number of file system block b.
func devBlkno(b uint64) int64 {
	return int64(b * sectorsPerBlock)
}

func (sb *superBlock) inodeBlock(ino uint32) (b uint64, offset int) {
	b = sb.InodeTableStart + uint64(ino/inodesPerBlock)
	offset = int(ino%inodesPerBlock) * inodeSize
	return
}

func (sb *superBlock) extentStart(ino uint32) uint64 {
	return sb.DataStart + uint64(ino)*uint64(sb.ExtentBlocks)
}

func (sb *superBlock) extentBytes() int64 {
	return int64(sb.ExtentBlocks) * BlockSize
}

func layoutFor(config *Config) (sb superBlock) {
	inodeTableBlocks := (uint64(config.Inodes) + inodesPerBlock - 1) / inodesPerBlock

	sb = superBlock{
		Magic:           superMagic,
		Version:         superVersion,
		BlockSize:       BlockSize,
		Inodes:          config.Inodes,
		ExtentBlocks:    config.ExtentBlocks,
		InodeTableStart: 1,
		DataStart:       1 + inodeTableBlocks,
	}
	sb.TotalBlocks = sb.DataStart + uint64(config.Inodes)*uint64(config.ExtentBlocks)
	return
}

func (sb *superBlock) validate() (err error) {
	switch {
	case superMagic != sb.Magic:
		err = blunder.NewError(blunder.InvalidArgError, "not a flatfs file system (magic %#x)", sb.Magic)
	case superVersion != sb.Version:
		err = blunder.NewError(blunder.InvalidArgError, "flatfs version %d not supported", sb.Version)
	case BlockSize != sb.BlockSize:
		err = blunder.NewError(blunder.InvalidArgError, "flatfs block size %d not supported", sb.BlockSize)
	case (RootIno >= sb.Inodes) || (sb.Inodes > maxInodes) || (0 == sb.ExtentBlocks) || (sb.ExtentBlocks > maxExtentBlocks):
		err = blunder.NewError(blunder.InvalidArgError, "flatfs geometry %d inodes of %d blocks is corrupt", sb.Inodes, sb.ExtentBlocks)
	case (1 > sb.InodeTableStart) || (sb.DataStart <= sb.InodeTableStart) ||
		(sb.TotalBlocks != sb.DataStart+uint64(sb.Inodes)*uint64(sb.ExtentBlocks)):
		err = blunder.NewError(blunder.InvalidArgError, "flatfs layout is corrupt")
	}
	return
}

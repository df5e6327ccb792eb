// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package flatfs

import (
	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/conf"
)

const (
	defaultInodes       = 64
	defaultExtentBlocks = 8
)

// Config holds the [FlatFS] format parameters.
type Config struct {
	Inodes       uint32 // inode table slots; inode 0 is never used
	ExtentBlocks uint32 // BlockSize blocks of data owned by each inode
}

func ParseConfMap(confMap conf.ConfMap) (config *Config, err error) {
	config = &Config{
		Inodes:       defaultInodes,
		ExtentBlocks: defaultExtentBlocks,
	}

	if _, ok := confMap["FlatFS"]["Inodes"]; ok {
		config.Inodes, err = confMap.FetchOptionValueUint32("FlatFS", "Inodes")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidArgError)
			return
		}
		if (RootIno >= config.Inodes) || (config.Inodes > maxInodes) {
			err = blunder.NewError(blunder.InvalidArgError, "[FlatFS]Inodes must be in (%d,%d]", RootIno, maxInodes)
			return
		}
	}

	if _, ok := confMap["FlatFS"]["ExtentBlocks"]; ok {
		config.ExtentBlocks, err = confMap.FetchOptionValueUint32("FlatFS", "ExtentBlocks")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidArgError)
			return
		}
		if (0 == config.ExtentBlocks) || (config.ExtentBlocks > maxExtentBlocks) {
			err = blunder.NewError(blunder.InvalidArgError, "[FlatFS]ExtentBlocks must be in [1,%d]", maxExtentBlocks)
			return
		}
	}

	return
}

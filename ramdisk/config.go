// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ramdisk

import (
	"time"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/conf"
)

const (
	defaultMajor   = 3
	defaultUnits   = 1
	defaultSectors = 2048
)

// Config holds the [RAMDisk] settings.
type Config struct {
	Major           uint32        // block major number to register under
	Units           uint32        // disks, one per minor number starting at 0
	Sectors         int64         // capacity of each unit in vfs.SectorSize sectors
	VerifyChecksums bool          // verify each sector's checksum when read
	SectorDelay     time.Duration // time taken by each sector transfer
}

func ParseConfMap(confMap conf.ConfMap) (config *Config, err error) {
	var (
		sectors uint64
	)

	config = &Config{
		Major:           defaultMajor,
		Units:           defaultUnits,
		Sectors:         defaultSectors,
		VerifyChecksums: true,
	}

	if _, present := confMap["RAMDisk"]; !present {
		return
	}

	if optionIsSet(confMap, "Major") {
		config.Major, err = confMap.FetchOptionValueUint32("RAMDisk", "Major")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidArgError)
			return
		}
	}

	if optionIsSet(confMap, "Units") {
		config.Units, err = confMap.FetchOptionValueUint32("RAMDisk", "Units")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidArgError)
			return
		}
		if 0 == config.Units {
			err = blunder.NewError(blunder.InvalidArgError, "[RAMDisk]Units must be at least 1")
			return
		}
	}

	if optionIsSet(confMap, "Sectors") {
		sectors, err = confMap.FetchOptionValueUint64("RAMDisk", "Sectors")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidArgError)
			return
		}
		if (0 == sectors) || (sectors > (1 << 40)) {
			err = blunder.NewError(blunder.InvalidArgError, "[RAMDisk]Sectors %d out of range", sectors)
			return
		}
		config.Sectors = int64(sectors)
	}

	if optionIsSet(confMap, "VerifyChecksums") {
		config.VerifyChecksums, err = confMap.FetchOptionValueBool("RAMDisk", "VerifyChecksums")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidArgError)
			return
		}
	}

	if optionIsSet(confMap, "SectorDelay") {
		config.SectorDelay, err = confMap.FetchOptionValueDuration("RAMDisk", "SectorDelay")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidArgError)
			return
		}
	}

	return
}

func optionIsSet(confMap conf.ConfMap, optionName string) bool {
	_, present := confMap["RAMDisk"][optionName]
	return present
}

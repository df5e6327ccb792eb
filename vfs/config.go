// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"fmt"
	"sync/atomic"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/conf"
	"github.com/NVIDIA/bufcache/logger"
	"github.com/NVIDIA/bufcache/utils"
)

const defaultPageSize = 4096

// Config holds the [BufCache] and [Vnode] settings of a Cache.
type Config struct {
	PageSize       uint64 // data regions are rounded up to this
	MaxBuffers     uint64 // buffer descriptors; 0 is unlimited
	MaxDataBytes   uint64 // bytes of data regions; 0 is unlimited
	MaxVnodes      uint64 // 0 is unlimited
	StatsGroupName string // bucketstats group; must be unique among live Caches
}

var cacheInstance uint64

// ParseConfMap builds a Config from confMap. Missing options take their
// defaults; present but malformed ones are an error.
func ParseConfMap(confMap conf.ConfMap) (config *Config, err error) {
	config = &Config{}

	config.PageSize, err = fetchUint64(confMap, "BufCache", "PageSize", defaultPageSize)
	if nil != err {
		return
	}
	if !utils.IsPowerOfTwo(config.PageSize) || (config.PageSize < SectorSize) {
		err = blunder.NewError(blunder.InvalidArgError, "[BufCache]PageSize %d must be a power of two >= %d",
			config.PageSize, SectorSize)
		return
	}

	config.MaxBuffers, err = fetchUint64(confMap, "BufCache", "MaxBuffers", 0)
	if nil != err {
		return
	}
	config.MaxDataBytes, err = fetchUint64(confMap, "BufCache", "MaxDataBytes", 0)
	if nil != err {
		return
	}
	config.MaxVnodes, err = fetchUint64(confMap, "Vnode", "MaxVnodes", 0)
	if nil != err {
		return
	}

	config.StatsGroupName, err = confMap.FetchOptionValueString("BufCache", "StatsGroupName")
	if nil != err {
		config.StatsGroupName = fmt.Sprintf("cache%d", atomic.AddUint64(&cacheInstance, 1))
		err = nil
	}

	return
}

func fetchUint64(confMap conf.ConfMap, sectionName string, optionName string, defaultValue uint64) (value uint64, err error) {
	_, err = confMap.FetchOptionValueStringSlice(sectionName, optionName)
	if nil != err {
		logger.Tracef("[%s]%s defaulting to %d", sectionName, optionName, defaultValue)
		value = defaultValue
		err = nil
		return
	}

	value, err = confMap.FetchOptionValueUint64(sectionName, optionName)
	if nil != err {
		err = blunder.AddError(err, blunder.InvalidArgError)
	}
	return
}

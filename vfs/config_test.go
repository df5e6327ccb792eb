// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/bucketstats"
	"github.com/NVIDIA/bufcache/conf"
)

func TestParseConfMap(t *testing.T) {
	assert := assert.New(t)

	config, err := ParseConfMap(conf.MakeConfMap())
	if !assert.Nil(err) {
		return
	}
	assert.Equal(uint64(4096), config.PageSize)
	assert.Equal(uint64(0), config.MaxBuffers)
	assert.Equal(uint64(0), config.MaxDataBytes)
	assert.Equal(uint64(0), config.MaxVnodes)
	assert.True(strings.HasPrefix(config.StatsGroupName, "cache"))

	confMap, err := conf.MakeConfMapFromStrings([]string{
		"BufCache.PageSize=8192",
		"BufCache.MaxBuffers=64",
		"BufCache.MaxDataBytes=1048576",
		"BufCache.StatsGroupName=TestParseConfMap",
		"Vnode.MaxVnodes=32",
	})
	if !assert.Nil(err) {
		return
	}
	config, err = ParseConfMap(confMap)
	assert.Nil(err)
	assert.Equal(Config{
		PageSize:       8192,
		MaxBuffers:     64,
		MaxDataBytes:   1048576,
		MaxVnodes:      32,
		StatsGroupName: "TestParseConfMap",
	}, *config)

	for _, bad := range []string{
		"BufCache.PageSize=3000",
		"BufCache.PageSize=256",
		"BufCache.MaxBuffers=lots",
		"Vnode.MaxVnodes=-1",
	} {
		confMap, err = conf.MakeConfMapFromStrings([]string{bad})
		assert.Nil(err)
		_, err = ParseConfMap(confMap)
		assert.True(blunder.Is(err, blunder.InvalidArgError), bad)
	}
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	_, err := New(conf.MakeConfMap(), nil)
	assert.True(blunder.Is(err, blunder.InvalidArgError))

	cache, _ := newTestCache(t, "BufCache.StatsGroupName=TestNew", "Vnode.MaxVnodes=1")
	assert.Equal("TestNew", cache.StatsGroupName())
	assert.Equal(uint64(1), cache.Config().MaxVnodes)

	vp, err := cache.Getnewvnode(nil, &testOps{})
	assert.Nil(err)
	_, err = cache.Getnewvnode(nil, &testOps{})
	assert.True(blunder.Is(err, blunder.OutOfMemoryError))
	Vrele(vp)

	bp, err := cache.Bgetempty(SectorSize)
	assert.Nil(err)
	Brelse(bp)

	stats := bucketstats.SprintStats(bucketstats.StatFormatParsable1, "vfs", "TestNew")
	assert.True(strings.Contains(stats, "VnodeAllocs"))

	closeTestCache(t, cache)
	assert.Panics(func() { bucketstats.SprintStats(bucketstats.StatFormatParsable1, "vfs", "TestNew") })
}

func TestUiomove(t *testing.T) {
	assert := assert.New(t)

	buf := []byte("0123456789")
	uio := NewUio(buf, 100, UioWrite)
	data := make([]byte, 4)

	assert.Nil(Uiomove(data, 4, uio))
	assert.Equal("0123", string(data))
	assert.Equal(6, uio.Resid)
	assert.Equal(int64(104), uio.Offset)
	assert.Equal(4, uio.Done())

	// clamped to the source
	assert.Nil(Uiomove(data[:2], 4, uio))
	assert.Equal("4523", string(data))
	assert.Equal(4, uio.Resid)

	read := make([]byte, 6)
	uio = NewUio(read, 0, UioRead)
	assert.Nil(Uiomove([]byte("abcdefgh"), 8, uio))
	assert.Equal("abcdef", string(read))
	assert.Equal(0, uio.Resid)
	assert.Equal(int64(6), uio.Offset)

	assert.True(blunder.Is(Uiomove(data, -1, uio), blunder.InvalidArgError))
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bucketstats

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testStats struct {
	Reads    Total
	Writes   Total `comment:"named by Register()"`
	Latency  BucketLog2
	IOSize   Average
	Renamed  Total
	unusable int
}

func TestRegister(t *testing.T) {
	assert := assert.New(t)

	stats := &testStats{}
	stats.Renamed.Name = "renamed stat"

	Register("test", "group one", stats)
	defer UnRegister("test", "group one")

	assert.Equal("Reads", stats.Reads.Name)
	assert.Equal("renamed_stat", stats.Renamed.Name)

	assert.Panics(func() { Register("test", "group one", stats) }, "duplicate registration")
	assert.Panics(func() { Register("", "", &testStats{}) })
	assert.Panics(func() { Register("test", "notapointer", testStats{}) })

	type dupStats struct {
		A Total
		B Total
	}
	dup := &dupStats{}
	dup.B.Name = "A"
	assert.Panics(func() { Register("test", "dup", dup) })
}

func TestStatistics(t *testing.T) {
	assert := assert.New(t)

	stats := &testStats{}
	Register("test", "counts", stats)
	defer UnRegister("test", "counts")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			for j := 0; j < 1000; j++ {
				stats.Reads.Increment()
			}
			wg.Done()
		}()
	}
	wg.Wait()
	assert.Equal(uint64(8000), stats.Reads.TotalGet())

	stats.Writes.Add(5)
	assert.Equal(uint64(5), stats.Writes.TotalGet())

	assert.Equal(uint64(0), stats.IOSize.AverageGet())
	stats.IOSize.Add(512)
	stats.IOSize.Add(1536)
	assert.Equal(uint64(2), stats.IOSize.CountGet())
	assert.Equal(uint64(1024), stats.IOSize.AverageGet())

	stats.Latency.Add(0)
	stats.Latency.Add(1)
	stats.Latency.Add(3)
	stats.Latency.Add(1000)
	assert.Equal(uint64(1), stats.Latency.BucketGet(0))
	assert.Equal(uint64(1), stats.Latency.BucketGet(1))
	assert.Equal(uint64(1), stats.Latency.BucketGet(2))
	assert.Equal(uint64(1), stats.Latency.BucketGet(10))
	assert.Equal(uint64(4), stats.Latency.CountGet())
	assert.Equal(uint64(251), stats.Latency.AverageGet())

	out := SprintStats(StatFormatParsable1, "test", "counts")
	assert.True(strings.Contains(out, "test.counts.Reads total:8000\n"))
	assert.True(strings.Contains(out, "test.counts.IOSize total:2048 count:2 avg:1024\n"))
	assert.True(strings.Contains(out, "test.counts.Latency total:1004 count:4 avg:251 0:1 2^0:1 2^1:1"))
	assert.True(strings.Contains(out, "2^9:1\n"))

	all := SprintStats(StatFormatParsable1, "*", "*")
	assert.True(strings.Contains(all, "test.counts.Writes total:5\n"))

	UnRegister("test", "counts")
	assert.Panics(func() { SprintStats(StatFormatParsable1, "test", "counts") })
	Register("test", "counts", stats)
}

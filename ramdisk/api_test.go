// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ramdisk

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/conf"
	"github.com/NVIDIA/bufcache/vfs"
)

func filled(n int, fill byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = fill
	}
	return data
}

func newTestDisk(t *testing.T, extraConf ...string) (cache *vfs.Cache, d *Disk) {
	confStrings := append([]string{
		"RAMDisk.Major=3",
		"RAMDisk.Units=2",
		"RAMDisk.Sectors=64",
	}, extraConf...)
	confMap, err := conf.MakeConfMapFromStrings(confStrings)
	if nil != err {
		t.Fatalf("MakeConfMapFromStrings() failed: %v", err)
	}

	d, err = New(confMap)
	if nil != err {
		t.Fatalf("New() failed: %v", err)
	}

	devsw := vfs.NewDevSwitch()
	err = d.Attach(devsw)
	if nil != err {
		t.Fatalf("Attach() failed: %v", err)
	}

	cache, err = vfs.New(confMap, devsw)
	if nil != err {
		t.Fatalf("vfs.New() failed: %v", err)
	}
	return
}

func closeTestDisk(t *testing.T, cache *vfs.Cache, d *Disk) {
	assert := assert.New(t)

	d.Stop()
	assert.Equal(uint64(0), cache.BuffersInUse())
	assert.Nil(cache.Close())
}

func openDevice(t *testing.T, cache *vfs.Cache, devno vfs.Devno) (vp *vfs.Vnode) {
	vp, err := cache.Bdevvp(devno)
	if nil != err {
		t.Fatalf("Bdevvp(%v) failed: %v", devno, err)
	}
	err = vp.Ops().Open(vp, 0)
	if nil != err {
		t.Fatalf("Open(%v) failed: %v", devno, err)
	}
	return
}

func closeDevice(t *testing.T, vp *vfs.Vnode) {
	err := vp.Ops().Close(vp, 0)
	if nil != err {
		t.Fatalf("Close() failed: %v", err)
	}
	vfs.Vrele(vp)
}

func TestParseConfMap(t *testing.T) {
	assert := assert.New(t)

	config, err := ParseConfMap(conf.MakeConfMap())
	assert.Nil(err)
	assert.Equal(Config{
		Major:           defaultMajor,
		Units:           defaultUnits,
		Sectors:         defaultSectors,
		VerifyChecksums: true,
	}, *config)

	confMap, err := conf.MakeConfMapFromStrings([]string{
		"RAMDisk.Major=9",
		"RAMDisk.Units=4",
		"RAMDisk.Sectors=100",
		"RAMDisk.VerifyChecksums=false",
		"RAMDisk.SectorDelay=1ms",
	})
	assert.Nil(err)
	config, err = ParseConfMap(confMap)
	assert.Nil(err)
	assert.Equal(Config{
		Major:       9,
		Units:       4,
		Sectors:     100,
		SectorDelay: time.Millisecond,
	}, *config)

	for _, bad := range []string{
		"RAMDisk.Units=0",
		"RAMDisk.Sectors=0",
		"RAMDisk.Major=x",
		"RAMDisk.VerifyChecksums=maybe",
		"RAMDisk.SectorDelay=soon",
	} {
		confMap, err = conf.MakeConfMapFromStrings([]string{bad})
		assert.Nil(err)
		_, err = ParseConfMap(confMap)
		assert.True(blunder.Is(err, blunder.InvalidArgError), bad)
	}
}

func TestOpenClose(t *testing.T) {
	assert := assert.New(t)

	cache, d := newTestDisk(t)
	defer closeTestDisk(t, cache, d)

	assert.Equal(vfs.MakeDevno(3, 1), d.Devno(1))
	assert.True(blunder.Is(d.Open(d.Devno(2), 0), blunder.NoDeviceError))
	assert.True(blunder.Is(d.Close(d.Devno(0), 0), blunder.InvalidArgError))

	vp := openDevice(t, cache, d.Devno(1))
	assert.Equal(1, d.Opens(d.Devno(1)))
	assert.Equal(0, d.Opens(d.Devno(0)))
	closeDevice(t, vp)
	assert.Equal(0, d.Opens(d.Devno(1)))

	// no unit behind the minor
	vp, err := cache.Bdevvp(d.Devno(5))
	assert.Nil(err)
	assert.True(blunder.Is(vp.Ops().Open(vp, 0), blunder.NoDeviceError))
	bp, err := vfs.Bread(vp, 0, vfs.SectorSize, false)
	assert.True(blunder.Is(err, blunder.NoDeviceError))
	vfs.Brelse(bp)
	vfs.Vrele(vp)
}

func TestWriteReadRoundTrip(t *testing.T) {
	assert := assert.New(t)

	cache, d := newTestDisk(t)
	defer closeTestDisk(t, cache, d)

	vp := openDevice(t, cache, d.Devno(0))

	bp, err := vfs.Bget(vp, 3, vfs.SectorSize, false)
	if !assert.Nil(err) {
		return
	}
	copy(bp.Data, filled(vfs.SectorSize, 0xAA))
	assert.Nil(vfs.Bwrite(bp))
	vfs.Brelse(bp)

	data, err := d.Peek(d.Devno(0), 3)
	assert.Nil(err)
	assert.Equal("", cmp.Diff(filled(vfs.SectorSize, 0xAA), data))
	assert.Equal(1, d.SectorsInUse(d.Devno(0)))
	assert.Equal(0, d.SectorsInUse(d.Devno(1)))

	// drop the cached copy so the read goes to the disk
	vfs.Vlock(vp)
	assert.Nil(vfs.Vinvalbuf(vp))
	vfs.Vunlock(vp)

	bp, err = vfs.Bread(vp, 3, vfs.SectorSize, false)
	assert.Nil(err)
	assert.Equal("", cmp.Diff(filled(vfs.SectorSize, 0xAA), bp.Data))
	vfs.Brelse(bp)
	assert.Equal(uint64(2), d.stats.Strategies.TotalGet())

	closeDevice(t, vp)
}

func TestMultiSectorTransfer(t *testing.T) {
	assert := assert.New(t)

	cache, d := newTestDisk(t)
	defer closeTestDisk(t, cache, d)

	vp := openDevice(t, cache, d.Devno(1))

	nbytes := 8 * vfs.SectorSize
	bp, err := vfs.Bget(vp, 10, nbytes, false)
	if !assert.Nil(err) {
		return
	}
	for i := range bp.Data {
		bp.Data[i] = byte(i / vfs.SectorSize)
	}
	assert.Nil(vfs.Bwrite(bp))
	assert.Equal(0, bp.Nbytesrem)
	vfs.Brelse(bp)

	// sector 10 holds zeros and is not stored
	assert.Equal(7, d.SectorsInUse(d.Devno(1)))
	assert.Equal(uint64(8), d.stats.SectorWrites.TotalGet())
	for i := int64(0); i < 8; i++ {
		data, err := d.Peek(d.Devno(1), 10+i)
		assert.Nil(err)
		assert.Equal("", cmp.Diff(filled(vfs.SectorSize, byte(i)), data))
	}

	// overwrite with zeros frees the sectors
	bp, err = vfs.Bget(vp, 10, nbytes, false)
	assert.Nil(err)
	copy(bp.Data, make([]byte, nbytes))
	assert.Nil(vfs.Bwrite(bp))
	vfs.Brelse(bp)
	assert.Equal(0, d.SectorsInUse(d.Devno(1)))

	closeDevice(t, vp)
}

func TestContendedBget(t *testing.T) {
	assert := assert.New(t)

	cache, d := newTestDisk(t, "RAMDisk.SectorDelay=20ms")
	defer closeTestDisk(t, cache, d)

	assert.Nil(d.Poke(d.Devno(0), 5, filled(vfs.SectorSize, 0x55)))

	vp := openDevice(t, cache, d.Devno(0))

	var group errgroup.Group
	got := make([][]byte, 2)
	for i := range got {
		i := i
		group.Go(func() error {
			bp, err := vfs.Bread(vp, 5, vfs.SectorSize, false)
			if nil == err {
				got[i] = append([]byte(nil), bp.Data...)
			}
			vfs.Brelse(bp)
			return err
		})
	}
	assert.Nil(group.Wait())

	assert.Equal(uint64(1), d.stats.Strategies.TotalGet())
	assert.Equal(uint64(1), d.stats.SectorReads.TotalGet())
	for i := range got {
		assert.Equal("", cmp.Diff(filled(vfs.SectorSize, 0x55), got[i]))
	}

	closeDevice(t, vp)
}

func TestIOErrorPropagation(t *testing.T) {
	assert := assert.New(t)

	cache, d := newTestDisk(t)
	defer closeTestDisk(t, cache, d)

	vp := openDevice(t, cache, d.Devno(0))

	assert.True(blunder.Is(d.InjectFault(d.Devno(0), 64, blunder.NewError(blunder.IOError, "x"), true), blunder.InvalidArgError))
	assert.True(blunder.Is(d.InjectFault(d.Devno(0), 2, nil, true), blunder.InvalidArgError))
	assert.Nil(d.InjectFault(d.Devno(0), 2, blunder.NewError(blunder.IOError, "bad sector"), true))

	bp, err := vfs.Bread(vp, 0, 4*vfs.SectorSize, false)
	assert.True(blunder.Is(err, blunder.IOError))
	assert.True(blunder.Is(bp.Error(), blunder.IOError))
	assert.Equal(2*vfs.SectorSize, bp.Nbytesrem)
	assert.Equal(vfs.BufBusy|vfs.BufDone|vfs.BufError, bp.Flags())
	vfs.Brelse(bp)

	// the fault was consumed; the buffer was left invalid and reads again
	bp, err = vfs.Bread(vp, 0, 4*vfs.SectorSize, false)
	assert.Nil(err)
	assert.Equal(vfs.BufBusy|vfs.BufDone, bp.Flags())
	vfs.Brelse(bp)

	// a persistent fault
	assert.Nil(d.InjectFault(d.Devno(0), 20, blunder.NewError(blunder.IOError, "bad sector"), false))
	for i := 0; i < 2; i++ {
		bp, err = vfs.Bget(vp, 20, vfs.SectorSize, false)
		assert.Nil(err)
		assert.True(blunder.Is(vfs.Bwrite(bp), blunder.IOError))
		vfs.Brelse(bp)
	}
	d.ClearFaults()
	bp, err = vfs.Bget(vp, 20, vfs.SectorSize, false)
	assert.Nil(err)
	assert.Nil(vfs.Bwrite(bp))
	vfs.Brelse(bp)
	assert.Equal(uint64(3), d.stats.InjectedFaults.TotalGet())

	// beyond the end of the unit
	bp, err = vfs.Bread(vp, 63, 2*vfs.SectorSize, false)
	assert.True(blunder.Is(err, blunder.IOError))
	vfs.Brelse(bp)
	assert.Equal(uint64(1), d.stats.OutOfRange.TotalGet())

	closeDevice(t, vp)
}

func TestInterruptedTransfer(t *testing.T) {
	assert := assert.New(t)

	cache, d := newTestDisk(t)
	defer closeTestDisk(t, cache, d)

	vp := openDevice(t, cache, d.Devno(0))

	assert.Nil(d.InjectFault(d.Devno(0), 7, blunder.NewError(blunder.InterruptedError, "reset"), true))

	bp, err := vfs.Bread(vp, 7, vfs.SectorSize, false)
	assert.True(blunder.Is(err, blunder.InterruptedError))
	assert.True(bp.IsInvalid())
	vfs.Brelse(bp)

	bp, err = vfs.Bread(vp, 7, vfs.SectorSize, false)
	assert.Nil(err)
	vfs.Brelse(bp)

	closeDevice(t, vp)
}

func TestChecksums(t *testing.T) {
	assert := assert.New(t)

	cache, d := newTestDisk(t)
	defer closeTestDisk(t, cache, d)

	assert.Nil(d.Poke(d.Devno(0), 4, filled(vfs.SectorSize, 0x44)))
	assert.Nil(d.Corrupt(d.Devno(0), 4))
	assert.True(blunder.Is(d.Poke(d.Devno(0), 4, []byte("short")), blunder.InvalidArgError))
	_, err := d.Peek(d.Devno(0), -1)
	assert.True(blunder.Is(err, blunder.InvalidArgError))

	vp := openDevice(t, cache, d.Devno(0))
	bp, err := vfs.Bread(vp, 4, vfs.SectorSize, false)
	assert.True(blunder.Is(err, blunder.IOError))
	vfs.Brelse(bp)
	assert.Equal(uint64(1), d.stats.ChecksumFailures.TotalGet())
	closeDevice(t, vp)

	unchecked, other := newTestDisk(t, "RAMDisk.VerifyChecksums=false")
	defer closeTestDisk(t, unchecked, other)

	assert.Nil(other.Corrupt(other.Devno(0), 4))
	vp = openDevice(t, unchecked, other.Devno(0))
	bp, err = vfs.Bread(vp, 4, vfs.SectorSize, false)
	assert.Nil(err)
	assert.Equal(byte(0x01), bp.Data[0])
	vfs.Brelse(bp)
	closeDevice(t, vp)
}

func TestAnonymousBuffer(t *testing.T) {
	assert := assert.New(t)

	cache, d := newTestDisk(t)
	defer closeTestDisk(t, cache, d)

	assert.Nil(d.Poke(d.Devno(1), 30, filled(vfs.SectorSize, 0x30)))

	bp, err := cache.Bgetempty(vfs.SectorSize)
	if !assert.Nil(err) {
		return
	}
	bp.Devno = d.Devno(1)
	bp.Blkno = 30
	assert.Nil(cache.Strategy(bp))
	assert.Nil(vfs.Biowait(bp))
	assert.Equal("", cmp.Diff(filled(vfs.SectorSize, 0x30), bp.Data))

	copy(bp.Data, filled(vfs.SectorSize, 0x31))
	bp.Blkno = 31
	assert.Nil(vfs.Bwrite(bp))
	vfs.Brelse(bp)

	data, err := d.Peek(d.Devno(1), 31)
	assert.Nil(err)
	assert.Equal("", cmp.Diff(filled(vfs.SectorSize, 0x31), data))
}

func TestReclaimFlushesDirtyBuffers(t *testing.T) {
	assert := assert.New(t)

	cache, d := newTestDisk(t)
	defer closeTestDisk(t, cache, d)

	vp := openDevice(t, cache, d.Devno(0))

	bp, err := vfs.Bget(vp, 12, 2*vfs.SectorSize, false)
	if !assert.Nil(err) {
		return
	}
	copy(bp.Data, filled(2*vfs.SectorSize, 0xD1))
	vfs.Bdwrite(bp)
	assert.Equal(0, d.SectorsInUse(d.Devno(0)))

	// the last close flushes
	closeDevice(t, vp)

	assert.Equal(2, d.SectorsInUse(d.Devno(0)))
	data, err := d.Peek(d.Devno(0), 13)
	assert.Nil(err)
	assert.Equal("", cmp.Diff(filled(vfs.SectorSize, 0xD1), data))
}

func TestStop(t *testing.T) {
	assert := assert.New(t)

	cache, d := newTestDisk(t, "RAMDisk.SectorDelay=50ms")

	vp := openDevice(t, cache, d.Devno(0))

	done := make(chan error)
	go func() {
		bp, err := vfs.Bread(vp, 0, 4*vfs.SectorSize, false)
		vfs.Brelse(bp)
		done <- err
	}()

	for 0 == d.QueueLen() {
		time.Sleep(time.Millisecond)
	}
	d.Stop()
	assert.True(blunder.Is(<-done, blunder.InterruptedError))
	assert.Equal(0, d.QueueLen())

	// later transfers are aborted too
	bp, err := vfs.Bread(vp, 1, vfs.SectorSize, false)
	assert.True(blunder.Is(err, blunder.InterruptedError))
	vfs.Brelse(bp)
	assert.True(blunder.Is(d.Open(d.Devno(0), 0), blunder.NoDeviceError))

	d.Stop()

	closeDevice(t, vp)
	assert.Equal(uint64(0), cache.BuffersInUse())
	assert.Nil(cache.Close())
}

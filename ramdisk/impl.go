// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ramdisk

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/cityhash"
	"github.com/google/btree"

	"github.com/NVIDIA/bufcache/blunder"
	"github.com/NVIDIA/bufcache/bucketstats"
	"github.com/NVIDIA/bufcache/logger"
	"github.com/NVIDIA/bufcache/trackedlock"
	"github.com/NVIDIA/bufcache/vfs"
)

type diskStats struct {
	Strategies       bucketstats.Total
	SectorReads      bucketstats.Total
	SectorWrites     bucketstats.Total
	Completions      bucketstats.Total
	OutOfRange       bucketstats.Total
	ChecksumFailures bucketstats.Total
	InjectedFaults   bucketstats.Total
	Aborts           bucketstats.Total
	TransferUsec     bucketstats.BucketLog2
}

// sectorItem is one non-zero sector of a unit.
type sectorItem struct {
	blkno    int64
	data     []byte
	checksum uint64
}

func (item *sectorItem) Less(than btree.Item) bool {
	return item.blkno < than.(*sectorItem).blkno
}

type unit struct {
	sectors *btree.BTree // of *sectorItem
	opens   int
}

type faultKey struct {
	minor uint32
	blkno int64
}

type fault struct {
	err  error
	once bool
}

type disk struct {
	config         *Config
	statsGroupName string

	// lock guards everything below; sectors are transferred with it held
	// but never across a call into vfs.
	lock     trackedlock.Mutex
	cond     *sync.Cond // queue non-empty or stopping
	units    []*unit
	queue    *list.List // of *vfs.Buffer; Front() is the transfer in progress
	faults   map[faultKey]*fault
	stopping bool
	wg       sync.WaitGroup

	stats diskStats
}

var diskInstance uint64

var zeroSector [vfs.SectorSize]byte

func (d *disk) up(config *Config) {
	d.config = config
	d.statsGroupName = fmt.Sprintf("ramdisk%d", atomic.AddUint64(&diskInstance, 1)-1)
	d.cond = sync.NewCond(&d.lock)
	d.queue = list.New()
	d.faults = make(map[faultKey]*fault)

	d.units = make([]*unit, config.Units)
	for i := range d.units {
		d.units[i] = &unit{sectors: btree.New(2)}
	}

	bucketstats.Register("ramdisk", d.statsGroupName, &d.stats)

	d.wg.Add(1)
	go d.interruptHandler()

	logger.Infof("ramdisk %s up: Major %d Units %d Sectors %d", d.statsGroupName, config.Major, config.Units, config.Sectors)
}

func (d *disk) down() {
	d.lock.Lock()
	if d.stopping {
		d.lock.Unlock()
		return
	}
	d.stopping = true
	d.cond.Broadcast()
	d.lock.Unlock()

	d.wg.Wait()

	bucketstats.UnRegister("ramdisk", d.statsGroupName)

	logger.Infof("ramdisk %s down", d.statsGroupName)
}

// unitFor returns devno's unit. Caller holds d.lock.
func (d *disk) unitFor(devno vfs.Devno) (u *unit, err error) {
	if (devno.Major() != d.config.Major) || (devno.Minor() >= uint32(len(d.units))) {
		err = blunder.NewError(blunder.NoDeviceError, "ramdisk has no unit %v", devno)
		return
	}
	u = d.units[devno.Minor()]
	return
}

func (d *disk) open(devno vfs.Devno) (err error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.stopping {
		err = blunder.NewError(blunder.NoDeviceError, "ramdisk %v is stopped", devno)
		return
	}
	u, err := d.unitFor(devno)
	if nil != err {
		return
	}
	u.opens++
	return
}

func (d *disk) close(devno vfs.Devno) (err error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	u, err := d.unitFor(devno)
	if nil != err {
		return
	}
	if 0 == u.opens {
		err = blunder.NewError(blunder.InvalidArgError, "ramdisk %v is not open", devno)
		return
	}
	u.opens--
	return
}

func (d *disk) opens(devno vfs.Devno) int {
	d.lock.Lock()
	defer d.lock.Unlock()

	u, err := d.unitFor(devno)
	if nil != err {
		return 0
	}
	return u.opens
}

func (d *disk) queueLen() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.queue.Len()
}

func (d *disk) strategy(bp *vfs.Buffer) (err error) {
	d.stats.Strategies.Increment()

	if !bp.IsDirty() && !bp.IsInvalid() {
		// nothing to transfer
		vfs.Biodone(bp)
		return
	}

	d.lock.Lock()

	_, err = d.unitFor(bp.Devno)
	if nil != err {
		d.lock.Unlock()
		return
	}

	if d.stopping {
		d.lock.Unlock()
		d.stats.Aborts.Increment()
		bp.SetInterrupted()
		vfs.Biodone(bp)
		return
	}

	if (0 > bp.Blkno) || (0 != bp.Nbytes%vfs.SectorSize) ||
		(bp.Blkno+int64(bp.Nbytes/vfs.SectorSize) > d.config.Sectors) {
		d.lock.Unlock()
		d.stats.OutOfRange.Increment()
		bp.SetError(blunder.NewError(blunder.IOError, "ramdisk transfer %v outside %d sectors", bp, d.config.Sectors))
		vfs.Biodone(bp)
		return
	}

	bp.Nbytesrem = bp.Nbytes
	d.queue.PushBack(bp)
	if 1 == d.queue.Len() {
		d.cond.Signal()
	}
	d.lock.Unlock()

	return
}

// interruptHandler works off the queue a sector at a time until down().
func (d *disk) interruptHandler() {
	defer d.wg.Done()

	for {
		d.lock.Lock()
		for (0 == d.queue.Len()) && !d.stopping {
			d.cond.Wait()
		}
		if d.stopping {
			aborted := make([]*vfs.Buffer, 0, d.queue.Len())
			for e := d.queue.Front(); nil != e; e = d.queue.Front() {
				aborted = append(aborted, d.queue.Remove(e).(*vfs.Buffer))
			}
			d.lock.Unlock()
			for _, bp := range aborted {
				d.stats.Aborts.Increment()
				bp.SetInterrupted()
				vfs.Biodone(bp)
			}
			return
		}
		bp := d.queue.Front().Value.(*vfs.Buffer)
		d.lock.Unlock()

		d.transfer(bp)
	}
}

// transfer moves bp one sector per step. It removes bp from the queue before
// completing it unless down() has begun, in which case bp is left for the
// abort sweep.
func (d *disk) transfer(bp *vfs.Buffer) {
	var (
		interrupted bool
		err         error
	)

	startTime := time.Now()
	write := bp.IsWrite()

	for 0 < bp.Nbytesrem {
		if 0 < d.config.SectorDelay {
			time.Sleep(d.config.SectorDelay)
		}

		offset := bp.Nbytes - bp.Nbytesrem
		blkno := bp.Blkno + int64(offset/vfs.SectorSize)
		data := bp.Data[offset : offset+vfs.SectorSize]

		d.lock.Lock()
		if d.stopping {
			d.lock.Unlock()
			return
		}
		interrupted, err = d.checkFault(bp.Devno, blkno)
		if (nil == err) && !interrupted {
			if write {
				d.writeSector(d.units[bp.Devno.Minor()], blkno, data)
			} else {
				err = d.readSector(d.units[bp.Devno.Minor()], blkno, data)
			}
		}
		d.lock.Unlock()

		if (nil != err) || interrupted {
			break
		}
		bp.Nbytesrem -= vfs.SectorSize
	}

	d.lock.Lock()
	if d.stopping {
		d.lock.Unlock()
		return
	}
	d.queue.Remove(d.queue.Front())
	d.lock.Unlock()

	switch {
	case interrupted:
		d.stats.Aborts.Increment()
		bp.SetInterrupted()
	case nil != err:
		logger.WarnfWithError(err, "ramdisk %s transfer %v failed with %d bytes remaining", d.statsGroupName, bp, bp.Nbytesrem)
		bp.SetError(err)
	}
	d.stats.Completions.Increment()
	d.stats.TransferUsec.Add(uint64(time.Since(startTime) / time.Microsecond))
	vfs.Biodone(bp)
}

// checkFault consumes the fault injected for blkno of devno, if any.
// Caller holds d.lock.
func (d *disk) checkFault(devno vfs.Devno, blkno int64) (interrupted bool, err error) {
	key := faultKey{minor: devno.Minor(), blkno: blkno}
	f, ok := d.faults[key]
	if !ok {
		return
	}
	if f.once {
		delete(d.faults, key)
	}
	d.stats.InjectedFaults.Increment()
	if blunder.Is(f.err, blunder.InterruptedError) {
		interrupted = true
		return
	}
	err = f.err
	return
}

// Caller holds d.lock.
func (d *disk) readSector(u *unit, blkno int64, data []byte) (err error) {
	d.stats.SectorReads.Increment()

	item := u.sectors.Get(&sectorItem{blkno: blkno})
	if nil == item {
		copy(data, zeroSector[:])
		return
	}
	sector := item.(*sectorItem)
	if d.config.VerifyChecksums && (cityhash.Hash64(sector.data) != sector.checksum) {
		d.stats.ChecksumFailures.Increment()
		err = blunder.NewError(blunder.IOError, "ramdisk sector %d checksum mismatch", blkno)
		return
	}
	copy(data, sector.data)
	return
}

// Caller holds d.lock.
func (d *disk) writeSector(u *unit, blkno int64, data []byte) {
	d.stats.SectorWrites.Increment()

	if isZero(data) {
		u.sectors.Delete(&sectorItem{blkno: blkno})
		return
	}
	sector := &sectorItem{
		blkno: blkno,
		data:  append([]byte(nil), data...),
	}
	sector.checksum = cityhash.Hash64(sector.data)
	u.sectors.ReplaceOrInsert(sector)
}

func isZero(data []byte) bool {
	for _, b := range data {
		if 0 != b {
			return false
		}
	}
	return true
}

// sectorFor validates devno and blkno for the bypass helpers. Caller holds
// d.lock.
func (d *disk) sectorFor(devno vfs.Devno, blkno int64) (u *unit, err error) {
	u, err = d.unitFor(devno)
	if nil != err {
		return
	}
	if (0 > blkno) || (blkno >= d.config.Sectors) {
		err = blunder.NewError(blunder.InvalidArgError, "ramdisk sector %d outside %d sectors", blkno, d.config.Sectors)
	}
	return
}

func (d *disk) injectFault(devno vfs.Devno, blkno int64, err error, once bool) error {
	if nil == err {
		return blunder.NewError(blunder.InvalidArgError, "ramdisk fault requires an error")
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	if _, sectorErr := d.sectorFor(devno, blkno); nil != sectorErr {
		return sectorErr
	}
	d.faults[faultKey{minor: devno.Minor(), blkno: blkno}] = &fault{err: err, once: once}
	return nil
}

func (d *disk) clearFaults() {
	d.lock.Lock()
	d.faults = make(map[faultKey]*fault)
	d.lock.Unlock()
}

func (d *disk) peek(devno vfs.Devno, blkno int64) (data []byte, err error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	u, err := d.sectorFor(devno, blkno)
	if nil != err {
		return
	}
	data = make([]byte, vfs.SectorSize)
	if item := u.sectors.Get(&sectorItem{blkno: blkno}); nil != item {
		copy(data, item.(*sectorItem).data)
	}
	return
}

func (d *disk) poke(devno vfs.Devno, blkno int64, data []byte) (err error) {
	if vfs.SectorSize != len(data) {
		err = blunder.NewError(blunder.InvalidArgError, "ramdisk sector must be %d bytes, not %d", vfs.SectorSize, len(data))
		return
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	u, err := d.sectorFor(devno, blkno)
	if nil != err {
		return
	}
	d.writeSector(u, blkno, data)
	return
}

func (d *disk) corrupt(devno vfs.Devno, blkno int64) (err error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	u, err := d.sectorFor(devno, blkno)
	if nil != err {
		return
	}
	item := u.sectors.Get(&sectorItem{blkno: blkno})
	if nil == item {
		sector := &sectorItem{blkno: blkno, data: make([]byte, vfs.SectorSize)}
		sector.checksum = cityhash.Hash64(sector.data)
		u.sectors.ReplaceOrInsert(sector)
		item = sector
	}
	item.(*sectorItem).data[0] ^= 0x01
	return
}

func (d *disk) sectorsInUse(devno vfs.Devno) int {
	d.lock.Lock()
	defer d.lock.Unlock()

	u, err := d.unitFor(devno)
	if nil != err {
		return 0
	}
	return u.sectors.Len()
}

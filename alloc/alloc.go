package alloc

import (
	"math/bits"
	"sync"

	"github.com/ansel1/merry"
	log "github.com/sirupsen/logrus"

	"github.com/codeworm96/cse-labs/addr"
	"github.com/codeworm96/cse-labs/buf"
	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/disk"
	"github.com/codeworm96/cse-labs/ecc"
	"github.com/codeworm96/cse-labs/util"
)

// Alloc uses an on-disk bitmap to allocate and free logical blocks. Bit n
// covers block n; a set bit means allocated. Blocks below reserved (boot,
// superblock, bitmap and inode log) are set at format time and never
// cleared.
type Alloc struct {
	lock     *sync.Mutex // protects the bitmap and nfree
	dev      *ecc.Device
	start    common.Bnum
	nblocks  uint64
	reserved uint64
	nfree    uint64
}

func mkAlloc(dev *ecc.Device, start common.Bnum, nblocks uint64, reserved uint64) *Alloc {
	return &Alloc{
		lock:     new(sync.Mutex),
		dev:      dev,
		start:    start,
		nblocks:  nblocks,
		reserved: reserved,
	}
}

func (a *Alloc) nbitmap() uint64 {
	return util.RoundUp(a.nblocks, common.NBITBLOCK)
}

// Format writes an empty bitmap with blocks [0, reserved) marked used.
func Format(dev *ecc.Device, start common.Bnum, nblocks uint64, reserved uint64) (*Alloc, error) {
	a := mkAlloc(dev, start, nblocks, reserved)
	zero := make(disk.Block, disk.BlockSize)
	for i := uint64(0); i < a.nbitmap(); i++ {
		if err := dev.Write(start+i, zero); err != nil {
			return nil, err
		}
	}
	a.nfree = nblocks
	for bn := uint64(0); bn < reserved; bn++ {
		if err := a.MarkUsed(bn); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// MkAlloc loads an existing bitmap and counts its free blocks.
func MkAlloc(dev *ecc.Device, start common.Bnum, nblocks uint64, reserved uint64) (*Alloc, error) {
	a := mkAlloc(dev, start, nblocks, reserved)
	blk := make(disk.Block, disk.BlockSize)
	var used uint64
	for i := uint64(0); i < a.nbitmap(); i++ {
		if err := dev.Read(start+i, blk); err != nil {
			return nil, err
		}
		for j, b := range blk {
			first := i*common.NBITBLOCK + uint64(j)*8
			if first >= nblocks {
				break
			}
			if first+8 > nblocks {
				b = b & byte(1<<(nblocks-first)-1)
			}
			used += uint64(bits.OnesCount8(b))
		}
	}
	a.nfree = nblocks - used
	util.DPrintf(1, "alloc: %d of %d blocks free\n", a.nfree, nblocks)
	return a, nil
}

func (a *Alloc) checkRange(op string, bn common.Bnum) error {
	if bn >= a.nblocks {
		return merry.Prependf(common.ErrIO, "%s: block %d out of range (%d)", op, bn, a.nblocks)
	}
	return nil
}

// findFreeBit scans blk, bitmap block i, for the first clear bit below
// nblocks.
func (a *Alloc) findFreeBit(i uint64, blk disk.Block) (uint64, bool) {
	for j, b := range blk {
		if b == 0xff {
			continue
		}
		bit := uint64(bits.TrailingZeros8(^b))
		n := i*common.NBITBLOCK + uint64(j)*8 + bit
		if n >= a.nblocks {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// AllocBlock returns the lowest free block, marked allocated on disk.
func (a *Alloc) AllocBlock() (common.Bnum, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	blk := make(disk.Block, disk.BlockSize)
	for i := uint64(0); i < a.nbitmap(); i++ {
		if err := a.dev.Read(a.start+i, blk); err != nil {
			return common.NULLBNUM, err
		}
		n, ok := a.findFreeBit(i, blk)
		if !ok {
			continue
		}
		b := buf.MkBufLoad(addr.MkBitAddr(a.start, n), 1, blk)
		b.SetBit(true)
		if err := a.dev.Write(b.Addr.Blkno, blk); err != nil {
			return common.NULLBNUM, err
		}
		a.nfree--
		util.DPrintf(5, "alloc: block %d\n", n)
		return n, nil
	}
	log.WithFields(log.Fields{
		"nblocks": a.nblocks,
	}).Warn("alloc: out of blocks")
	return common.NULLBNUM, merry.Prependf(common.ErrNoSpace, "alloc: all %d blocks in use", a.nblocks)
}

// setBit updates bit bn and returns its old value; a.lock must be held.
func (a *Alloc) setBit(bn common.Bnum, v bool) (bool, error) {
	b, err := buf.ReadBuf(a.dev, addr.MkBitAddr(a.start, bn), 1)
	if err != nil {
		return false, err
	}
	old := b.GetBit()
	if old == v {
		return old, nil
	}
	b.SetBit(v)
	if err := b.WriteDirect(a.dev); err != nil {
		return old, err
	}
	if v {
		a.nfree--
	} else {
		a.nfree++
	}
	return old, nil
}

// FreeBlock clears bn's bit. Freeing a free block is allowed; freeing a
// reserved block is not.
func (a *Alloc) FreeBlock(bn common.Bnum) error {
	if err := a.checkRange("free", bn); err != nil {
		return err
	}
	if bn < a.reserved {
		return merry.Prependf(common.ErrIO, "free: block %d is reserved", bn)
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	_, err := a.setBit(bn, false)
	util.DPrintf(5, "alloc: free %d\n", bn)
	return err
}

// MarkUsed sets bn's bit without searching.
func (a *Alloc) MarkUsed(bn common.Bnum) error {
	if err := a.checkRange("mark", bn); err != nil {
		return err
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	_, err := a.setBit(bn, true)
	return err
}

func (a *Alloc) IsAllocated(bn common.Bnum) (bool, error) {
	if err := a.checkRange("check", bn); err != nil {
		return false, err
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	b, err := buf.ReadBuf(a.dev, addr.MkBitAddr(a.start, bn), 1)
	if err != nil {
		return false, err
	}
	return b.GetBit(), nil
}

func (a *Alloc) NumFree() uint64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.nfree
}

func (a *Alloc) NumBlocks() uint64 {
	return a.nblocks
}

// Reserved is the first block AllocBlock can return.
func (a *Alloc) Reserved() uint64 {
	return a.reserved
}

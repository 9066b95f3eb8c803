// Package ecc is the coded block layer. Every logical block is expanded
// into codewords (one byte per nibble) that fill a primary pair of physical
// blocks, and the pair is stored twice.
//
// Logical block L occupies physical blocks 4L..4L+3:
//
//	4L, 4L+1     primary copy (codeword stream, first and second half)
//	4L+2, 4L+3   redundant copy
//
// Byte i of the logical block becomes codewords 2i (low nibble) and 2i+1
// (high nibble) of the stream.
package ecc

import (
	"sync/atomic"

	"github.com/ansel1/merry"
	log "github.com/sirupsen/logrus"

	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/disk"
	"github.com/codeworm96/cse-labs/util"
)

type Options struct {
	// Strict makes a read that fails in both copies return
	// common.ErrUncorrectable instead of best-effort data.
	Strict bool
}

type Stats struct {
	Corrected     uint64 // nibbles fixed in place
	Recovered     uint64 // nibbles taken from the redundant copy
	Uncorrectable uint64 // nibbles lost in both copies
}

// Device presents a disk.Store as logical blocks of the same size.
type Device struct {
	d      disk.Store
	strict bool

	corrected     uint64
	recovered     uint64
	uncorrectable uint64
}

func MkDevice(d disk.Store, opts Options) *Device {
	return &Device{d: d, strict: opts.Strict}
}

// NumBlocks is the number of logical blocks the store can hold.
func (dev *Device) NumBlocks() uint64 {
	return dev.d.Size() / common.PHYSPERLOG
}

func (dev *Device) Store() disk.Store {
	return dev.d
}

// PhysAddr is the physical block holding half h (0 or 1) of copy c of
// logical block l.
func PhysAddr(l common.Bnum, c uint64, h uint64) uint64 {
	return l*common.PHYSPERLOG + c*2 + h
}

func (dev *Device) check(op string, l common.Bnum, buf disk.Block) error {
	if uint64(len(buf)) != disk.BlockSize {
		return merry.Prependf(common.ErrIO, "ecc %s %d: buffer is %d bytes", op, l, len(buf))
	}
	if l >= dev.NumBlocks() {
		return merry.Prependf(common.ErrIO, "ecc %s: logical block %d out of range (%d)",
			op, l, dev.NumBlocks())
	}
	return nil
}

func encodeBlock(buf disk.Block) [2]disk.Block {
	var halves [2]disk.Block
	halves[0] = make(disk.Block, disk.BlockSize)
	halves[1] = make(disk.Block, disk.BlockSize)
	for i, b := range buf {
		k := uint64(i) * 2
		halves[k/disk.BlockSize][k%disk.BlockSize] = encodeNibble(b & 0xf)
		k++
		halves[k/disk.BlockSize][k%disk.BlockSize] = encodeNibble(b >> 4)
	}
	return halves
}

func codeword(halves [2]disk.Block, k uint64) byte {
	return halves[k/disk.BlockSize][k%disk.BlockSize]
}

func (dev *Device) Write(l common.Bnum, buf disk.Block) error {
	if err := dev.check("write", l, buf); err != nil {
		return err
	}
	halves := encodeBlock(buf)
	for c := uint64(0); c < common.NCOPY; c++ {
		for h := uint64(0); h < 2; h++ {
			if err := dev.d.Write(PhysAddr(l, c, h), halves[h]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (dev *Device) readCopy(l common.Bnum, c uint64) ([2]disk.Block, error) {
	var halves [2]disk.Block
	for h := uint64(0); h < 2; h++ {
		b, err := dev.d.Read(PhysAddr(l, c, h))
		if err != nil {
			return halves, err
		}
		halves[h] = b
	}
	return halves, nil
}

// Read decodes logical block l into buf. Nibbles the primary copy cannot
// correct are decoded from the redundant copy; a block that decodes fully
// is written back so corrected bits do not linger on disk.
func (dev *Device) Read(l common.Bnum, buf disk.Block) error {
	if err := dev.check("read", l, buf); err != nil {
		return err
	}
	primary, err := dev.readCopy(l, 0)
	if err != nil {
		return err
	}
	var spare [2]disk.Block
	var haveSpare bool
	var ncorrected, nrecovered, nlost uint64

	for i := uint64(0); i < disk.BlockSize; i++ {
		var nib [2]byte
		for j := uint64(0); j < 2; j++ {
			k := 2*i + j
			v, o := decodeNibble(codeword(primary, k))
			if o == corrected {
				ncorrected++
			}
			if o == uncorrectable {
				if !haveSpare {
					spare, err = dev.readCopy(l, 1)
					if err != nil {
						return err
					}
					haveSpare = true
				}
				v2, o2 := decodeNibble(codeword(spare, k))
				if o2 != uncorrectable {
					v = v2
					nrecovered++
				} else {
					nlost++
					log.WithFields(log.Fields{
						"block":  l,
						"offset": i,
						"nibble": j,
					}).Error("ecc: uncorrectable in both copies")
				}
			}
			nib[j] = v
		}
		buf[i] = nib[0] | nib[1]<<4
	}

	atomic.AddUint64(&dev.corrected, ncorrected)
	atomic.AddUint64(&dev.recovered, nrecovered)
	if nlost > 0 {
		atomic.AddUint64(&dev.uncorrectable, nlost)
		if dev.strict {
			return merry.Prependf(common.ErrUncorrectable, "logical block %d: %d nibbles lost",
				l, nlost)
		}
		return nil
	}
	if ncorrected > 0 || nrecovered > 0 {
		util.DPrintf(1, "ecc: block %d corrected %d recovered %d\n", l, ncorrected, nrecovered)
	}
	return dev.Write(l, buf)
}

func (dev *Device) Stats() Stats {
	return Stats{
		Corrected:     atomic.LoadUint64(&dev.corrected),
		Recovered:     atomic.LoadUint64(&dev.recovered),
		Uncorrectable: atomic.LoadUint64(&dev.uncorrectable),
	}
}

func (dev *Device) Barrier() error {
	return dev.d.Barrier()
}

func (dev *Device) Close() error {
	return dev.d.Close()
}

// Package super describes the on-disk layout and encodes the boot block and
// the superblock.
//
//	| boot | super | block bitmap | inode log | data ... |
//	  0      1       2..
package super

import (
	"github.com/ansel1/merry"
	"github.com/google/uuid"
	"github.com/tchajed/marshal"

	"github.com/codeworm96/cse-labs/addr"
	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/disk"
	"github.com/codeworm96/cse-labs/util"
)

const (
	MAGIC  uint64 = 0x79667373
	FORMAT uint64 = 1
)

type Boot struct {
	Magic  uint64
	Format uint64
	Volume uuid.UUID
}

func MkBoot() *Boot {
	return &Boot{Magic: MAGIC, Format: FORMAT, Volume: uuid.New()}
}

func (b *Boot) Encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(b.Magic)
	enc.PutInt(b.Format)
	blk := enc.Finish()
	copy(blk[16:32], b.Volume[:])
	return blk
}

func DecodeBoot(blk disk.Block) (*Boot, error) {
	dec := marshal.NewDec(blk)
	b := &Boot{}
	b.Magic = dec.GetInt()
	b.Format = dec.GetInt()
	if b.Magic != MAGIC {
		return nil, merry.Prependf(common.ErrCorrupt, "bad magic %#x", b.Magic)
	}
	if b.Format != FORMAT {
		return nil, merry.Prependf(common.ErrCorrupt, "unsupported format %d", b.Format)
	}
	id, err := uuid.FromBytes(blk[16:32])
	if err != nil {
		return nil, merry.Prependf(common.ErrCorrupt, "volume id: %v", err)
	}
	b.Volume = id
	return b, nil
}

// Superblock is owned by the inode log; nothing else mutates it.
type Superblock struct {
	Size      uint64 // bytes
	NBlocks   uint64 // logical blocks
	NInodes   uint64 // inode log slots
	Version   uint64
	NextInode uint64 // last inode number handed out
	InodeEnd  uint64 // next free log slot
	LogTop    uint64 // one past the last slot holding redo history
}

func MkSuperblock(nblocks uint64, ninodes uint64) *Superblock {
	return &Superblock{
		Size:      nblocks * disk.BlockSize,
		NBlocks:   nblocks,
		NInodes:   ninodes,
		Version:   0,
		NextInode: 0,
		InodeEnd:  1, // slot 0 is reserved
		LogTop:    1,
	}
}

func (sb *Superblock) Encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(sb.Size)
	enc.PutInt(sb.NBlocks)
	enc.PutInt(sb.NInodes)
	enc.PutInt(sb.Version)
	enc.PutInt(sb.NextInode)
	enc.PutInt(sb.InodeEnd)
	enc.PutInt(sb.LogTop)
	return enc.Finish()
}

func DecodeSuperblock(blk disk.Block) *Superblock {
	dec := marshal.NewDec(blk)
	sb := &Superblock{}
	sb.Size = dec.GetInt()
	sb.NBlocks = dec.GetInt()
	sb.NInodes = dec.GetInt()
	sb.Version = dec.GetInt()
	sb.NextInode = dec.GetInt()
	sb.InodeEnd = dec.GetInt()
	sb.LogTop = dec.GetInt()
	return sb
}

func (sb *Superblock) NBitmapBlocks() uint64 {
	return util.RoundUp(sb.NBlocks, common.NBITBLOCK)
}

func (sb *Superblock) BitmapStart() common.Bnum {
	return common.BITMAPSTART
}

func (sb *Superblock) InodeStart() common.Bnum {
	return sb.BitmapStart() + common.Bnum(sb.NBitmapBlocks())
}

func (sb *Superblock) NInodeBlocks() uint64 {
	return util.RoundUp(sb.NInodes, common.IPB)
}

// DataStart is the first block not permanently reserved.
func (sb *Superblock) DataStart() common.Bnum {
	return sb.InodeStart() + common.Bnum(sb.NInodeBlocks())
}

func (sb *Superblock) SlotAddr(pos uint64) addr.Addr {
	return addr.MkSlotAddr(sb.InodeStart(), pos, common.INODESZ)
}

// Validate checks that the layout fits a device of nblocks logical blocks.
func (sb *Superblock) Validate(nblocks uint64) error {
	if sb.NBlocks == 0 || sb.NBlocks > nblocks {
		return merry.Prependf(common.ErrCorrupt, "superblock claims %d blocks, device has %d",
			sb.NBlocks, nblocks)
	}
	if sb.Size != sb.NBlocks*disk.BlockSize {
		return merry.Prependf(common.ErrCorrupt, "size %d does not match %d blocks",
			sb.Size, sb.NBlocks)
	}
	if uint64(sb.DataStart()) >= sb.NBlocks {
		return merry.Prependf(common.ErrCorrupt, "no data region: data starts at %d of %d",
			sb.DataStart(), sb.NBlocks)
	}
	if sb.InodeEnd == 0 || sb.InodeEnd > sb.LogTop || sb.LogTop > sb.NInodes {
		return merry.Prependf(common.ErrCorrupt, "log cursor %d/%d outside %d slots",
			sb.InodeEnd, sb.LogTop, sb.NInodes)
	}
	return nil
}

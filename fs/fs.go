// Package fs assembles the storage engine: it formats and opens an image,
// and maps file content onto direct and single-indirect blocks.
package fs

import (
	"github.com/ansel1/merry"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/codeworm96/cse-labs/alloc"
	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/disk"
	"github.com/codeworm96/cse-labs/ecc"
	"github.com/codeworm96/cse-labs/inode"
	"github.com/codeworm96/cse-labs/super"
	"github.com/codeworm96/cse-labs/util"
)

const DefaultInodes uint64 = 1024

type Options struct {
	StrictECC bool
}

// Params sizes a new image. Zero NBlocks uses the whole store; zero
// NInodes uses DefaultInodes.
type Params struct {
	NBlocks uint64
	NInodes uint64
	Options
}

type FS struct {
	store disk.Store
	dev   *ecc.Device
	boot  *super.Boot
	sb    *super.Superblock
	alloc *alloc.Alloc
	log   *inode.Log
	now   func() uint64
}

type Stats struct {
	Volume     uuid.UUID
	NBlocks    uint64
	FreeBlocks uint64
	DataStart  uint64
	Log        inode.Stats
	ECC        ecc.Stats
}

func readBlock(dev *ecc.Device, bn common.Bnum) (disk.Block, error) {
	blk := make(disk.Block, disk.BlockSize)
	if err := dev.Read(bn, blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// Format writes an empty file system holding only the root directory.
func Format(store disk.Store, p Params) (*FS, error) {
	dev := ecc.MkDevice(store, ecc.Options{Strict: p.StrictECC})
	nblocks := p.NBlocks
	if nblocks == 0 {
		nblocks = dev.NumBlocks()
	}
	if nblocks > dev.NumBlocks() {
		return nil, merry.Prependf(common.ErrIO, "format: %d blocks requested, store holds %d",
			nblocks, dev.NumBlocks())
	}
	ninodes := p.NInodes
	if ninodes == 0 {
		ninodes = DefaultInodes
	}
	sb := super.MkSuperblock(nblocks, ninodes)
	if err := sb.Validate(nblocks); err != nil {
		return nil, merry.Prepend(err, "format")
	}

	boot := super.MkBoot()
	if err := dev.Write(common.BOOTBLOCK, boot.Encode()); err != nil {
		return nil, err
	}
	al, err := alloc.Format(dev, sb.BitmapStart(), nblocks, sb.DataStart())
	if err != nil {
		return nil, err
	}
	l, err := inode.Format(dev, al, sb)
	if err != nil {
		return nil, err
	}
	root, err := l.AllocInode(common.T_DIR)
	if err != nil {
		return nil, err
	}
	if root != common.ROOTINUM {
		panic("format: root inode misplaced")
	}
	if err := dev.Barrier(); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"volume":  boot.Volume,
		"nblocks": nblocks,
		"ninodes": ninodes,
		"data":    sb.DataStart(),
	}).Info("formatted")
	return &FS{store: store, dev: dev, boot: boot, sb: sb, alloc: al, log: l, now: unixNow}, nil
}

// Open loads a file system written by Format.
func Open(store disk.Store, opts Options) (*FS, error) {
	dev := ecc.MkDevice(store, ecc.Options{Strict: opts.StrictECC})
	if dev.NumBlocks() <= common.SUPERBLOCK {
		return nil, merry.Prependf(common.ErrCorrupt, "open: store too small (%d blocks)", store.Size())
	}
	blk, err := readBlock(dev, common.BOOTBLOCK)
	if err != nil {
		return nil, err
	}
	boot, err := super.DecodeBoot(blk)
	if err != nil {
		return nil, err
	}
	blk, err = readBlock(dev, common.SUPERBLOCK)
	if err != nil {
		return nil, err
	}
	sb := super.DecodeSuperblock(blk)
	if err := sb.Validate(dev.NumBlocks()); err != nil {
		return nil, err
	}
	al, err := alloc.MkAlloc(dev, sb.BitmapStart(), sb.NBlocks, sb.DataStart())
	if err != nil {
		return nil, err
	}
	l, err := inode.Open(dev, al, sb)
	if err != nil {
		return nil, err
	}
	util.DPrintf(1, "open: volume %v\n", boot.Volume)
	return &FS{store: store, dev: dev, boot: boot, sb: sb, alloc: al, log: l, now: unixNow}, nil
}

// Create allocates a new inode of type t.
func (fs *FS) Create(t uint64) (common.Inum, error) {
	inum, err := fs.log.AllocInode(t)
	if err != nil {
		return common.NULLINUM, err
	}
	util.DPrintf(1, "create: %d %s\n", inum, common.TypeName(t))
	return inum, nil
}

func (fs *FS) Commit() error {
	return fs.log.Commit()
}

func (fs *FS) Undo() error {
	return fs.log.Undo()
}

func (fs *FS) Redo() error {
	return fs.log.Redo()
}

func (fs *FS) Stat() Stats {
	return Stats{
		Volume:     fs.boot.Volume,
		NBlocks:    fs.alloc.NumBlocks(),
		FreeBlocks: fs.alloc.NumFree(),
		DataStart:  fs.alloc.Reserved(),
		Log:        fs.log.Stat(),
		ECC:        fs.dev.Stats(),
	}
}

func (fs *FS) Close() error {
	if err := fs.dev.Barrier(); err != nil {
		return err
	}
	return fs.dev.Close()
}

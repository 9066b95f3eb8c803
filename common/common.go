package common

import (
	"github.com/tchajed/goose/machine/disk"
)

const (
	NBITBLOCK uint64 = disk.BlockSize * 8
	INODESZ   uint64 = 512 // on-disk size of one log slot
	IPB       uint64 = disk.BlockSize / INODESZ

	NDIRECT   uint64 = 32
	NINDIRECT uint64 = disk.BlockSize / 8
	MAXFILE   uint64 = NDIRECT + NINDIRECT // in blocks

	// Each logical block is stored as a primary and a redundant pair of
	// coded physical blocks.
	NCOPY      uint64 = 2
	PHYSPERLOG uint64 = 2 * NCOPY
)

// Fixed logical block numbers
const (
	BOOTBLOCK   Bnum = 0
	SUPERBLOCK  Bnum = 1
	BITMAPSTART Bnum = 2
)

type Inum uint64
type Bnum = uint64

const (
	NULLINUM Inum = 0
	ROOTINUM Inum = 1
	NULLBNUM Bnum = 0
)

// Uncommitted tags a log slot that belongs to the mutable head.
const Uncommitted uint64 = ^uint64(0)

// Inode types
const (
	T_FREE    uint64 = 0
	T_DIR     uint64 = 1
	T_FILE    uint64 = 2
	T_SYMLINK uint64 = 3
)

func TypeName(t uint64) string {
	switch t {
	case T_FREE:
		return "free"
	case T_DIR:
		return "dir"
	case T_FILE:
		return "file"
	case T_SYMLINK:
		return "symlink"
	}
	return "unknown"
}

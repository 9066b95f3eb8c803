// Package disk is the physical store: a fixed number of BlockSize blocks
// addressed by block number, with bounds checking and nothing else.
package disk

import (
	"github.com/ansel1/merry"
	gdisk "github.com/tchajed/goose/machine/disk"

	"github.com/codeworm96/cse-labs/common"
)

// Block is a 4096-byte buffer
type Block = gdisk.Block

const BlockSize uint64 = gdisk.BlockSize

// Store provides access to a physical block-based disk
type Store interface {
	// Read reads a disk block by address
	Read(a uint64) (Block, error)

	// ReadTo reads the disk block at a and stores the result in b
	ReadTo(a uint64, b Block) error

	// Write updates a disk block by address
	Write(a uint64, v Block) error

	// Size reports how big the disk is, in blocks
	Size() uint64

	// Barrier ensures data is persisted.
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}

func checkAccess(op string, a uint64, size uint64, b Block) error {
	if uint64(len(b)) != BlockSize {
		return merry.Prependf(common.ErrIO, "%s %d: buffer is %d bytes, not block-sized",
			op, a, len(b))
	}
	if a >= size {
		return merry.Prependf(common.ErrIO, "%s: out-of-bounds block %d (size %d)",
			op, a, size)
	}
	return nil
}

var _ Store = (*gooseStore)(nil)

// gooseStore adapts a goose disk, which panics on bad addresses, to Store.
type gooseStore struct {
	d    gdisk.Disk
	size uint64
}

func FromGoose(d gdisk.Disk) Store {
	return &gooseStore{d: d, size: d.Size()}
}

// NewMemStore returns an all-zero in-memory store of numBlocks blocks.
func NewMemStore(numBlocks uint64) Store {
	return FromGoose(gdisk.NewMemDisk(numBlocks))
}

func (s *gooseStore) ReadTo(a uint64, b Block) error {
	if err := checkAccess("read", a, s.size, b); err != nil {
		return err
	}
	copy(b, s.d.Read(a))
	return nil
}

func (s *gooseStore) Read(a uint64) (Block, error) {
	b := make(Block, BlockSize)
	err := s.ReadTo(a, b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *gooseStore) Write(a uint64, v Block) error {
	if err := checkAccess("write", a, s.size, v); err != nil {
		return err
	}
	s.d.Write(a, v)
	return nil
}

func (s *gooseStore) Size() uint64 {
	return s.size
}

func (s *gooseStore) Barrier() error {
	s.d.Barrier()
	return nil
}

func (s *gooseStore) Close() error {
	s.d.Close()
	return nil
}

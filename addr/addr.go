package addr

import (
	"github.com/codeworm96/cse-labs/common"
)

// Addr identifies the start of an object inside a logical block.
//
// Blkno is the logical block number containing the object, and Off is the
// location of the object within the block (expressed as a bit offset). The
// size of the object is determined by the context in which Addr is used: a
// single bitmap bit or one inode log slot.
type Addr struct {
	Blkno common.Bnum
	Off   uint64 // offset in bits
}

func (a Addr) Flatid() uint64 {
	return uint64(a.Blkno)*common.NBITBLOCK + a.Off
}

// ByteOff is the offset of the object in bytes; Off must be byte aligned.
func (a Addr) ByteOff() uint64 {
	return a.Off / 8
}

func MkAddr(blkno common.Bnum, off uint64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// MkBitAddr is the address of bit n of a bitmap starting at block start.
func MkBitAddr(start common.Bnum, n uint64) Addr {
	bit := n % common.NBITBLOCK
	i := n / common.NBITBLOCK
	addr := MkAddr(start+common.Bnum(i), bit)
	return addr
}

// MkSlotAddr is the address of slot n of a table of sz-byte slots starting
// at block start.
func MkSlotAddr(start common.Bnum, n uint64, sz uint64) Addr {
	perBlock := common.NBITBLOCK / (sz * 8)
	return MkAddr(start+common.Bnum(n/perBlock), (n%perBlock)*sz*8)
}

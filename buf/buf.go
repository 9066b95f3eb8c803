// buf manages sub-block disk objects, to be packed into logical blocks
package buf

import (
	"github.com/tchajed/marshal"

	"github.com/codeworm96/cse-labs/addr"
	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/disk"
	"github.com/codeworm96/cse-labs/ecc"
	"github.com/codeworm96/cse-labs/util"
)

// A Buf is a view of a disk object (an inode slot, a bitmap bit, or a whole
// block) and any pending change to it.
type Buf struct {
	Addr  addr.Addr
	Sz    uint64 // number of bits
	Data  []byte
	dirty bool // has this object been written to?
}

func MkBuf(addr addr.Addr, sz uint64, data []byte) *Buf {
	b := &Buf{
		Addr:  addr,
		Sz:    sz,
		Data:  data,
		dirty: false,
	}
	return b
}

// Load the bits of a disk block into a new buf, as specified by addr
func MkBufLoad(addr addr.Addr, sz uint64, blk disk.Block) *Buf {
	bytefirst := addr.Off / 8
	bytelast := (addr.Off + sz - 1) / 8
	data := blk[bytefirst : bytelast+1]
	b := &Buf{
		Addr:  addr,
		Sz:    sz,
		Data:  data,
		dirty: false,
	}
	return b
}

// ReadBuf reads the block holding addr through dev and returns a buf for
// the sz bits at addr.
func ReadBuf(dev *ecc.Device, addr addr.Addr, sz uint64) (*Buf, error) {
	blk := make(disk.Block, disk.BlockSize)
	if err := dev.Read(addr.Blkno, blk); err != nil {
		return nil, err
	}
	return MkBufLoad(addr, sz, blk), nil
}

// Install 1 bit from src into dst, at offset bit. return new dst.
func installOneBit(src byte, dst byte, bit uint64) byte {
	var new byte = dst
	if src&(1<<bit) != dst&(1<<bit) {
		if src&(1<<bit) == 0 {
			// dst is 1, but should be 0
			new = new & ^(1 << bit)
		} else {
			// dst is 0, but should be 1
			new = new | (1 << bit)
		}
	}
	return new
}

// Install bit from src to dst, at dstoff in destination. dstoff is in bits.
func installBit(src []byte, dst []byte, dstoff uint64) {
	dstbyte := dstoff / 8
	dst[dstbyte] = installOneBit(src[0], dst[dstbyte], dstoff%8)
}

// Install bytes from src to dst.
func installBytes(src []byte, dst []byte, dstoff uint64, nbit uint64) {
	sz := nbit / 8
	copy(dst[dstoff/8:], src[:sz])
}

// Install the bits from buf into blk. Two cases: a bit or a byte-aligned
// object (inode slot or whole block).
func (buf *Buf) Install(blk disk.Block) {
	util.DPrintf(20, "%v: install\n", buf.Addr)
	if buf.Sz == 1 {
		installBit(buf.Data, blk, buf.Addr.Off)
	} else if buf.Sz%8 == 0 && buf.Addr.Off%8 == 0 {
		installBytes(buf.Data, blk, buf.Addr.Off, buf.Sz)
	} else {
		panic("Install unsupported\n")
	}
}

// GetBit reports the bit a one-bit buf refers to.
func (buf *Buf) GetBit() bool {
	return buf.Data[0]&(1<<(buf.Addr.Off%8)) != 0
}

// SetBit updates the bit a one-bit buf refers to.
func (buf *Buf) SetBit(v bool) {
	bit := buf.Addr.Off % 8
	if v {
		buf.Data[0] = buf.Data[0] | (1 << bit)
	} else {
		buf.Data[0] = buf.Data[0] & ^(1 << bit)
	}
	buf.SetDirty()
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

func (buf *Buf) SetDirty() {
	buf.dirty = true
}

// WriteDirect writes buf's object to disk, reading the rest of its block
// first unless buf covers the whole block.
func (buf *Buf) WriteDirect(dev *ecc.Device) error {
	buf.SetDirty()
	if buf.Sz == common.NBITBLOCK {
		return dev.Write(buf.Addr.Blkno, buf.Data)
	}
	blk := make(disk.Block, disk.BlockSize)
	if err := dev.Read(buf.Addr.Blkno, blk); err != nil {
		return err
	}
	buf.Install(blk)
	return dev.Write(buf.Addr.Blkno, blk)
}

func (buf *Buf) BnumGet(off uint64) common.Bnum {
	dec := marshal.NewDec(buf.Data[off : off+8])
	return common.Bnum(dec.GetInt())
}

func (buf *Buf) BnumPut(off uint64, v common.Bnum) {
	enc := marshal.NewEnc(8)
	enc.PutInt(uint64(v))
	copy(buf.Data[off:off+8], enc.Finish())
	buf.SetDirty()
}

package fs

import (
	"time"

	"github.com/ansel1/merry"

	"github.com/codeworm96/cse-labs/addr"
	"github.com/codeworm96/cse-labs/buf"
	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/disk"
	"github.com/codeworm96/cse-labs/inode"
	"github.com/codeworm96/cse-labs/util"
)

func unixNow() uint64 {
	return uint64(time.Now().Unix())
}

func (fs *FS) readIndirect(bn common.Bnum) (*buf.Buf, error) {
	return buf.ReadBuf(fs.dev, addr.MkAddr(bn, 0), common.NBITBLOCK)
}

// blocks lists the data blocks of ip in content order.
func (fs *FS) blocks(ip *inode.Inode) ([]common.Bnum, error) {
	n := ip.NBlocks()
	bns := make([]common.Bnum, 0, n)
	for i := uint64(0); i < n && i < common.NDIRECT; i++ {
		bns = append(bns, ip.Direct[i])
	}
	if nind := ip.NIndirect(); nind > 0 {
		ib, err := fs.readIndirect(ip.Indirect)
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < nind; i++ {
			bns = append(bns, ib.BnumGet(i*8))
		}
	}
	return bns, nil
}

func (fs *FS) readContent(ip *inode.Inode) ([]byte, error) {
	bns, err := fs.blocks(ip)
	if err != nil {
		return nil, err
	}
	data := make([]byte, ip.Size)
	blk := make(disk.Block, disk.BlockSize)
	for i, bn := range bns {
		if err := fs.dev.Read(bn, blk); err != nil {
			return nil, err
		}
		copy(data[uint64(i)*disk.BlockSize:], blk)
	}
	return data, nil
}

func (fs *FS) freeBlocks(bns []common.Bnum) {
	for _, bn := range bns {
		if err := fs.alloc.FreeBlock(bn); err != nil {
			util.DPrintf(0, "fs: free %d: %v\n", bn, err)
		}
	}
}

// release frees blocks no persisted record points at any more.
func (fs *FS) release(bns []common.Bnum) error {
	var first error
	for _, bn := range bns {
		if err := fs.alloc.FreeBlock(bn); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// shrink detaches ip's blocks from index n on, including the indirect block
// once no entries in it remain. Nothing is freed or written: the caller
// persists ip, then writes back the returned indirect buf (nil if unchanged)
// and releases the returned blocks.
func (fs *FS) shrink(ip *inode.Inode, n uint64) ([]common.Bnum, *buf.Buf, error) {
	old := ip.NBlocks()
	var freed []common.Bnum
	var ib *buf.Buf
	for i := old; i > n; i-- {
		j := i - 1
		if j < common.NDIRECT {
			freed = append(freed, ip.Direct[j])
			ip.Direct[j] = common.NULLBNUM
			continue
		}
		if ib == nil {
			b, err := fs.readIndirect(ip.Indirect)
			if err != nil {
				return nil, nil, err
			}
			ib = b
		}
		off := (j - common.NDIRECT) * 8
		freed = append(freed, ib.BnumGet(off))
		ib.BnumPut(off, common.NULLBNUM)
	}
	if n <= common.NDIRECT && ip.Indirect != common.NULLBNUM {
		freed = append(freed, ip.Indirect)
		ip.Indirect = common.NULLBNUM
		ib = nil
	}
	return freed, ib, nil
}

// grow allocates blocks for ip up to n, and the indirect block on the first
// crossing past the direct pointers. On failure every block allocated here
// is freed and ip's pointers are restored.
func (fs *FS) grow(ip *inode.Inode, n uint64) error {
	old := ip.NBlocks()
	var fresh []common.Bnum
	var ib *buf.Buf
	newInd := false

	rollback := func(err error) error {
		fs.freeBlocks(fresh)
		for i := old; i < n && i < common.NDIRECT; i++ {
			ip.Direct[i] = common.NULLBNUM
		}
		if newInd {
			ip.Indirect = common.NULLBNUM
		}
		return err
	}

	for i := old; i < n; i++ {
		if i >= common.NDIRECT && ib == nil {
			if ip.Indirect == common.NULLBNUM {
				ind, err := fs.alloc.AllocBlock()
				if err != nil {
					return rollback(err)
				}
				fresh = append(fresh, ind)
				ip.Indirect = ind
				newInd = true
				ib = buf.MkBuf(addr.MkAddr(ind, 0), common.NBITBLOCK, make([]byte, disk.BlockSize))
			} else {
				b, err := fs.readIndirect(ip.Indirect)
				if err != nil {
					return rollback(err)
				}
				ib = b
			}
		}
		bn, err := fs.alloc.AllocBlock()
		if err != nil {
			return rollback(err)
		}
		fresh = append(fresh, bn)
		if i < common.NDIRECT {
			ip.Direct[i] = bn
		} else {
			ib.BnumPut((i-common.NDIRECT)*8, bn)
		}
	}
	if ib != nil {
		if err := ib.WriteDirect(fs.dev); err != nil {
			return rollback(err)
		}
	}
	return nil
}

// writeContent makes data the content of ip and persists ip.
func (fs *FS) writeContent(ip *inode.Inode, data []byte) error {
	n := util.RoundUp(uint64(len(data)), disk.BlockSize)
	if n > common.MAXFILE {
		return merry.Prependf(common.ErrTooLarge, "inum %d: %d bytes", ip.Inum, len(data))
	}
	old := ip.NBlocks()
	var freed []common.Bnum
	var ib *buf.Buf
	if n < old {
		var err error
		if freed, ib, err = fs.shrink(ip, n); err != nil {
			return err
		}
	} else if n > old {
		if err := fs.grow(ip, n); err != nil {
			return err
		}
	}
	ip.Size = uint64(len(data))

	bns, err := fs.blocks(ip)
	if err != nil {
		return err
	}
	for i, bn := range bns {
		blk := make(disk.Block, disk.BlockSize)
		copy(blk, data[uint64(i)*disk.BlockSize:])
		if err := fs.dev.Write(bn, blk); err != nil {
			return err
		}
	}
	t := fs.now()
	ip.Mtime = t
	ip.Ctime = t
	if err := fs.log.PutInode(ip); err != nil {
		return err
	}
	if ib != nil {
		if err := ib.WriteDirect(fs.dev); err != nil {
			return err
		}
	}
	return fs.release(freed)
}

// ReadFile returns the content of inum. Reading a record from a committed
// snapshot leaves the log untouched; reading the head updates its atime.
func (fs *FS) ReadFile(inum common.Inum) ([]byte, error) {
	ip, historical, err := fs.log.Lookup(inum)
	if err != nil {
		return nil, err
	}
	data, err := fs.readContent(ip)
	if err != nil {
		return nil, err
	}
	if !historical {
		ip.Atime = fs.now()
		if err := fs.log.PutInode(ip); err != nil {
			return nil, err
		}
	}
	util.DPrintf(5, "read %d: %d bytes\n", inum, len(data))
	return data, nil
}

// WriteFile replaces the content of inum with data.
func (fs *FS) WriteFile(inum common.Inum, data []byte) error {
	if uint64(len(data)) > common.MAXFILE*disk.BlockSize {
		return merry.Prependf(common.ErrTooLarge, "inum %d: %d bytes", inum, len(data))
	}
	ip, err := fs.log.GetInode(inum)
	if err != nil {
		return err
	}
	if err := fs.writeContent(ip, data); err != nil {
		return err
	}
	util.DPrintf(5, "write %d: %d bytes\n", inum, len(data))
	return nil
}

// RemoveFile frees inum's blocks and marks it deleted.
func (fs *FS) RemoveFile(inum common.Inum) error {
	ip, err := fs.log.GetInode(inum)
	if err != nil {
		return err
	}
	freed, _, err := fs.shrink(ip, 0)
	if err != nil {
		return err
	}
	// the blocks stay allocated unless the tombstone lands
	if err := fs.log.FreeInode(inum); err != nil {
		return err
	}
	util.DPrintf(1, "remove %d\n", inum)
	return fs.release(freed)
}

func (fs *FS) GetAttr(inum common.Inum) (inode.Attr, error) {
	ip, _, err := fs.log.Lookup(inum)
	if err != nil {
		return inode.Attr{}, err
	}
	return ip.Attr(), nil
}

// SetAttr resizes inum to attr.Size, truncating or zero-extending its
// content. The other fields of attr are ignored.
func (fs *FS) SetAttr(inum common.Inum, attr inode.Attr) error {
	if attr.Size > common.MAXFILE*disk.BlockSize {
		return merry.Prependf(common.ErrTooLarge, "inum %d: %d bytes", inum, attr.Size)
	}
	ip, err := fs.log.GetInode(inum)
	if err != nil {
		return err
	}
	if attr.Size == ip.Size {
		ip.Ctime = fs.now()
		return fs.log.PutInode(ip)
	}
	data, err := fs.readContent(ip)
	if err != nil {
		return err
	}
	if attr.Size < ip.Size {
		data = data[:attr.Size]
	} else {
		data = append(data, make([]byte, attr.Size-ip.Size)...)
	}
	return fs.writeContent(ip, data)
}

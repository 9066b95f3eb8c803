// Package inode implements the versioned inode log: an append-only array of
// fixed-size inode records, cut into snapshots by boundary markers.
package inode

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/disk"
	"github.com/codeworm96/cse-labs/util"
)

// Inode is one log record. A record is a marker when Type is T_FREE and
// Inum is NULLINUM; its Commit field then holds the version it closes.
type Inode struct {
	Commit   uint64
	Type     uint64
	Inum     common.Inum
	Pos      uint64 // log slot holding this record
	Size     uint64
	Atime    uint64
	Mtime    uint64
	Ctime    uint64
	Direct   [common.NDIRECT]common.Bnum
	Indirect common.Bnum
}

// Attr is the projection of an inode returned by getattr.
type Attr struct {
	Type  uint64
	Size  uint64
	Atime uint64
	Mtime uint64
	Ctime uint64
}

func (ip *Inode) String() string {
	return fmt.Sprintf("# %d %s pos %d commit %#x size %d", ip.Inum,
		common.TypeName(ip.Type), ip.Pos, ip.Commit, ip.Size)
}

func mkMarker(version uint64) *Inode {
	return &Inode{Commit: version, Type: common.T_FREE, Inum: common.NULLINUM}
}

func mkTombstone(inum common.Inum) *Inode {
	return &Inode{Commit: common.Uncommitted, Type: common.T_FREE, Inum: inum}
}

func (ip *Inode) IsMarker() bool {
	return ip.Type == common.T_FREE && ip.Inum == common.NULLINUM
}

func (ip *Inode) IsTombstone() bool {
	return ip.Type == common.T_FREE && ip.Inum != common.NULLINUM
}

func (ip *Inode) Attr() Attr {
	return Attr{
		Type:  ip.Type,
		Size:  ip.Size,
		Atime: ip.Atime,
		Mtime: ip.Mtime,
		Ctime: ip.Ctime,
	}
}

// NBlocks is the number of data blocks the content occupies.
func (ip *Inode) NBlocks() uint64 {
	return util.RoundUp(ip.Size, disk.BlockSize)
}

// NIndirect is the number of data blocks reached through the indirect block.
func (ip *Inode) NIndirect() uint64 {
	n := ip.NBlocks()
	if n <= common.NDIRECT {
		return 0
	}
	return n - common.NDIRECT
}

func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt(ip.Commit)
	enc.PutInt(ip.Type)
	enc.PutInt(uint64(ip.Inum))
	enc.PutInt(ip.Pos)
	enc.PutInt(ip.Size)
	enc.PutInt(ip.Atime)
	enc.PutInt(ip.Mtime)
	enc.PutInt(ip.Ctime)
	enc.PutInts(ip.Direct[:])
	enc.PutInt(ip.Indirect)
	return enc.Finish()
}

func Decode(data []byte) *Inode {
	ip := &Inode{}
	dec := marshal.NewDec(data)
	ip.Commit = dec.GetInt()
	ip.Type = dec.GetInt()
	ip.Inum = common.Inum(dec.GetInt())
	ip.Pos = dec.GetInt()
	ip.Size = dec.GetInt()
	ip.Atime = dec.GetInt()
	ip.Mtime = dec.GetInt()
	ip.Ctime = dec.GetInt()
	copy(ip.Direct[:], dec.GetInts(common.NDIRECT))
	ip.Indirect = dec.GetInt()
	return ip
}

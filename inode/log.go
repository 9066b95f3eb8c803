package inode

import (
	"sync"
	"time"

	"github.com/ansel1/merry"
	log "github.com/sirupsen/logrus"

	"github.com/codeworm96/cse-labs/addr"
	"github.com/codeworm96/cse-labs/alloc"
	"github.com/codeworm96/cse-labs/buf"
	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/disk"
	"github.com/codeworm96/cse-labs/ecc"
	"github.com/codeworm96/cse-labs/super"
	"github.com/codeworm96/cse-labs/util"
)

// Log is the inode log. Slots [1, End()) are visible; slots [End(), top)
// hold history that Redo can bring back. Any append or GetInode discards
// that history.
//
// Lock order: Log.mu, then the allocator's lock.
type Log struct {
	mu    *sync.Mutex
	dev   *ecc.Device
	alloc *alloc.Alloc
	sb    *super.Superblock
	idx   *index
	now   func() uint64
}

type Stats struct {
	Version   uint64
	End       uint64
	Top       uint64
	NInodes   uint64
	NextInode uint64
}

func unixNow() uint64 {
	return uint64(time.Now().Unix())
}

func mkLog(dev *ecc.Device, al *alloc.Alloc, sb *super.Superblock) *Log {
	return &Log{
		mu:    new(sync.Mutex),
		dev:   dev,
		alloc: al,
		sb:    sb,
		idx:   mkIndex(),
		now:   unixNow,
	}
}

// Format starts an empty log described by sb and persists sb.
func Format(dev *ecc.Device, al *alloc.Alloc, sb *super.Superblock) (*Log, error) {
	l := mkLog(dev, al, sb)
	if err := l.writeSuper(); err != nil {
		return nil, err
	}
	return l, nil
}

// Open rebuilds the index from the slots [1, top) recorded in sb.
func Open(dev *ecc.Device, al *alloc.Alloc, sb *super.Superblock) (*Log, error) {
	l := mkLog(dev, al, sb)
	blk := make(disk.Block, disk.BlockSize)
	var blkno common.Bnum
	for pos := uint64(1); pos < sb.LogTop; pos++ {
		a := sb.SlotAddr(pos)
		if pos == 1 || a.Blkno != blkno {
			blkno = a.Blkno
			if err := dev.Read(blkno, blk); err != nil {
				return nil, err
			}
		}
		ip := Decode(buf.MkBufLoad(a, common.INODESZ*8, blk).Data)
		if ip.Pos != pos {
			return nil, merry.Prependf(common.ErrCorrupt, "slot %d claims position %d", pos, ip.Pos)
		}
		l.idx.add(ip)
	}
	util.DPrintf(1, "log: opened version %d end %d top %d\n", sb.Version, sb.InodeEnd, sb.LogTop)
	return l, nil
}

func (l *Log) writeSuper() error {
	return l.dev.Write(common.SUPERBLOCK, l.sb.Encode())
}

func (l *Log) readSlot(pos uint64) (*Inode, error) {
	b, err := buf.ReadBuf(l.dev, l.sb.SlotAddr(pos), common.INODESZ*8)
	if err != nil {
		return nil, err
	}
	return Decode(b.Data), nil
}

func (l *Log) writeSlot(ip *Inode) error {
	b := buf.MkBuf(l.sb.SlotAddr(ip.Pos), common.INODESZ*8, ip.Encode())
	return b.WriteDirect(l.dev)
}

// discardRedo drops the history past the visible end. Assumes caller holds
// l.mu.
func (l *Log) discardRedo() error {
	if l.sb.LogTop == l.sb.InodeEnd {
		return nil
	}
	util.DPrintf(3, "log: discard redo history [%d, %d)\n", l.sb.InodeEnd, l.sb.LogTop)
	l.idx.truncate(l.sb.InodeEnd)
	l.sb.LogTop = l.sb.InodeEnd
	return l.writeSuper()
}

// appendSlot places ip at the end of the log. Assumes caller holds l.mu.
func (l *Log) appendSlot(ip *Inode) error {
	if l.sb.InodeEnd >= l.sb.NInodes {
		log.WithFields(log.Fields{
			"ninodes": l.sb.NInodes,
		}).Warn("log: out of inode slots")
		return merry.Prependf(common.ErrNoSpace, "inode log full (%d slots)", l.sb.NInodes)
	}
	ip.Pos = l.sb.InodeEnd
	l.idx.truncate(ip.Pos)
	l.sb.InodeEnd++
	l.sb.LogTop = l.sb.InodeEnd
	if err := l.writeSuper(); err != nil {
		return err
	}
	if err := l.writeSlot(ip); err != nil {
		return err
	}
	l.idx.add(ip)
	util.DPrintf(5, "log: append %v\n", ip)
	return nil
}

// AllocInode appends the first record of a new inode of type t.
func (l *Log) AllocInode(t uint64) (common.Inum, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sb.InodeEnd >= l.sb.NInodes {
		return common.NULLINUM, merry.Prependf(common.ErrNoSpace, "inode log full (%d slots)", l.sb.NInodes)
	}
	l.sb.NextInode++
	now := l.now()
	ip := &Inode{
		Commit: common.Uncommitted,
		Type:   t,
		Inum:   common.Inum(l.sb.NextInode),
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
	}
	if err := l.appendSlot(ip); err != nil {
		return common.NULLINUM, err
	}
	return ip.Inum, nil
}

// resolve finds the visible record for inum and whether a marker follows
// it anywhere in the log, including redo history past the visible end. A
// record followed by a marker belongs to a committed snapshot and must not
// be written in place. Assumes caller holds l.mu.
func (l *Log) resolve(inum common.Inum) (*Inode, bool, error) {
	pos, ok := l.idx.newest(inum, l.sb.InodeEnd)
	if !ok {
		return nil, false, merry.Prependf(common.ErrNotFound, "inum %d", inum)
	}
	ip, err := l.readSlot(pos)
	if err != nil {
		return nil, false, err
	}
	if ip.IsTombstone() {
		return nil, false, merry.Prependf(common.ErrNotFound, "inum %d removed", inum)
	}
	return ip, l.idx.crosses(pos, l.sb.LogTop), nil
}

// Lookup returns a copy of the visible record for inum without promoting
// it. historical is true when the record belongs to a committed snapshot.
func (l *Log) Lookup(inum common.Inum) (ip *Inode, historical bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolve(inum)
}

// GetInode returns a mutable copy of inum's head record. A record that
// belongs to a committed snapshot is first promoted: its content is copied
// into fresh blocks and a new head record is appended.
func (l *Log) GetInode(inum common.Inum) (*Inode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.discardRedo(); err != nil {
		return nil, err
	}
	ip, historical, err := l.resolve(inum)
	if err != nil {
		return nil, err
	}
	if !historical {
		return ip, nil
	}
	return l.promote(ip)
}

// copyBlock allocates a block holding a copy of src.
func (l *Log) copyBlock(src common.Bnum) (common.Bnum, error) {
	dst, err := l.alloc.AllocBlock()
	if err != nil {
		return common.NULLBNUM, err
	}
	blk := make(disk.Block, disk.BlockSize)
	if err := l.dev.Read(src, blk); err != nil {
		l.alloc.FreeBlock(dst)
		return common.NULLBNUM, err
	}
	if err := l.dev.Write(dst, blk); err != nil {
		l.alloc.FreeBlock(dst)
		return common.NULLBNUM, err
	}
	return dst, nil
}

func (l *Log) freeAll(bns []common.Bnum) {
	for _, bn := range bns {
		if err := l.alloc.FreeBlock(bn); err != nil {
			util.DPrintf(0, "log: free %d during rollback: %v\n", bn, err)
		}
	}
}

// promote copies old into a new head record with private blocks. Assumes
// caller holds l.mu.
func (l *Log) promote(old *Inode) (*Inode, error) {
	ip := *old
	ip.Commit = common.Uncommitted
	var fresh []common.Bnum

	ndirect := util.Min(old.NBlocks(), common.NDIRECT)
	for i := uint64(0); i < ndirect; i++ {
		bn, err := l.copyBlock(old.Direct[i])
		if err != nil {
			l.freeAll(fresh)
			return nil, err
		}
		fresh = append(fresh, bn)
		ip.Direct[i] = bn
	}

	if nind := old.NIndirect(); nind > 0 {
		ind, err := l.copyBlock(old.Indirect)
		if err != nil {
			l.freeAll(fresh)
			return nil, err
		}
		fresh = append(fresh, ind)
		ib, err := buf.ReadBuf(l.dev, addr.MkAddr(ind, 0), common.NBITBLOCK)
		if err != nil {
			l.freeAll(fresh)
			return nil, err
		}
		for i := uint64(0); i < nind; i++ {
			bn, err := l.copyBlock(ib.BnumGet(i * 8))
			if err != nil {
				l.freeAll(fresh)
				return nil, err
			}
			fresh = append(fresh, bn)
			ib.BnumPut(i*8, bn)
		}
		if err := ib.WriteDirect(l.dev); err != nil {
			l.freeAll(fresh)
			return nil, err
		}
		ip.Indirect = ind
	} else {
		ip.Indirect = common.NULLBNUM
	}

	if err := l.appendSlot(&ip); err != nil {
		l.freeAll(fresh)
		return nil, err
	}
	log.WithFields(log.Fields{
		"inum":   ip.Inum,
		"from":   old.Pos,
		"to":     ip.Pos,
		"blocks": len(fresh),
	}).Debug("log: promoted historical inode")
	return &ip, nil
}

// PutInode overwrites the slot ip was read from.
func (l *Log) PutInode(ip *Inode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ip.Pos == 0 || ip.Pos >= l.sb.InodeEnd {
		return merry.Prependf(common.ErrIO, "put %v: slot not visible (end %d)", ip, l.sb.InodeEnd)
	}
	return l.writeSlot(ip)
}

// FreeInode appends a tombstone for inum.
func (l *Log) FreeInode(inum common.Inum) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendSlot(mkTombstone(inum))
}

// Commit closes the current version with a marker.
func (l *Log) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.appendSlot(mkMarker(l.sb.Version)); err != nil {
		return err
	}
	l.sb.Version++
	util.DPrintf(1, "log: commit -> version %d\n", l.sb.Version)
	return l.writeSuper()
}

// Undo rewinds the visible log to just before the marker that closed the
// previous version. Changes made since the last commit are dropped and Redo
// does not restore them, so Undo followed by Redo leaves the visible state
// unchanged only when nothing was modified since the last commit.
func (l *Log) Undo() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sb.Version == 0 {
		return merry.Prependf(common.ErrNoVersion, "undo: at version 0")
	}
	pos, ok := l.idx.findBefore(l.sb.Version-1, l.sb.InodeEnd)
	if !ok {
		return merry.Prependf(common.ErrNoVersion, "undo: no marker for version %d", l.sb.Version-1)
	}
	l.sb.Version--
	l.sb.InodeEnd = pos
	util.DPrintf(1, "log: undo -> version %d end %d\n", l.sb.Version, pos)
	return l.writeSuper()
}

// Redo moves the visible log forward past the next marker. It restores
// committed versions only; head changes dropped by Undo stay dropped.
func (l *Log) Redo() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.idx.findFrom(l.sb.Version, l.sb.InodeEnd, l.sb.LogTop)
	if !ok {
		return merry.Prependf(common.ErrNoVersion, "redo: no later version than %d", l.sb.Version)
	}
	l.sb.Version++
	l.sb.InodeEnd = pos + 1
	util.DPrintf(1, "log: redo -> version %d end %d\n", l.sb.Version, l.sb.InodeEnd)
	return l.writeSuper()
}

func (l *Log) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sb.Version
}

func (l *Log) End() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sb.InodeEnd
}

func (l *Log) Stat() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Version:   l.sb.Version,
		End:       l.sb.InodeEnd,
		Top:       l.sb.LogTop,
		NInodes:   l.sb.NInodes,
		NextInode: l.sb.NextInode,
	}
}

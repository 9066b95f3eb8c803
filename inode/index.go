package inode

import (
	"sort"

	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/util"
)

type marker struct {
	pos     uint64
	version uint64
}

// index remembers, for every inum, the slots holding its records, and the
// slots holding boundary markers. Both are kept in ascending slot order.
type index struct {
	inumPos map[common.Inum][]uint64
	markers []marker
}

func mkIndex() *index {
	return &index{
		inumPos: make(map[common.Inum][]uint64),
	}
}

// add records ip, which must sit past every slot already indexed.
func (idx *index) add(ip *Inode) {
	if ip.IsMarker() {
		idx.markers = append(idx.markers, marker{pos: ip.Pos, version: ip.Commit})
		return
	}
	idx.inumPos[ip.Inum] = append(idx.inumPos[ip.Inum], ip.Pos)
}

// truncate forgets every slot at or past pos.
func (idx *index) truncate(pos uint64) {
	for inum, ps := range idx.inumPos {
		n := sort.Search(len(ps), func(i int) bool { return ps[i] >= pos })
		if n == 0 {
			delete(idx.inumPos, inum)
		} else {
			idx.inumPos[inum] = ps[:n]
		}
	}
	n := sort.Search(len(idx.markers), func(i int) bool { return idx.markers[i].pos >= pos })
	idx.markers = idx.markers[:n]
	util.DPrintf(10, "index: truncate at %d\n", pos)
}

// newest returns the last slot below end holding a record for inum.
func (idx *index) newest(inum common.Inum, end uint64) (uint64, bool) {
	ps := idx.inumPos[inum]
	n := sort.Search(len(ps), func(i int) bool { return ps[i] >= end })
	if n == 0 {
		return 0, false
	}
	return ps[n-1], true
}

// crosses reports whether a marker lies strictly between pos and top.
func (idx *index) crosses(pos uint64, top uint64) bool {
	n := sort.Search(len(idx.markers), func(i int) bool { return idx.markers[i].pos > pos })
	return n < len(idx.markers) && idx.markers[n].pos < top
}

// findBefore returns the last marker below end tagged version.
func (idx *index) findBefore(version uint64, end uint64) (uint64, bool) {
	for i := len(idx.markers) - 1; i >= 0; i-- {
		m := idx.markers[i]
		if m.pos < end && m.version == version {
			return m.pos, true
		}
	}
	return 0, false
}

// findFrom returns the first marker in [start, top) tagged version.
func (idx *index) findFrom(version uint64, start uint64, top uint64) (uint64, bool) {
	for _, m := range idx.markers {
		if m.pos >= start && m.pos < top && m.version == version {
			return m.pos, true
		}
	}
	return 0, false
}

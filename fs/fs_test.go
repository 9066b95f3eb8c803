package fs

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/disk"
	"github.com/codeworm96/cse-labs/ecc"
	"github.com/codeworm96/cse-labs/inode"
)

const testBlocks uint64 = 256

type FsSuite struct {
	suite.Suite
	store disk.Store
	fs    *FS
}

func (suite *FsSuite) SetupTest() {
	suite.store = disk.NewMemStore(testBlocks * common.PHYSPERLOG)
	fs, err := Format(suite.store, Params{NInodes: 64})
	suite.Require().NoError(err)
	suite.fs = fs
}

func TestFs(t *testing.T) {
	suite.Run(t, new(FsSuite))
}

func mkData(n uint64) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/4096)
	}
	return data
}

// needed is the number of blocks a file of sz bytes owns.
func needed(sz uint64) uint64 {
	n := (sz + disk.BlockSize - 1) / disk.BlockSize
	if n > common.NDIRECT {
		n++
	}
	return n
}

func (suite *FsSuite) used() uint64 {
	st := suite.fs.Stat()
	return st.NBlocks - st.DataStart - st.FreeBlocks
}

func (suite *FsSuite) create() common.Inum {
	inum, err := suite.fs.Create(common.T_FILE)
	suite.Require().NoError(err)
	return inum
}

func (suite *FsSuite) read(inum common.Inum) []byte {
	data, err := suite.fs.ReadFile(inum)
	suite.Require().NoError(err)
	return data
}

func (suite *FsSuite) TestRoot() {
	attr, err := suite.fs.GetAttr(common.ROOTINUM)
	suite.NoError(err)
	suite.Equal(common.T_DIR, attr.Type)
	suite.Equal(uint64(0), attr.Size)
	suite.Equal(uint64(0), suite.used())
}

func (suite *FsSuite) TestRoundTrip() {
	sizes := []uint64{0, 1, 100, disk.BlockSize, disk.BlockSize + 1,
		common.NDIRECT * disk.BlockSize,
		(common.NDIRECT+5)*disk.BlockSize + 17}
	for _, sz := range sizes {
		inum := suite.create()
		data := mkData(sz)
		suite.Require().NoError(suite.fs.WriteFile(inum, data))
		got := suite.read(inum)
		suite.Equal(len(data), len(got), "size %d", sz)
		suite.True(bytes.Equal(data, got), "content of size %d", sz)
		attr, err := suite.fs.GetAttr(inum)
		suite.NoError(err)
		suite.Equal(sz, attr.Size)
		suite.Equal(common.T_FILE, attr.Type)
	}
}

func (suite *FsSuite) TestShrinkGrow() {
	inum := suite.create()
	big := mkData((common.NDIRECT+10)*disk.BlockSize + 3)
	small := mkData(100)
	bigger := mkData((common.NDIRECT+20)*disk.BlockSize + 1)

	suite.Require().NoError(suite.fs.WriteFile(inum, big))
	suite.Equal(needed(uint64(len(big))), suite.used())
	suite.Require().NoError(suite.fs.WriteFile(inum, small))
	suite.Equal(uint64(1), suite.used(), "indirect block is released")
	suite.Equal(small, suite.read(inum))
	suite.Require().NoError(suite.fs.WriteFile(inum, bigger))
	suite.Equal(needed(uint64(len(bigger))), suite.used())
	suite.Equal(bigger, suite.read(inum))

	// shrink within the indirect range
	mid := mkData((common.NDIRECT+2)*disk.BlockSize - 5)
	suite.Require().NoError(suite.fs.WriteFile(inum, mid))
	suite.Equal(needed(uint64(len(mid))), suite.used())
	suite.Equal(mid, suite.read(inum))
}

func (suite *FsSuite) TestTooLarge() {
	inum := suite.create()
	err := suite.fs.WriteFile(inum, make([]byte, common.MAXFILE*disk.BlockSize+1))
	suite.True(merry.Is(err, common.ErrTooLarge))
	err = suite.fs.SetAttr(inum, inode.Attr{Size: common.MAXFILE*disk.BlockSize + 1})
	suite.True(merry.Is(err, common.ErrTooLarge))
}

func (suite *FsSuite) TestRemove() {
	inum := suite.create()
	free := suite.fs.Stat().FreeBlocks
	suite.Require().NoError(suite.fs.WriteFile(inum, mkData((common.NDIRECT+1)*disk.BlockSize)))
	suite.Require().NoError(suite.fs.RemoveFile(inum))
	suite.Equal(free, suite.fs.Stat().FreeBlocks)

	_, err := suite.fs.GetAttr(inum)
	suite.True(merry.Is(err, common.ErrNotFound))
	_, err = suite.fs.ReadFile(inum)
	suite.True(merry.Is(err, common.ErrNotFound))
	suite.True(merry.Is(suite.fs.WriteFile(inum, []byte("x")), common.ErrNotFound))
	suite.True(merry.Is(suite.fs.RemoveFile(inum), common.ErrNotFound))

	inum2 := suite.create()
	suite.Require().NoError(suite.fs.WriteFile(inum2, []byte("again")))
	suite.Equal(uint64(1), suite.used(), "freed blocks are reused")
}

func (suite *FsSuite) TestGetAttrMissing() {
	attr, err := suite.fs.GetAttr(42)
	suite.True(merry.Is(err, common.ErrNotFound))
	suite.Equal(inode.Attr{}, attr)
}

func (suite *FsSuite) TestHelloWorld() {
	inum := suite.create()
	suite.Require().NoError(suite.fs.WriteFile(inum, []byte("hello")))
	suite.Equal([]byte("hello"), suite.read(inum))
	attr, err := suite.fs.GetAttr(inum)
	suite.NoError(err)
	suite.Equal(uint64(5), attr.Size)

	suite.Require().NoError(suite.fs.Commit())
	suite.Require().NoError(suite.fs.WriteFile(inum, []byte("world!!")))
	suite.Equal([]byte("world!!"), suite.read(inum))

	suite.Require().NoError(suite.fs.Undo())
	suite.Equal([]byte("hello"), suite.read(inum))
	attr, err = suite.fs.GetAttr(inum)
	suite.NoError(err)
	suite.Equal(uint64(5), attr.Size)
}

func (suite *FsSuite) TestCopyOnWrite() {
	inum := suite.create()
	old := mkData((common.NDIRECT + 3) * disk.BlockSize)
	suite.Require().NoError(suite.fs.WriteFile(inum, old))
	before, err := suite.fs.GetAttr(inum)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.fs.Commit())

	ip, historical, err := suite.fs.log.Lookup(inum)
	suite.Require().NoError(err)
	suite.True(historical)
	oldBlocks, err := suite.fs.blocks(ip)
	suite.Require().NoError(err)

	suite.Require().NoError(suite.fs.WriteFile(inum, []byte("short")))
	suite.Equal([]byte("short"), suite.read(inum))
	for _, bn := range oldBlocks {
		used, err := suite.fs.alloc.IsAllocated(bn)
		suite.NoError(err)
		suite.True(used, "committed block %d kept", bn)
	}

	suite.Require().NoError(suite.fs.Undo())
	suite.Equal(old, suite.read(inum))
	after, err := suite.fs.GetAttr(inum)
	suite.NoError(err)
	suite.Equal(before.Size, after.Size)
	suite.Equal(before.Mtime, after.Mtime)
	suite.Equal(before.Ctime, after.Ctime)
}

func (suite *FsSuite) TestReadHistoricalNoPromotion() {
	inum := suite.create()
	suite.Require().NoError(suite.fs.WriteFile(inum, []byte("snap")))
	suite.Require().NoError(suite.fs.Commit())
	end := suite.fs.Stat().Log.End
	free := suite.fs.Stat().FreeBlocks
	suite.Equal([]byte("snap"), suite.read(inum))
	_, err := suite.fs.GetAttr(inum)
	suite.NoError(err)
	suite.Equal(end, suite.fs.Stat().Log.End)
	suite.Equal(free, suite.fs.Stat().FreeBlocks)
}

func (suite *FsSuite) TestUndoRedo() {
	a := suite.create()
	suite.Require().NoError(suite.fs.WriteFile(a, []byte("one")))
	suite.Require().NoError(suite.fs.Commit())
	suite.Require().NoError(suite.fs.WriteFile(a, []byte("two")))
	b := suite.create()
	suite.Require().NoError(suite.fs.WriteFile(b, []byte("bee")))
	suite.Require().NoError(suite.fs.Commit())

	suite.Require().NoError(suite.fs.Undo())
	suite.Require().NoError(suite.fs.Redo())
	suite.Equal([]byte("two"), suite.read(a))
	suite.Equal([]byte("bee"), suite.read(b))

	// back to the state before the second commit
	suite.Require().NoError(suite.fs.Undo())
	suite.Equal([]byte("two"), suite.read(a))
	suite.Equal([]byte("bee"), suite.read(b))

	// and before the first
	suite.Require().NoError(suite.fs.Undo())
	suite.Equal([]byte("one"), suite.read(a))
	_, err := suite.fs.GetAttr(b)
	suite.True(merry.Is(err, common.ErrNotFound))
	suite.True(merry.Is(suite.fs.Undo(), common.ErrNoVersion))

	suite.Require().NoError(suite.fs.Redo())
	suite.Equal([]byte("one"), suite.read(a))
	suite.Require().NoError(suite.fs.Redo())
	suite.Equal([]byte("two"), suite.read(a))
	suite.Equal([]byte("bee"), suite.read(b))
	suite.True(merry.Is(suite.fs.Redo(), common.ErrNoVersion))
}

func (suite *FsSuite) TestSetAttr() {
	inum := suite.create()
	suite.Require().NoError(suite.fs.WriteFile(inum, []byte("hello world")))
	suite.Require().NoError(suite.fs.SetAttr(inum, inode.Attr{Size: 5}))
	suite.Equal([]byte("hello"), suite.read(inum))
	suite.Require().NoError(suite.fs.SetAttr(inum, inode.Attr{Size: 8}))
	suite.Equal([]byte("hello\x00\x00\x00"), suite.read(inum))
	suite.Require().NoError(suite.fs.SetAttr(inum, inode.Attr{Size: 0}))
	suite.Equal(uint64(0), suite.used())
	suite.True(merry.Is(suite.fs.SetAttr(77, inode.Attr{}), common.ErrNotFound))
}

func TestOutOfSpace(t *testing.T) {
	store := disk.NewMemStore(48 * common.PHYSPERLOG)
	fs, err := Format(store, Params{NInodes: 16})
	require.NoError(t, err)
	inum, err := fs.Create(common.T_FILE)
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile(inum, []byte("keep")))

	free := fs.Stat().FreeBlocks
	err = fs.WriteFile(inum, mkData((common.NDIRECT+20)*disk.BlockSize))
	assert.True(t, merry.Is(err, common.ErrNoSpace))
	assert.Equal(t, free, fs.Stat().FreeBlocks, "partial allocation is released")
	data, err := fs.ReadFile(inum)
	assert.NoError(t, err)
	assert.Equal(t, []byte("keep"), data)
}

func TestOutOfInodes(t *testing.T) {
	store := disk.NewMemStore(64 * common.PHYSPERLOG)
	fs, err := Format(store, Params{NInodes: 8})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := fs.Create(common.T_FILE)
		require.NoError(t, err)
	}
	_, err = fs.Create(common.T_FILE)
	assert.True(t, merry.Is(err, common.ErrNoSpace))
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	nphys := testBlocks * common.PHYSPERLOG
	store, err := disk.NewFileStore(path, nphys)
	require.NoError(t, err)
	fs, err := Format(store, Params{NInodes: 32})
	require.NoError(t, err)

	inum, err := fs.Create(common.T_FILE)
	require.NoError(t, err)
	data := mkData((common.NDIRECT + 2) * disk.BlockSize)
	require.NoError(t, fs.WriteFile(inum, data))
	require.NoError(t, fs.Commit())
	require.NoError(t, fs.WriteFile(inum, []byte("later")))
	require.NoError(t, fs.Commit())
	require.NoError(t, fs.Undo())
	require.NoError(t, fs.Undo())
	st := fs.Stat()
	require.NoError(t, fs.Close())

	store, err = disk.NewFileStore(path, nphys)
	require.NoError(t, err)
	fs, err = Open(store, Options{})
	require.NoError(t, err)
	defer fs.Close()

	st2 := fs.Stat()
	assert.Equal(t, st.Volume, st2.Volume)
	assert.Equal(t, st.Log, st2.Log)
	assert.Equal(t, st.FreeBlocks, st2.FreeBlocks)
	got, err := fs.ReadFile(inum)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, fs.Redo())
	require.NoError(t, fs.Redo())
	got, err = fs.ReadFile(inum)
	require.NoError(t, err)
	assert.Equal(t, []byte("later"), got)
}

func TestOpenUnformatted(t *testing.T) {
	_, err := Open(disk.NewMemStore(16*common.PHYSPERLOG), Options{})
	assert.True(t, merry.Is(err, common.ErrCorrupt))
}

// corruptNibble flips two bits of the first codeword of bn in copy c.
func corruptNibble(t *testing.T, store disk.Store, bn common.Bnum, c uint64) {
	pa := ecc.PhysAddr(bn, c, 0)
	blk, err := store.Read(pa)
	require.NoError(t, err)
	blk[0] ^= 0x03
	require.NoError(t, store.Write(pa, blk))
}

func firstBlock(t *testing.T, fs *FS, inum common.Inum) common.Bnum {
	ip, _, err := fs.log.Lookup(inum)
	require.NoError(t, err)
	return ip.Direct[0]
}

func TestUncorrectable(t *testing.T) {
	for _, strict := range []bool{false, true} {
		store := disk.NewMemStore(64 * common.PHYSPERLOG)
		fs, err := Format(store, Params{NInodes: 16, Options: Options{StrictECC: strict}})
		require.NoError(t, err)
		inum, err := fs.Create(common.T_FILE)
		require.NoError(t, err)
		require.NoError(t, fs.WriteFile(inum, []byte("data")))

		bn := firstBlock(t, fs, inum)
		corruptNibble(t, store, bn, 0)
		corruptNibble(t, store, bn, 1)

		_, err = fs.ReadFile(inum)
		if strict {
			assert.True(t, merry.Is(err, common.ErrUncorrectable))
		} else {
			assert.NoError(t, err)
		}
		assert.Equal(t, uint64(1), fs.Stat().ECC.Uncorrectable)
	}
}

func TestSingleFlipHealed(t *testing.T) {
	store := disk.NewMemStore(64 * common.PHYSPERLOG)
	fs, err := Format(store, Params{NInodes: 16})
	require.NoError(t, err)
	inum, err := fs.Create(common.T_FILE)
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile(inum, []byte("data")))

	pa := ecc.PhysAddr(firstBlock(t, fs, inum), 0, 0)
	blk, err := store.Read(pa)
	require.NoError(t, err)
	blk[2] ^= 0x10
	require.NoError(t, store.Write(pa, blk))

	data, err := fs.ReadFile(inum)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
	assert.Equal(t, uint64(1), fs.Stat().ECC.Corrected)
}

func TestRemoveLogFull(t *testing.T) {
	store := disk.NewMemStore(64 * common.PHYSPERLOG)
	fs, err := Format(store, Params{NInodes: 8})
	require.NoError(t, err)
	var inums []common.Inum
	for i := 0; i < 6; i++ {
		inum, err := fs.Create(common.T_FILE)
		require.NoError(t, err)
		inums = append(inums, inum)
	}
	a, b := inums[0], inums[1]
	require.NoError(t, fs.WriteFile(a, []byte("aaaa")))
	free := fs.Stat().FreeBlocks

	err = fs.RemoveFile(a)
	assert.True(t, merry.Is(err, common.ErrNoSpace))
	assert.Equal(t, free, fs.Stat().FreeBlocks, "blocks of a live inode stay allocated")
	attr, err := fs.GetAttr(a)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), attr.Size)

	require.NoError(t, fs.WriteFile(b, []byte("bbbb")))
	data, err := fs.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaa"), data)
}

func (suite *FsSuite) TestUndoReadRedo() {
	inum := suite.create()
	suite.fs.now = func() uint64 { return 100 }
	suite.Require().NoError(suite.fs.WriteFile(inum, []byte("hello")))
	suite.Equal([]byte("hello"), suite.read(inum))
	suite.Require().NoError(suite.fs.Commit())
	suite.Require().NoError(suite.fs.Undo())

	suite.fs.now = func() uint64 { return 200 }
	suite.Equal([]byte("hello"), suite.read(inum))
	attr, err := suite.fs.GetAttr(inum)
	suite.Require().NoError(err)
	suite.Equal(uint64(100), attr.Atime, "reading while redo is possible leaves the snapshot alone")

	suite.Require().NoError(suite.fs.Redo())
	attr, err = suite.fs.GetAttr(inum)
	suite.Require().NoError(err)
	suite.Equal(uint64(100), attr.Atime)
	suite.Equal(uint64(100), attr.Mtime)
}

func (suite *FsSuite) TestShrinkDefersFree() {
	inum := suite.create()
	suite.Require().NoError(suite.fs.WriteFile(inum, mkData((common.NDIRECT+4)*disk.BlockSize)))
	ip, err := suite.fs.log.GetInode(inum)
	suite.Require().NoError(err)
	free := suite.fs.Stat().FreeBlocks

	freed, ib, err := suite.fs.shrink(ip, common.NDIRECT+1)
	suite.Require().NoError(err)
	suite.Len(freed, 3)
	suite.NotNil(ib)
	suite.Equal(free, suite.fs.Stat().FreeBlocks, "shrink only detaches blocks")

	ip2, err := suite.fs.log.GetInode(inum)
	suite.Require().NoError(err)
	freed, ib, err = suite.fs.shrink(ip2, 1)
	suite.Require().NoError(err)
	suite.Len(freed, int(common.NDIRECT+4), "remaining data blocks and the indirect block")
	suite.Nil(ib)
	suite.Equal(common.NULLBNUM, ip2.Indirect)
	suite.Equal(free, suite.fs.Stat().FreeBlocks)

	// the persisted record is untouched
	suite.Equal(mkData((common.NDIRECT+4)*disk.BlockSize), suite.read(inum))
}

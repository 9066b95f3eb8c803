package alloc

import (
	"sync"
	"testing"

	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/disk"
	"github.com/codeworm96/cse-labs/ecc"
)

const (
	testStart    common.Bnum = 2
	testReserved uint64      = 5
)

func mkTestAlloc(t *testing.T, nblocks uint64) (*ecc.Device, *Alloc) {
	dev := ecc.MkDevice(disk.NewMemStore(nblocks*common.PHYSPERLOG), ecc.Options{})
	a, err := Format(dev, testStart, nblocks, testReserved)
	require.NoError(t, err)
	return dev, a
}

func TestAlloc(t *testing.T) {
	assert := assert.New(t)
	max := uint64(32)
	_, a := mkTestAlloc(t, max)

	assert.Equal(max-testReserved, a.NumFree(), "everything but the reserved blocks is free")

	n, err := a.AllocBlock()
	assert.NoError(err)
	assert.Equal(testReserved, n, "first fit starts after the reserved blocks")

	assert.NoError(a.MarkUsed(n + 1))
	n2, err := a.AllocBlock()
	assert.NoError(err)
	assert.Equal(n+2, n2, "should not allocate something marked used")

	assert.Equal(max-testReserved-3, a.NumFree(), "should have used 3 blocks")

	assert.NoError(a.FreeBlock(n))
	assert.NoError(a.FreeBlock(n2))
	assert.Equal(max-testReserved-1, a.NumFree(), "should have freed")

	n3, err := a.AllocBlock()
	assert.NoError(err)
	assert.Equal(n, n3, "lowest free block is reused")
}

func TestUnique(t *testing.T) {
	assert := assert.New(t)
	max := uint64(64)
	_, a := mkTestAlloc(t, max)

	seen := make(map[common.Bnum]bool)
	for i := testReserved; i < max; i++ {
		n, err := a.AllocBlock()
		require.NoError(t, err)
		assert.False(seen[n], "block %d handed out twice", n)
		assert.True(n >= testReserved && n < max)
		seen[n] = true
	}
	_, err := a.AllocBlock()
	assert.True(merry.Is(err, common.ErrNoSpace))
	assert.Equal(uint64(0), a.NumFree())
}

func TestFreeErrors(t *testing.T) {
	assert := assert.New(t)
	_, a := mkTestAlloc(t, 16)

	assert.True(merry.Is(a.FreeBlock(16), common.ErrIO))
	assert.True(merry.Is(a.FreeBlock(common.SUPERBLOCK), common.ErrIO))
	used, err := a.IsAllocated(common.SUPERBLOCK)
	assert.NoError(err)
	assert.True(used, "reserved block stays allocated")

	assert.NoError(a.FreeBlock(10), "double free is accepted")
	assert.NoError(a.FreeBlock(10))
	assert.Equal(uint64(16)-testReserved, a.NumFree())
}

func TestReload(t *testing.T) {
	assert := assert.New(t)
	dev, a := mkTestAlloc(t, 40)
	for i := 0; i < 3; i++ {
		_, err := a.AllocBlock()
		require.NoError(t, err)
	}
	a2, err := MkAlloc(dev, testStart, 40, testReserved)
	require.NoError(t, err)
	assert.Equal(a.NumFree(), a2.NumFree())
	n, err := a2.AllocBlock()
	assert.NoError(err)
	assert.Equal(testReserved+3, n)
}

func TestConcurrentAlloc(t *testing.T) {
	max := uint64(128)
	_, a := mkTestAlloc(t, max)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[common.Bnum]bool)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				n, err := a.AllocBlock()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				if seen[n] {
					t.Errorf("block %d handed out twice", n)
				}
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 80)
	assert.Equal(t, max-testReserved-80, a.NumFree())
}

// lockmap provides one advisory lock per inode number.
//
// Locks are not stored for every inum: a fixed set of shards each track the
// inums that are currently held (or waited for) and hash to that shard.
// An entry disappears as soon as its lock is released with nobody waiting.
package lockmap

import (
	"sync"

	"github.com/codeworm96/cse-labs/common"
)

type lockState struct {
	held    bool
	cond    *sync.Cond
	waiters uint64
}

type lockShard struct {
	mu    *sync.Mutex
	state map[common.Inum]*lockState
}

func mkLockShard() *lockShard {
	return &lockShard{
		mu:    new(sync.Mutex),
		state: make(map[common.Inum]*lockState),
	}
}

func (shard *lockShard) acquire(inum common.Inum) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[inum]
	if !ok {
		state = &lockState{cond: sync.NewCond(shard.mu)}
		shard.state[inum] = state
	}
	for state.held {
		state.waiters++
		state.cond.Wait()
		state.waiters--
	}
	state.held = true
}

func (shard *lockShard) release(inum common.Inum) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[inum]
	if !ok || !state.held {
		panic("lockmap: release of unheld lock")
	}
	state.held = false
	if state.waiters > 0 {
		state.cond.Signal()
	} else {
		delete(shard.state, inum)
	}
}

const NSHARD uint64 = 43

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	var shards []*lockShard
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkLockShard())
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) shard(inum common.Inum) *lockShard {
	return lmap.shards[uint64(inum)%NSHARD]
}

// Acquire blocks until the lock for inum is free and takes it.
func (lmap *LockMap) Acquire(inum common.Inum) {
	lmap.shard(inum).acquire(inum)
}

func (lmap *LockMap) Release(inum common.Inum) {
	lmap.shard(inum).release(inum)
}

// Package extent is the operation surface the file service calls: every
// request returns a Status instead of an error.
package extent

import (
	"sync"

	"github.com/ansel1/merry"
	log "github.com/sirupsen/logrus"

	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/fs"
	"github.com/codeworm96/cse-labs/inode"
	"github.com/codeworm96/cse-labs/lockmap"
)

type Status int

const (
	OK Status = iota
	RPCERR
	NOENT
	IOERR
	NOSPACE
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case RPCERR:
		return "RPCERR"
	case NOENT:
		return "NOENT"
	case IOERR:
		return "IOERR"
	case NOSPACE:
		return "NOSPACE"
	}
	return "unknown"
}

// StatusOf maps an engine error to the status reported to callers.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return OK
	case merry.Is(err, common.ErrNotFound):
		return NOENT
	case merry.Is(err, common.ErrNoSpace):
		return NOSPACE
	default:
		return IOERR
	}
}

// Server serializes operations on one inum with a lock per inum. Commit,
// Undo and Redo move the whole log, so they exclude every other operation.
type Server struct {
	fs    *fs.FS
	locks *lockmap.LockMap
	vlock *sync.RWMutex
}

func MkServer(fs *fs.FS) *Server {
	return &Server{
		fs:    fs,
		locks: lockmap.MkLockMap(),
		vlock: new(sync.RWMutex),
	}
}

func (s *Server) status(op string, inum common.Inum, err error) Status {
	st := StatusOf(err)
	if st == IOERR {
		log.WithFields(log.Fields{
			"op":   op,
			"inum": inum,
		}).WithError(err).Error("extent: request failed")
	}
	return st
}

func (s *Server) lock(inum common.Inum) {
	s.vlock.RLock()
	s.locks.Acquire(inum)
}

func (s *Server) unlock(inum common.Inum) {
	s.locks.Release(inum)
	s.vlock.RUnlock()
}

func (s *Server) Create(t uint64) (common.Inum, Status) {
	s.vlock.RLock()
	defer s.vlock.RUnlock()
	inum, err := s.fs.Create(t)
	return inum, s.status("create", inum, err)
}

func (s *Server) Get(inum common.Inum) ([]byte, Status) {
	s.lock(inum)
	defer s.unlock(inum)
	data, err := s.fs.ReadFile(inum)
	return data, s.status("get", inum, err)
}

func (s *Server) Put(inum common.Inum, data []byte) Status {
	s.lock(inum)
	defer s.unlock(inum)
	return s.status("put", inum, s.fs.WriteFile(inum, data))
}

// Update replaces the content of inum with f applied to it, holding the
// inum's lock across the read and the write.
func (s *Server) Update(inum common.Inum, f func([]byte) []byte) Status {
	s.lock(inum)
	defer s.unlock(inum)
	data, err := s.fs.ReadFile(inum)
	if err != nil {
		return s.status("update", inum, err)
	}
	return s.status("update", inum, s.fs.WriteFile(inum, f(data)))
}

func (s *Server) Remove(inum common.Inum) Status {
	s.lock(inum)
	defer s.unlock(inum)
	return s.status("remove", inum, s.fs.RemoveFile(inum))
}

func (s *Server) GetAttr(inum common.Inum) (inode.Attr, Status) {
	s.lock(inum)
	defer s.unlock(inum)
	attr, err := s.fs.GetAttr(inum)
	return attr, s.status("getattr", inum, err)
}

func (s *Server) SetAttr(inum common.Inum, attr inode.Attr) Status {
	s.lock(inum)
	defer s.unlock(inum)
	return s.status("setattr", inum, s.fs.SetAttr(inum, attr))
}

func (s *Server) Commit() Status {
	s.vlock.Lock()
	defer s.vlock.Unlock()
	return s.status("commit", common.NULLINUM, s.fs.Commit())
}

func (s *Server) Undo() Status {
	s.vlock.Lock()
	defer s.vlock.Unlock()
	return s.status("undo", common.NULLINUM, s.fs.Undo())
}

func (s *Server) Redo() Status {
	s.vlock.Lock()
	defer s.vlock.Unlock()
	return s.status("redo", common.NULLINUM, s.fs.Redo())
}

package util

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

var debug uint64 = 1

// SetDebug sets the highest DPrintf level that is emitted.
func SetDebug(level uint64) {
	atomic.StoreUint64(&debug, level)
}

// DPrintf logs at info for level 0 and at debug otherwise, dropping anything
// above the configured level.
func DPrintf(level uint64, format string, a ...interface{}) {
	if level > atomic.LoadUint64(&debug) {
		return
	}
	if level == 0 {
		log.Infof(format, a...)
	} else {
		log.Debugf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

package common

import (
	"github.com/ansel1/merry"
)

var (
	ErrNotFound      = merry.New("inode not found")
	ErrNoSpace       = merry.New("no space left on device")
	ErrIO            = merry.New("i/o error")
	ErrUncorrectable = merry.New("uncorrectable block corruption")
	ErrNoVersion     = merry.New("no such version")
	ErrCorrupt       = merry.New("corrupt file system image")
	ErrTooLarge      = merry.New("file too large")
)

//go:build linux || darwin

package dlink

import (
	"os"

	"golang.org/x/sys/unix"
)

// MmapLoader is a ByteLoader that maps the module image into memory
// instead of copying it into a heap buffer.
//
// The returned buffer is still reported as owned — the owned flag
// distinguishes "the linker allocated this" from "the caller already had
// it loaded", not the allocation mechanism — and is released with
// unix.Munmap in the loader's Release hook, called from Module.Close.
type MmapLoader struct{}

func (MmapLoader) Load(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapErr(File, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, wrapErr(FileRead, err)
	}
	size := info.Size()
	if size == 0 {
		return nil, wrapErr(FileRead, os.ErrInvalid)
	}

	// PROT_WRITE is required: Init relocates the GOT and symbol table
	// in place. MAP_PRIVATE keeps those writes copy-on-write, never
	// touching the backing file.
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
	if err != nil {
		return nil, wrapErr(FileMalloc, err)
	}
	return data, nil
}

// Release unmaps a buffer this loader produced. Module.Close calls this
// through the Releaser interface when the loader that produced its buffer
// implements it.
func (MmapLoader) Release(data []byte) {
	_ = unix.Munmap(data)
}

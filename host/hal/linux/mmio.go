//go:build linux

package linux

import (
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// Window is a memory-mapped register block.
//
// Accesses are single loads and stores of the requested width. Offsets
// outside the block read as zero and writes to them are dropped, matching
// the simulated window.
type Window struct {
	mem   []byte // the register block
	pages []byte // the whole mapping, for munmap; nil for heap-backed windows
	base  uintptr
}

// OpenWindow maps WindowSize bytes at physical address base from /dev/mem.
func OpenWindow(base uintptr) (*Window, error) {
	f, err := os.OpenFile(DevMemPath, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", DevMemPath, err)
	}
	defer f.Close()

	page := uintptr(os.Getpagesize())
	start := base &^ (page - 1)
	skew := base - start
	length := int((skew + WindowSize + page - 1) &^ (page - 1))

	pages, err := syscall.Mmap(int(f.Fd()), int64(start), length,
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap 0x%X: %w", base, err)
	}

	pkg.LogInfo(pkg.ComponentHAL, "register window mapped",
		"base", fmt.Sprintf("0x%08X", base), "size", WindowSize)
	return &Window{mem: pages[skew : skew+WindowSize], pages: pages, base: base}, nil
}

// newWindow wraps existing memory, for tests.
func newWindow(mem []byte) *Window {
	return &Window{mem: mem}
}

// Base returns the physical base address.
func (w *Window) Base() uintptr { return w.base }

// Close unmaps the window.
func (w *Window) Close() error {
	if w.pages == nil {
		return nil
	}
	err := syscall.Munmap(w.pages)
	w.pages, w.mem = nil, nil
	return err
}

func (w *Window) ptr(offset uint32, n uint32) unsafe.Pointer {
	if offset%n != 0 || uint64(offset)+uint64(n) > uint64(len(w.mem)) {
		return nil
	}
	return unsafe.Pointer(&w.mem[offset])
}

// Read8 loads one byte.
func (w *Window) Read8(offset uint32) uint8 {
	p := w.ptr(offset, 1)
	if p == nil {
		return 0
	}
	return *(*uint8)(p)
}

// Read16 loads a halfword.
func (w *Window) Read16(offset uint32) uint16 {
	p := w.ptr(offset, 2)
	if p == nil {
		return 0
	}
	return *(*uint16)(p)
}

// Read32 loads a word atomically.
func (w *Window) Read32(offset uint32) uint32 {
	p := w.ptr(offset, 4)
	if p == nil {
		return 0
	}
	return atomic.LoadUint32((*uint32)(p))
}

// Write8 stores one byte.
func (w *Window) Write8(offset uint32, value uint8) {
	if p := w.ptr(offset, 1); p != nil {
		*(*uint8)(p) = value
	}
}

// Write16 stores a halfword.
func (w *Window) Write16(offset uint32, value uint16) {
	if p := w.ptr(offset, 2); p != nil {
		*(*uint16)(p) = value
	}
}

// Write32 stores a word atomically.
func (w *Window) Write32(offset uint32, value uint32) {
	if p := w.ptr(offset, 4); p != nil {
		atomic.StoreUint32((*uint32)(p), value)
	}
}

var _ hal.Registers = (*Window)(nil)

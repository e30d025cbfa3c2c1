package sim

import (
	"encoding/binary"
	"sync"

	"github.com/ardnew/softmmc/host/hal"
)

// WindowSize is the size of the simulated register window: the 256-byte
// standard SDHCI block plus the vendor area.
const WindowSize = 0x200

// Clock-control register model.
const (
	clockControl   = 0x2C
	clockIntEn     = 0x0001
	clockIntStable = 0x0002
)

// Access is one recorded register transaction.
type Access struct {
	Write  bool
	Width  uint8 // 8, 16 or 32
	Offset uint32
	Value  uint32
}

// Registers is a little-endian register file.
//
// Out-of-window accesses read as zero and are dropped on write, the way an
// unmapped bus region behaves.
type Registers struct {
	mu  sync.Mutex
	mem [WindowSize]byte

	// StableAfter is how many clock-control reads report "not stable"
	// after the internal clock is enabled. Negative means never stable.
	StableAfter int

	pendingPolls int
	accesses     []Access
}

// NewRegisters returns a zeroed register file whose internal clock
// stabilises immediately.
func NewRegisters() *Registers {
	return &Registers{}
}

var _ hal.Registers = (*Registers)(nil)

// Read8 reads one byte.
func (r *Registers) Read8(offset uint32) uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := uint8(r.load(offset, 1))
	r.record(false, 8, offset, uint32(v))
	return v
}

// Read16 reads a half-word.
func (r *Registers) Read16(offset uint32) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := uint16(r.load(offset, 2))
	r.record(false, 16, offset, uint32(v))
	return v
}

// Read32 reads a word.
func (r *Registers) Read32(offset uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.load(offset, 4)
	r.record(false, 32, offset, v)
	return v
}

// Write8 writes one byte.
func (r *Registers) Write8(offset uint32, value uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(true, 8, offset, uint32(value))
	r.store(offset, 1, uint32(value))
}

// Write16 writes a half-word.
func (r *Registers) Write16(offset uint32, value uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(true, 16, offset, uint32(value))
	r.store(offset, 2, uint32(value))
}

// Write32 writes a word.
func (r *Registers) Write32(offset uint32, value uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(true, 32, offset, value)
	r.store(offset, 4, value)
}

// Peek returns the raw stored value without recording an access or running
// the clock model.
func (r *Registers) Peek(offset uint32, width uint8) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.raw(offset, int(width/8))
}

// Poke stores a raw value without recording an access or running the clock
// model. Use it to preset hardware state.
func (r *Registers) Poke(offset uint32, width uint8, value uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(offset, int(width/8), value)
}

// Accesses returns a copy of the recorded transactions.
func (r *Registers) Accesses() []Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Access, len(r.accesses))
	copy(out, r.accesses)
	return out
}

// Writes returns the recorded writes to offset, in order.
func (r *Registers) Writes(offset uint32) []Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Access
	for _, a := range r.accesses {
		if a.Write && a.Offset == offset {
			out = append(out, a)
		}
	}
	return out
}

// ResetAccesses clears the transaction record.
func (r *Registers) ResetAccesses() {
	r.mu.Lock()
	r.accesses = nil
	r.mu.Unlock()
}

func (r *Registers) record(write bool, width uint8, offset, value uint32) {
	r.accesses = append(r.accesses, Access{Write: write, Width: width, Offset: offset, Value: value})
}

func (r *Registers) load(offset uint32, n int) uint32 {
	if offset == clockControl && n >= 2 {
		ctl := uint16(r.raw(clockControl, 2))
		if ctl&clockIntEn != 0 && ctl&clockIntStable == 0 {
			switch {
			case r.StableAfter < 0:
			case r.pendingPolls > 0:
				r.pendingPolls--
			default:
				r.put(clockControl, 2, uint32(ctl|clockIntStable))
			}
		}
	}
	return r.raw(offset, n)
}

func (r *Registers) store(offset uint32, n int, value uint32) {
	if offset == clockControl && n >= 2 {
		ctl := uint16(value)
		// The stable bit is read-only: it reflects the oscillator, not the write.
		prev := uint16(r.raw(clockControl, 2))
		ctl &^= clockIntStable
		if ctl&clockIntEn != 0 {
			if prev&clockIntEn != 0 && prev&clockIntStable != 0 {
				ctl |= clockIntStable
			} else if prev&clockIntEn == 0 {
				r.pendingPolls = r.StableAfter
			}
		}
		value = uint32(ctl) | value&^0xFFFF
	}
	r.put(offset, n, value)
}

func (r *Registers) raw(offset uint32, n int) uint32 {
	if int(offset)+n > WindowSize {
		return 0
	}
	b := r.mem[offset : int(offset)+n]
	switch n {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	default:
		return binary.LittleEndian.Uint32(b)
	}
}

func (r *Registers) put(offset uint32, n int, value uint32) {
	if int(offset)+n > WindowSize {
		return
	}
	b := r.mem[offset : int(offset)+n]
	switch n {
	case 1:
		b[0] = uint8(value)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(value))
	default:
		binary.LittleEndian.PutUint32(b, value)
	}
}

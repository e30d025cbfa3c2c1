package host

import (
	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// Shim wraps the raw register window and hides the controller's register
// defects from the generic core above it:
//   - host-version reads return HostVersionLegacy
//   - present-state reads always report the write-protect switch set
//   - signal-enable writes drop the timeout and CRC error sources
//   - interrupt-enable writes mirror the card-interrupt bit into block-gap
//     control
//
// Every other access passes straight through. Overrides apply whatever the
// access width, so a byte read of the version register is patched too.
type Shim struct {
	regs hal.Registers
}

var _ hal.Registers = (*Shim)(nil)

// NewShim wraps regs.
func NewShim(regs hal.Registers) *Shim {
	return &Shim{regs: regs}
}

// readFix rewrites the bytes of one register on the way out.
type readFix struct {
	reg   uint32
	size  uint32
	keep  uint32 // hardware bits kept
	force uint32 // bits forced on
}

// writeMask clears bits of one register on the way in.
type writeMask struct {
	reg   uint32
	size  uint32
	clear uint32
}

var readFixes = [...]readFix{
	{reg: RegHostVersion, size: 2, keep: 0, force: HostVersionLegacy},
	{reg: RegPresentState, size: 4, keep: ^uint32(0), force: PresentWriteProtect},
}

var writeMasks = [...]writeMask{
	{reg: RegSignalEnable, size: 4, clear: IntTimeout | IntCRC},
}

// Read8 reads one byte.
func (s *Shim) Read8(offset uint32) uint8 {
	return uint8(fixRead(offset, 1, uint32(s.regs.Read8(offset))))
}

// Read16 reads a half-word.
func (s *Shim) Read16(offset uint32) uint16 {
	return uint16(fixRead(offset, 2, uint32(s.regs.Read16(offset))))
}

// Read32 reads a word.
func (s *Shim) Read32(offset uint32) uint32 {
	return fixRead(offset, 4, s.regs.Read32(offset))
}

// Write8 writes one byte.
func (s *Shim) Write8(offset uint32, value uint8) {
	s.regs.Write8(offset, uint8(fixWrite(offset, 1, uint32(value))))
	s.afterWrite(offset, 1, uint32(value))
}

// Write16 writes a half-word.
func (s *Shim) Write16(offset uint32, value uint16) {
	s.regs.Write16(offset, uint16(fixWrite(offset, 2, uint32(value))))
	s.afterWrite(offset, 2, uint32(value))
}

// Write32 writes a word.
func (s *Shim) Write32(offset uint32, value uint32) {
	s.regs.Write32(offset, fixWrite(offset, 4, value))
	s.afterWrite(offset, 4, value)
}

// afterWrite keeps card-interrupt detection working: the block-gap
// interrupt bit must follow the card-interrupt enable.
func (s *Shim) afterWrite(offset, n, value uint32) {
	if !overlaps(offset, n, RegIntEnable, 4) {
		return
	}
	enable := value
	if offset != RegIntEnable || n != 4 {
		enable = s.regs.Read32(RegIntEnable)
	}

	gap := s.regs.Read8(RegBlockGapControl)
	if enable&IntCardInt != 0 {
		gap |= BlockGapInterrupt
	} else {
		gap &^= BlockGapInterrupt
	}
	s.regs.Write8(RegBlockGapControl, gap)
}

func fixRead(offset, n, v uint32) uint32 {
	for _, f := range readFixes {
		if !overlaps(offset, n, f.reg, f.size) {
			continue
		}
		span := align(widthMask(f.size), offset, f.reg)
		keep := align(uint64(f.keep), offset, f.reg) & span
		force := align(uint64(f.force), offset, f.reg) & span
		v = uint32((uint64(v)&^span | uint64(v)&keep | force) & widthMask(n))
	}
	return v
}

func fixWrite(offset, n, v uint32) uint32 {
	for _, m := range writeMasks {
		if !overlaps(offset, n, m.reg, m.size) {
			continue
		}
		drop := align(uint64(m.clear), offset, m.reg)
		if stripped := uint64(v) & drop; stripped != 0 {
			pkg.LogDebug(pkg.ComponentShim, "masked unreliable interrupt sources",
				"offset", offset, "bits", stripped)
		}
		v = uint32(uint64(v) &^ drop & widthMask(n))
	}
	return v
}

// overlaps reports whether access [offset, offset+n) touches [reg, reg+size).
func overlaps(offset, n, reg, size uint32) bool {
	return offset < reg+size && reg < offset+n
}

// align moves a register-relative bit pattern into the bit positions of an
// access at offset.
func align(bits uint64, offset, reg uint32) uint64 {
	if reg >= offset {
		return bits << (8 * (reg - offset))
	}
	return bits >> (8 * (offset - reg))
}

func widthMask(n uint32) uint64 {
	return 1<<(8*n) - 1
}

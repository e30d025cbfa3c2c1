package host

import (
	"fmt"
	"strings"
	"time"

	"github.com/ardnew/softmmc/pkg"
)

// SDHCI register offsets, relative to the controller base.
const (
	RegPresentState       = 0x24  // Present state (32-bit)
	RegHostControl        = 0x28  // Host control (8-bit)
	RegBlockGapControl    = 0x2A  // Block gap control (8-bit)
	RegClockControl       = 0x2C  // Clock control (16-bit)
	RegIntEnable          = 0x34  // Normal/error interrupt status enable (32-bit)
	RegSignalEnable       = 0x38  // Normal/error interrupt signal enable (32-bit)
	RegCapabilities       = 0x40  // Capabilities (32-bit)
	RegHostVersion        = 0xFE  // Host controller version (16-bit)
	RegVendorClockControl = 0x100 // Vendor clock control (8-bit)
)

// Present state bits.
const (
	PresentWriteProtect = 0x00080000 // Write protect switch level
)

// Host control bits.
const (
	HostCtrl4BitBus = 0x02
	HostCtrl8BitBus = 0x20
)

// Block gap control bits.
const (
	BlockGapInterrupt = 0x08 // Interrupt at block gap
)

// Clock control bits and divider fields.
const (
	ClockIntEnable  = 0x0001 // Internal clock enable
	ClockIntStable  = 0x0002 // Internal clock stable (read-only)
	ClockCardEnable = 0x0004 // SD clock enable

	DividerShift   = 8
	DividerHiShift = 6
	DivMask        = 0xFF
	DivMaskLen     = 8
	DivHiMask      = 0x300
)

// Interrupt bits shared by the enable and signal-enable registers.
const (
	IntCardInt = 0x00000100
	IntTimeout = 0x00010000
	IntCRC     = 0x00020000
)

// Vendor clock control bits.
const (
	VendorClockInputEnable      = 0x01
	VendorClockPadPipeOverride  = 0x08
	capabilitiesDummyWriteValue = 0x01
)

// HostVersionLegacy is what host-version reads return: spec version 2.00,
// vendor version 0.
const HostVersionLegacy = 0x0001

// Divisor ceilings of the two divider encodings.
const (
	MaxDivWide   = 2046 // 10-bit field, even divisors
	MaxDivLegacy = 256  // 8-bit field, power-of-two divisors
)

// Clock timing.
const (
	// MinIdentificationClock is the card clock restored on resume.
	MinIdentificationClock = 400000

	stabilizeDelay    = 5 * time.Microsecond
	stablePollCount   = 20
	stablePollPeriod  = time.Millisecond
	defaultSettleTime = 2500 * time.Millisecond
)

// Default supply names and I/O rail window.
const (
	DefaultIOSupply   = "vddio_sdmmc"
	DefaultSlotSupply = "vddio_sd_slot"
	DefaultIOMinUV    = 3280000
	DefaultIOMaxUV    = 3320000
)

// Chip identifies the controller generation. It selects the clock-control
// strategy once, when a controller is acquired.
type Chip uint8

// Supported generations.
const (
	ChipTegra2 Chip = iota // Legacy divider field, no stabilization erratum
	ChipTegra3             // Wide divider field, pad-pipe stabilization erratum
)

// String returns the chip name.
func (c Chip) String() string {
	switch c {
	case ChipTegra2:
		return "tegra2"
	case ChipTegra3:
		return "tegra3"
	default:
		return fmt.Sprintf("chip(%d)", uint8(c))
	}
}

// ParseChip accepts the chip names used in board files and device trees.
func ParseChip(s string) (Chip, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tegra2", "tegra20", "t20":
		return ChipTegra2, nil
	case "tegra3", "tegra30", "t30":
		return ChipTegra3, nil
	}
	return 0, fmt.Errorf("%w: unknown chip %q", pkg.ErrInvalidParameter, s)
}

// Presence is the card-presence state.
type Presence uint8

// Presence values.
const (
	PresenceUnknown Presence = iota
	PresenceAbsent
	PresencePresent
)

// String returns a human-readable presence.
func (p Presence) String() string {
	switch p {
	case PresenceUnknown:
		return "unknown"
	case PresenceAbsent:
		return "absent"
	case PresencePresent:
		return "present"
	default:
		return fmt.Sprintf("presence(%d)", uint8(p))
	}
}

func presenceOf(present bool) Presence {
	if present {
		return PresencePresent
	}
	return PresenceAbsent
}

// Caps are the host capabilities reported to the controller core.
type Caps uint32

// Capability bits.
const (
	CapErase        Caps = 1 << 0
	Cap8BitData     Caps = 1 << 1
	CapNonRemovable Caps = 1 << 2
)

// Has reports whether every bit of want is set.
func (c Caps) Has(want Caps) bool { return c&want == want }

// PMCaps are the power-management capabilities reported to the core.
type PMCaps uint32

// Power-management capability bits.
const (
	PMKeepPower      PMCaps = 1 << 0
	PMIgnorePMNotify PMCaps = 1 << 1
)

// Has reports whether every bit of want is set.
func (c PMCaps) Has(want PMCaps) bool { return c&want == want }

// Quirks are the register-level deviations the core must work around.
type Quirks uint32

// Quirk bits.
const (
	QuirkBrokenTimeoutVal Quirks = 1 << iota
	QuirkSinglePowerWrite
	QuirkNoHiSpdBit
	QuirkBrokenADMAZeroLenDesc
	QuirkDataTimeoutUsesSDClk
	QuirkNonstandardClock
)

// Has reports whether every bit of want is set.
func (q Quirks) Has(want Quirks) bool { return q&want == want }

const baseQuirks = QuirkBrokenTimeoutVal | QuirkSinglePowerWrite |
	QuirkNoHiSpdBit | QuirkBrokenADMAZeroLenDesc

// Quirks returns the quirk set of the chip generation.
func (c Chip) Quirks() Quirks {
	if c == ChipTegra3 {
		return baseQuirks | QuirkDataTimeoutUsesSDClk | QuirkNonstandardClock
	}
	return baseQuirks
}

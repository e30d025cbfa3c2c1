package hal

import (
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// LineID identifies a general-purpose I/O line on the platform.
// Negative values mean "not wired on this board".
type LineID int

// NoLine marks an absent I/O line.
const NoLine LineID = -1

// Valid reports whether the identifier names a line.
func (id LineID) Valid() bool {
	return id >= 0
}

// VoltageRange is an inclusive regulator constraint in microvolts.
type VoltageRange struct {
	MinUV int
	MaxUV int
}

// Contains reports whether uv lies inside the range.
func (r VoltageRange) Contains(uv int) bool {
	return uv >= r.MinUV && uv <= r.MaxUV
}

// Registers is the memory-mapped register window of one host controller.
//
// Offsets are relative to the controller base. Implementations perform a
// single bus transaction per call; they do no locking of their own because
// the controller serializes every access.
type Registers interface {
	Read8(offset uint32) uint8
	Read16(offset uint32) uint16
	Read32(offset uint32) uint32

	Write8(offset uint32, value uint8)
	Write16(offset uint32, value uint16)
	Write32(offset uint32, value uint32)
}

// Line is a reserved general-purpose I/O line.
//
// The method set is the subset of periph's [gpio.PinIO] the controller needs,
// so any periph pin satisfies it directly.
type Line interface {
	// Name returns the platform name of the line.
	Name() string

	// In configures the line as input. An edge other than gpio.NoEdge arms
	// edge detection; failure to arm it is an interrupt registration failure.
	In(pull gpio.Pull, edge gpio.Edge) error

	// Out configures the line as output and drives it.
	Out(level gpio.Level) error

	// Read returns the current level.
	Read() gpio.Level

	// WaitForEdge blocks until an armed edge occurs or timeout elapses.
	// It returns true on an edge.
	WaitForEdge(timeout time.Duration) bool

	// Halt stops any pending WaitForEdge.
	Halt() error
}

// GPIO reserves and releases I/O lines.
type GPIO interface {
	// Request reserves the line under label. It returns an error wrapping
	// pkg.ErrLineUnavailable if the line does not exist or is already
	// reserved.
	Request(id LineID, label string) (Line, error)

	// Free releases a reservation made by Request.
	Free(id LineID) error
}

// Regulator is a handle to one voltage supply.
type Regulator interface {
	Name() string

	// SetVoltage constrains the output to [minUV, maxUV]. It returns an
	// error wrapping pkg.ErrVoltageRejected if the supply cannot comply.
	SetVoltage(minUV, maxUV int) error

	Enable() error
	Disable() error
}

// Regulators looks up supplies by consumer name.
type Regulators interface {
	// Get returns an error wrapping pkg.ErrRegulatorNotFound when no supply
	// has the given name.
	Get(supply string) (Regulator, error)

	// Put drops a handle obtained from Get.
	Put(r Regulator)
}

// Clock is a handle to the controller's input clock.
type Clock interface {
	Name() string
	Enable() error
	Disable()

	// Rate returns the frequency the source delivers when enabled.
	Rate() physic.Frequency
}

// Clocks looks up clock sources by name. An empty name selects the
// controller's default input clock.
type Clocks interface {
	// Get returns an error wrapping pkg.ErrClockUnavailable when the clock
	// does not exist.
	Get(name string) (Clock, error)

	// Put drops a handle obtained from Get.
	Put(c Clock)
}

// Platform bundles the hardware services one controller instance consumes.
type Platform struct {
	Registers  Registers
	GPIO       GPIO
	Regulators Regulators
	Clocks     Clocks
}

// Hz converts a periph frequency to whole hertz, saturating at the uint32
// range used by the clock-control path.
func Hz(f physic.Frequency) uint32 {
	hz := int64(f / physic.Hertz)
	switch {
	case hz <= 0:
		return 0
	case hz > int64(^uint32(0)):
		return ^uint32(0)
	}
	return uint32(hz)
}

package host

import (
	"fmt"
	"time"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// StatusDetector is a card-presence source that is not a GPIO line, such as
// an SDIO chip whose power switch doubles as "card present".
type StatusDetector interface {
	// CardPresent reports current presence synchronously.
	CardPresent() bool

	// RegisterStatusNotify installs cb, called whenever presence may have
	// changed. The argument is advisory; the controller re-queries
	// CardPresent. The returned function removes the registration.
	RegisterStatusNotify(cb func(present bool)) (unregister func())
}

// Config describes one controller instance. It is consumed as-is by
// Acquire; loaders in pkg/board produce it from board files.
type Config struct {
	// Name labels the instance ("sdhci0") and prefixes line reservations.
	Name string

	// Chip selects the clock-control strategy.
	Chip Chip

	// Optional I/O lines. NoLine skips the step.
	PowerLine        hal.LineID
	CardDetectLine   hal.LineID
	WriteProtectLine hal.LineID

	// CardDetectActiveHigh treats a high card-detect level as "present".
	// Card-detect switches are active-low by default.
	CardDetectActiveHigh bool

	// Supply names. An empty name skips the step.
	IOSupply   string
	SlotSupply string

	// IOVoltage is the constraint applied to the I/O rail before enabling it.
	IOVoltage hal.VoltageRange

	// Clock names the input clock; empty selects the platform default.
	Clock string

	// BusWidth is the widest data bus the slot is wired for: 1, 4 or 8.
	BusWidth int

	// BuiltIn marks non-removable media. Built-in instances skip both
	// regulator steps and surface presence changes without debounce.
	BuiltIn bool

	// NoVReg marks an instance with no external power rail: a missing
	// regulator is tolerated instead of failing acquisition.
	NoVReg bool

	// Status is used when no card-detect line is bound.
	Status StatusDetector

	// SettleDelay debounces a removable card's insertion.
	SettleDelay time.Duration
}

// DefaultConfig returns a removable 4-bit Tegra2 slot with no lines bound.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		Chip:             ChipTegra2,
		PowerLine:        hal.NoLine,
		CardDetectLine:   hal.NoLine,
		WriteProtectLine: hal.NoLine,
		IOSupply:         DefaultIOSupply,
		SlotSupply:       DefaultSlotSupply,
		IOVoltage:        hal.VoltageRange{MinUV: DefaultIOMinUV, MaxUV: DefaultIOMaxUV},
		BusWidth:         4,
		SettleDelay:      defaultSettleTime,
	}
}

// Is8Bit reports whether the slot is wired for an 8-bit bus.
func (c *Config) Is8Bit() bool {
	return c.BusWidth == 8
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: controller name", pkg.ErrMissingConfig)
	}
	if c.Chip != ChipTegra2 && c.Chip != ChipTegra3 {
		return fmt.Errorf("%w: chip %v", pkg.ErrInvalidParameter, c.Chip)
	}
	switch c.BusWidth {
	case 1, 4, 8:
	default:
		return fmt.Errorf("%w: bus width %d", pkg.ErrInvalidParameter, c.BusWidth)
	}
	if c.IOSupply != "" && (c.IOVoltage.MinUV <= 0 || c.IOVoltage.MinUV > c.IOVoltage.MaxUV) {
		return fmt.Errorf("%w: I/O voltage %d-%duV", pkg.ErrInvalidParameter,
			c.IOVoltage.MinUV, c.IOVoltage.MaxUV)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("%w: settle delay %v", pkg.ErrInvalidParameter, c.SettleDelay)
	}

	seen := make(map[hal.LineID]string, 3)
	for _, l := range []struct {
		role string
		id   hal.LineID
	}{
		{"power", c.PowerLine},
		{"card-detect", c.CardDetectLine},
		{"write-protect", c.WriteProtectLine},
	} {
		if !l.id.Valid() {
			continue
		}
		if other, dup := seen[l.id]; dup {
			return fmt.Errorf("%w: line %d used for %s and %s", pkg.ErrInvalidParameter,
				l.id, other, l.role)
		}
		seen[l.id] = l.role
	}
	return nil
}

func (c *Config) label(suffix string) string {
	return c.Name + "_" + suffix
}

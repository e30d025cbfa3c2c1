package host

import (
	"fmt"

	"github.com/ardnew/softmmc/pkg"
)

// clockOps is the chip-specific card-clock sequence. One implementation is
// chosen at acquisition and never changes.
type clockOps interface {
	// enable programs the divider for hz and starts the card clock.
	enable(c *Controller, hz uint32) error

	// disable stops the card clock.
	disable(c *Controller)
}

func newClockOps(chip Chip) clockOps {
	if chip == ChipTegra3 {
		return stabilizedClock{}
	}
	return legacyClock{}
}

// EvenDivisor returns the divisor for the wide (10-bit) divider field: 1 if
// the base clock already satisfies hz, else the smallest even divisor whose
// output does not exceed hz, capped at MaxDivWide.
func EvenDivisor(maxHz, hz uint32) uint32 {
	if maxHz <= hz {
		return 1
	}
	div := uint32(2)
	for ; div < MaxDivWide; div += 2 {
		if maxHz/div <= hz {
			break
		}
	}
	return div
}

// PowerOfTwoDivisor returns the divisor for the legacy (8-bit) divider
// field: the smallest power of two whose output does not exceed hz, capped
// at MaxDivLegacy.
func PowerOfTwoDivisor(maxHz, hz uint32) uint32 {
	div := uint32(1)
	for ; div < MaxDivLegacy; div *= 2 {
		if maxHz/div <= hz {
			break
		}
	}
	return div
}

// encodeWide packs a halved divisor into the split 10-bit field.
func encodeWide(div uint32) uint16 {
	v := (div & DivMask) << DividerShift
	v |= ((div & DivHiMask) >> DivMaskLen) << DividerHiShift
	return uint16(v)
}

// encodeLegacy packs a halved divisor into the 8-bit field.
func encodeLegacy(div uint32) uint16 {
	return uint16((div & DivMask) << DividerShift)
}

// cardClock holds the steps both generations share.
type cardClock struct{}

func (cardClock) disable(c *Controller) {
	c.regs.Write16(RegClockControl, 0)
}

// waitStable polls for the internal-clock-stable bit. It reads at most
// stablePollCount+1 times and always returns.
func (cardClock) waitStable(c *Controller) (uint16, error) {
	for budget := stablePollCount; ; budget-- {
		ctl := c.regs.Read16(RegClockControl)
		if ctl&ClockIntStable != 0 {
			return ctl, nil
		}
		if budget == 0 {
			return ctl, pkg.ErrClockUnstable
		}
		c.sleep(stablePollPeriod)
	}
}

// legacyClock programs a power-of-two divider and waits for the internal
// clock the standard way.
type legacyClock struct{ cardClock }

func (l legacyClock) enable(c *Controller, hz uint32) error {
	c.regs.Write16(RegClockControl, 0)

	div := PowerOfTwoDivisor(c.maxHz, hz) >> 1
	c.regs.Write16(RegClockControl, encodeLegacy(div)|ClockIntEnable)

	ctl, err := l.waitStable(c)
	if err != nil {
		return err
	}
	c.regs.Write16(RegClockControl, ctl|ClockCardEnable)
	return nil
}

// stabilizedClock programs an even divider. Its internal clock does not
// settle for dividers above 4 unless the pad-pipe clock is forced on while
// it starts, and a dummy bus write is issued after the first few
// microseconds.
type stabilizedClock struct{ cardClock }

func (s stabilizedClock) enable(c *Controller, hz uint32) error {
	c.regs.Write16(RegClockControl, 0)

	div := EvenDivisor(c.maxHz, hz) >> 1

	vendor := c.regs.Read8(RegVendorClockControl)
	c.regs.Write8(RegVendorClockControl, vendor|VendorClockPadPipeOverride)

	c.regs.Write16(RegClockControl, encodeWide(div)|ClockIntEnable)
	c.sleep(stabilizeDelay)

	caps := c.regs.Read8(RegCapabilities)
	c.regs.Write8(RegCapabilities, caps|capabilitiesDummyWriteValue)

	// On timeout the override stays set; the next enable rewrites it.
	ctl, err := s.waitStable(c)
	if err != nil {
		return err
	}

	vendor = c.regs.Read8(RegVendorClockControl)
	c.regs.Write8(RegVendorClockControl, vendor&^VendorClockPadPipeOverride)

	c.regs.Write16(RegClockControl, ctl|ClockCardEnable)
	return nil
}

// SetClock drives the clock state machine.
//
// Zero stops the card clock and gates the input clock. A nonzero rate
// ungates the input clock if needed and programs the card clock, unless it
// already runs at that rate. A stabilization timeout leaves the card clock
// stopped and returns an error wrapping pkg.ErrClockUnstable; the instance
// stays usable.
func (c *Controller) SetClock(hz uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return pkg.ErrClosed
	}
	return c.setClockLocked(hz)
}

func (c *Controller) setClockLocked(hz uint32) error {
	pkg.LogDebug(pkg.ComponentClock, "set clock",
		c.attrs("hz", hz, "enabled", c.clkEnabled, "current", c.cardHz)...)

	if hz == 0 {
		if !c.clkEnabled {
			return nil
		}
		c.ops.disable(c)
		c.cardHz = 0
		c.regs.Write8(RegVendorClockControl, 0)
		c.clk.Disable()
		c.clkEnabled = false
		pkg.LogInfo(pkg.ComponentClock, "clock gated", c.attrs()...)
		return nil
	}

	if !c.clkEnabled {
		if err := c.clk.Enable(); err != nil {
			return fmt.Errorf("%w: %w", pkg.ErrClockUnavailable, err)
		}
		c.regs.Write8(RegVendorClockControl, VendorClockInputEnable)
		c.clkEnabled = true
	}

	if hz == c.cardHz {
		return nil
	}

	if err := c.ops.enable(c, hz); err != nil {
		// The card clock is stopped; forget the old rate so a retry
		// reprograms it.
		c.cardHz = 0
		pkg.LogError(pkg.ComponentClock, "internal clock never stabilised",
			c.attrs("hz", hz, "error", err)...)
		return fmt.Errorf("set clock %d Hz: %w", hz, err)
	}
	c.cardHz = hz
	pkg.LogInfo(pkg.ComponentClock, "card clock running", c.attrs("hz", hz)...)
	return nil
}

// Suspend quiesces the clock.
func (c *Controller) Suspend() error {
	return c.SetClock(0)
}

// Resume restores the identification-mode clock so the core can issue
// commands.
func (c *Controller) Resume() error {
	return c.SetClock(MinIdentificationClock)
}

// Rate returns the programmed card clock, or 0 when stopped.
func (c *Controller) Rate() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cardHz
}

// ClockEnabled reports whether the input clock is ungated.
func (c *Controller) ClockEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clkEnabled
}

// BaseClock returns the input clock rate the divisor is computed against.
func (c *Controller) BaseClock() uint32 {
	return c.maxHz
}

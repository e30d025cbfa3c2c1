package host

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// Controller is one acquired SD/MMC host-controller instance. It owns every
// platform resource Acquire claimed until Release.
//
// All clock changes, register sessions and presence evaluation run under a
// single per-instance lock. Separate controllers share nothing.
type Controller struct {
	id  string
	cfg Config
	hal hal.Platform

	regs hal.Registers // raw window, used by the clock sequences
	shim *Shim         // what the controller core sees
	ops  clockOps

	notify Notifier
	mon    *monitor
	sleep  func(time.Duration)

	mu     sync.Mutex
	closed bool

	// Clock state.
	clkEnabled bool
	cardHz     uint32
	maxHz      uint32

	// Bound resources; nil when unbound.
	power   hal.Line
	cd      hal.Line
	wp      hal.Line
	ioReg   hal.Regulator
	slotReg hal.Regulator
	clk     hal.Clock

	undos []undo
	card  CardState
	caps  Caps
}

// ID returns the instance identifier assigned at acquisition.
func (c *Controller) ID() string { return c.id }

// Name returns the configured instance name.
func (c *Controller) Name() string { return c.cfg.Name }

// Config returns the configuration the controller was acquired with.
func (c *Controller) Config() Config { return c.cfg }

// Caps returns the host capabilities.
func (c *Controller) Caps() Caps { return c.caps }

// PMCaps returns the power-management capabilities.
func (c *Controller) PMCaps() PMCaps { return PMKeepPower | PMIgnorePMNotify }

// Quirks returns the register quirks the core must honour.
func (c *Controller) Quirks() Quirks { return c.cfg.Chip.Quirks() }

// ReadOnly reports the write-protect switch. It returns pkg.ErrNoWriteProtect
// when no write-protect line is bound.
func (c *Controller) ReadOnly() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, pkg.ErrClosed
	}
	if c.wp == nil {
		return false, pkg.ErrNoWriteProtect
	}
	return c.wp.Read() == gpio.High, nil
}

// SetBusWidth programs the data bus width (1, 4 or 8) in host control.
// An 8-bit request on a slot not wired for it leaves both width bits clear.
func (c *Controller) SetBusWidth(width int) error {
	switch width {
	case 1, 4, 8:
	default:
		return fmt.Errorf("%w: bus width %d", pkg.ErrInvalidParameter, width)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pkg.ErrClosed
	}

	ctrl := c.shim.Read8(RegHostControl)
	if c.cfg.Is8Bit() && width == 8 {
		ctrl &^= HostCtrl4BitBus
		ctrl |= HostCtrl8BitBus
	} else {
		ctrl &^= HostCtrl8BitBus
		if width == 4 {
			ctrl |= HostCtrl4BitBus
		} else {
			ctrl &^= HostCtrl4BitBus
		}
	}
	c.shim.Write8(RegHostControl, ctrl)

	pkg.LogDebug(pkg.ComponentHost, "bus width set", c.attrs("width", width, "ctrl", ctrl)...)
	return nil
}

// Exclusive runs fn with the instance lock held, handing it the shimmed
// register window. The controller core issues its register sequences
// through here so they never interleave with clock changes or presence
// evaluation.
func (c *Controller) Exclusive(fn func(regs hal.Registers)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pkg.ErrClosed
	}
	fn(c.shim)
	return nil
}

// String returns a short description for logs.
func (c *Controller) String() string {
	return fmt.Sprintf("%s (%s, %s)", c.cfg.Name, c.cfg.Chip, c.id)
}

// attrs prefixes log attributes with the instance identity.
func (c *Controller) attrs(kv ...any) []any {
	return append([]any{"controller", c.cfg.Name, "id", c.id}, kv...)
}

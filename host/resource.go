package host

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// Step is one stage of resource acquisition, in acquisition order.
type Step uint8

// Acquisition steps.
const (
	StepPowerLine    Step = iota + 1 // Power-control line, driven high
	StepCardDetect                   // Card-detect line and its edge interrupt, or a status detector
	StepWriteProtect                 // Write-protect line
	StepIORail                       // I/O-rail regulator, voltage constraint, enable
	StepSlotRail                     // Slot-rail regulator, enable
	StepClock                        // Input clock handle, enable
)

// String returns the step name.
func (s Step) String() string {
	switch s {
	case StepPowerLine:
		return "power line"
	case StepCardDetect:
		return "card detect"
	case StepWriteProtect:
		return "write protect"
	case StepIORail:
		return "I/O rail"
	case StepSlotRail:
		return "slot rail"
	case StepClock:
		return "clock"
	default:
		return fmt.Sprintf("step(%d)", uint8(s))
	}
}

// StepError reports the acquisition step that failed. Err wraps one of the
// pkg acquisition sentinels.
type StepError struct {
	Step Step
	Err  error
}

// Error names the failed step and its cause.
func (e *StepError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(step Step, sentinel, cause error) error {
	if errors.Is(cause, sentinel) {
		return &StepError{Step: step, Err: cause}
	}
	return &StepError{Step: step, Err: fmt.Errorf("%w: %w", sentinel, cause)}
}

// undo releases one completed step.
type undo struct {
	step Step
	fn   func() error
}

// Acquire claims every resource cfg names, in order, and returns the
// controller that owns them. Steps configured as absent are skipped.
//
// If any step fails, the steps already completed are released in reverse
// order before the error is returned, so a failed Acquire holds nothing.
// The error is a *StepError.
//
// n receives presence changes; it may be nil.
func Acquire(cfg Config, p hal.Platform, n Notifier) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkPlatform(&cfg, p); err != nil {
		return nil, err
	}
	c := &Controller{
		id:     uuid.New().String(),
		cfg:    cfg,
		hal:    p,
		regs:   p.Registers,
		shim:   NewShim(p.Registers),
		ops:    newClockOps(cfg.Chip),
		notify: n,
		mon:    newMonitor(),
		sleep:  time.Sleep,
	}

	steps := []struct {
		step Step
		run  func() (func() error, error)
	}{
		{StepPowerLine, c.acquirePower},
		{StepCardDetect, c.acquireCardDetect},
		{StepWriteProtect, c.acquireWriteProtect},
		{StepIORail, c.acquireIORail},
		{StepSlotRail, c.acquireSlotRail},
		{StepClock, c.acquireClock},
	}

	for _, s := range steps {
		release, err := s.run()
		if err != nil {
			pkg.LogError(pkg.ComponentResource, "acquisition failed",
				c.attrs("step", s.step, "error", err)...)
			if uerr := c.unwind(); uerr != nil {
				pkg.LogWarn(pkg.ComponentResource, "rollback incomplete",
					c.attrs("error", uerr)...)
			}
			return nil, err
		}
		if release != nil {
			c.undos = append(c.undos, undo{step: s.step, fn: release})
			pkg.LogDebug(pkg.ComponentResource, "acquired", c.attrs("step", s.step)...)
		}
	}

	c.caps = CapErase
	if cfg.Is8Bit() {
		c.caps |= Cap8BitData
	}
	if cfg.BuiltIn {
		c.caps |= CapNonRemovable
	}

	c.startMonitor()

	pkg.LogInfo(pkg.ComponentHost, "controller acquired",
		c.attrs("chip", cfg.Chip, "presence", c.card.surfaced, "base_hz", c.maxHz)...)
	return c, nil
}

func checkPlatform(cfg *Config, p hal.Platform) error {
	switch {
	case p.Registers == nil:
		return fmt.Errorf("%w: register window", pkg.ErrMissingConfig)
	case p.Clocks == nil:
		return fmt.Errorf("%w: clock service", pkg.ErrMissingConfig)
	case p.GPIO == nil && (cfg.PowerLine.Valid() || cfg.CardDetectLine.Valid() || cfg.WriteProtectLine.Valid()):
		return fmt.Errorf("%w: GPIO service", pkg.ErrMissingConfig)
	case p.Regulators == nil && !cfg.BuiltIn && (cfg.IOSupply != "" || cfg.SlotSupply != ""):
		return fmt.Errorf("%w: regulator service", pkg.ErrMissingConfig)
	}
	return nil
}

// Release unwinds every acquired resource in reverse acquisition order.
// It is safe to call more than once; later calls do nothing.
func (c *Controller) Release() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.unwind()
	pkg.LogInfo(pkg.ComponentHost, "controller released", c.attrs()...)
	return err
}

// Close implements io.Closer.
func (c *Controller) Close() error {
	return c.Release()
}

// unwind runs the undo stack top-down. Every entry runs even if an earlier
// one fails.
func (c *Controller) unwind() error {
	var errs []error
	for i := len(c.undos) - 1; i >= 0; i-- {
		u := c.undos[i]
		if err := u.fn(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", u.step, err))
		}
		pkg.LogDebug(pkg.ComponentResource, "released", c.attrs("step", u.step)...)
	}
	c.undos = nil
	return errors.Join(errs...)
}

// =============================================================================
// Steps
// =============================================================================

// Each step returns the function that releases it, or nil if skipped. A
// failing step cleans up its own partial work; the caller unwinds only the
// steps before it.

func (c *Controller) acquirePower() (func() error, error) {
	id := c.cfg.PowerLine
	if !id.Valid() {
		return nil, nil
	}
	line, err := c.hal.GPIO.Request(id, c.cfg.label("power"))
	if err != nil {
		return nil, stepErr(StepPowerLine, pkg.ErrLineUnavailable, err)
	}
	if err := line.Out(gpio.High); err != nil {
		_ = c.hal.GPIO.Free(id)
		return nil, stepErr(StepPowerLine, pkg.ErrLineUnavailable, err)
	}
	c.power = line
	return func() error {
		c.power = nil
		return c.hal.GPIO.Free(id)
	}, nil
}

func (c *Controller) acquireCardDetect() (func() error, error) {
	id := c.cfg.CardDetectLine

	if !id.Valid() {
		if c.cfg.Status == nil {
			c.card.setFixed(c.cfg.BuiltIn)
			return nil, nil
		}
		status := c.cfg.Status
		unregister := status.RegisterStatusNotify(func(bool) { c.kickMonitor() })
		c.card.init(presenceOf(status.CardPresent()))
		return func() error {
			c.stopMonitor()
			if unregister != nil {
				unregister()
			}
			return nil
		}, nil
	}

	line, err := c.hal.GPIO.Request(id, c.cfg.label("cd"))
	if err != nil {
		return nil, stepErr(StepCardDetect, pkg.ErrLineUnavailable, err)
	}
	if err := line.In(gpio.PullNoChange, gpio.BothEdges); err != nil {
		_ = c.hal.GPIO.Free(id)
		return nil, stepErr(StepCardDetect, pkg.ErrIRQUnavailable, err)
	}
	c.cd = line
	c.card.init(c.readCardDetect())

	return func() error {
		// The interrupt goes before the line it is attached to.
		c.stopMonitor()
		err := line.In(gpio.PullNoChange, gpio.NoEdge)
		c.cd = nil
		return errors.Join(err, c.hal.GPIO.Free(id))
	}, nil
}

func (c *Controller) acquireWriteProtect() (func() error, error) {
	id := c.cfg.WriteProtectLine
	if !id.Valid() {
		return nil, nil
	}
	line, err := c.hal.GPIO.Request(id, c.cfg.label("wp"))
	if err != nil {
		return nil, stepErr(StepWriteProtect, pkg.ErrLineUnavailable, err)
	}
	if err := line.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		_ = c.hal.GPIO.Free(id)
		return nil, stepErr(StepWriteProtect, pkg.ErrLineUnavailable, err)
	}
	c.wp = line
	return func() error {
		c.wp = nil
		return c.hal.GPIO.Free(id)
	}, nil
}

func (c *Controller) acquireIORail() (func() error, error) {
	if !c.wantsRail(c.cfg.IOSupply) {
		return nil, nil
	}
	r, err := c.getRegulator(StepIORail, c.cfg.IOSupply)
	if r == nil || err != nil {
		return nil, err
	}
	v := c.cfg.IOVoltage
	if err := r.SetVoltage(v.MinUV, v.MaxUV); err != nil {
		c.hal.Regulators.Put(r)
		return nil, stepErr(StepIORail, pkg.ErrVoltageRejected, err)
	}
	if err := r.Enable(); err != nil {
		c.hal.Regulators.Put(r)
		return nil, stepErr(StepIORail, pkg.ErrRegulatorEnable, err)
	}
	c.ioReg = r
	return c.releaseRegulator(&c.ioReg), nil
}

func (c *Controller) acquireSlotRail() (func() error, error) {
	if !c.wantsRail(c.cfg.SlotSupply) {
		return nil, nil
	}
	r, err := c.getRegulator(StepSlotRail, c.cfg.SlotSupply)
	if r == nil || err != nil {
		return nil, err
	}
	if err := r.Enable(); err != nil {
		c.hal.Regulators.Put(r)
		return nil, stepErr(StepSlotRail, pkg.ErrRegulatorEnable, err)
	}
	c.slotReg = r
	return c.releaseRegulator(&c.slotReg), nil
}

// wantsRail reports whether a regulator step applies. Built-in media is
// powered with the board and never switches its rails.
func (c *Controller) wantsRail(supply string) bool {
	return supply != "" && !c.cfg.BuiltIn
}

// getRegulator looks up a supply. A missing supply on an instance without
// an external rail yields (nil, nil) and the step is skipped.
func (c *Controller) getRegulator(step Step, supply string) (hal.Regulator, error) {
	r, err := c.hal.Regulators.Get(supply)
	if err == nil {
		return r, nil
	}
	if c.cfg.NoVReg && errors.Is(err, pkg.ErrRegulatorNotFound) {
		pkg.LogWarn(pkg.ComponentResource, "regulator not found, continuing",
			c.attrs("supply", supply)...)
		return nil, nil
	}
	return nil, stepErr(step, pkg.ErrRegulatorNotFound, err)
}

func (c *Controller) releaseRegulator(slot *hal.Regulator) func() error {
	return func() error {
		r := *slot
		*slot = nil
		err := r.Disable()
		c.hal.Regulators.Put(r)
		return err
	}
}

func (c *Controller) acquireClock() (func() error, error) {
	clk, err := c.hal.Clocks.Get(c.cfg.Clock)
	if err != nil {
		return nil, stepErr(StepClock, pkg.ErrClockUnavailable, err)
	}
	if err := clk.Enable(); err != nil {
		c.hal.Clocks.Put(clk)
		return nil, stepErr(StepClock, pkg.ErrClockUnavailable, err)
	}
	c.clk = clk
	c.maxHz = hal.Hz(clk.Rate())
	c.clkEnabled = true

	return func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.clkEnabled {
			c.clk.Disable()
			c.clkEnabled = false
		}
		c.cardHz = 0
		c.hal.Clocks.Put(c.clk)
		return nil
	}, nil
}

package sim

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// =============================================================================
// Regulators
// =============================================================================

// Regulator is a simulated supply that can reach the voltages in Range.
type Regulator struct {
	name    string
	journal *Journal

	mu      sync.Mutex
	rng     hal.VoltageRange
	set     hal.VoltageRange
	enabled int

	// FailEnable, when set, is returned by Enable.
	FailEnable error
}

var _ hal.Regulator = (*Regulator)(nil)

// Name returns the supply name.
func (r *Regulator) Name() string { return r.name }

// SetVoltage accepts the request if it overlaps what the supply can reach.
func (r *Regulator) SetVoltage(minUV, maxUV int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if minUV > maxUV || maxUV < r.rng.MinUV || minUV > r.rng.MaxUV {
		return fmt.Errorf("%w: %s cannot supply %d-%duV", pkg.ErrVoltageRejected, r.name, minUV, maxUV)
	}
	r.set = hal.VoltageRange{MinUV: minUV, MaxUV: maxUV}
	r.journal.add("regulator.set_voltage %s %d %d", r.name, minUV, maxUV)
	return nil
}

// Enable turns the supply on.
func (r *Regulator) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailEnable != nil {
		return r.FailEnable
	}
	r.enabled++
	r.journal.add("regulator.enable %s", r.name)
	return nil
}

// Disable turns the supply off.
func (r *Regulator) Disable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled == 0 {
		return fmt.Errorf("sim: unbalanced disable of %s", r.name)
	}
	r.enabled--
	r.journal.add("regulator.disable %s", r.name)
	return nil
}

// Enabled reports whether the supply has outstanding enables.
func (r *Regulator) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled > 0
}

// Constraint returns the last accepted voltage constraint.
func (r *Regulator) Constraint() hal.VoltageRange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set
}

// Regulators is a simulated supply lookup.
type Regulators struct {
	journal *Journal

	mu       sync.Mutex
	supplies map[string]*Regulator
	handles  map[string]int
}

var _ hal.Regulators = (*Regulators)(nil)

// NewRegulators returns an empty supply set.
func NewRegulators(j *Journal) *Regulators {
	return &Regulators{
		journal:  j,
		supplies: make(map[string]*Regulator),
		handles:  make(map[string]int),
	}
}

// Add registers a supply reaching the given range.
func (rs *Regulators) Add(name string, reach hal.VoltageRange) *Regulator {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r := &Regulator{name: name, journal: rs.journal, rng: reach}
	rs.supplies[name] = r
	return r
}

// Regulator returns the named supply, or nil.
func (rs *Regulators) Regulator(name string) *Regulator {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.supplies[name]
}

// Get returns a handle to the named supply.
func (rs *Regulators) Get(supply string) (hal.Regulator, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.supplies[supply]
	if !ok {
		return nil, fmt.Errorf("%w: %q", pkg.ErrRegulatorNotFound, supply)
	}
	rs.handles[supply]++
	rs.journal.add("regulator.get %s", supply)
	return r, nil
}

// Put drops a handle.
func (rs *Regulators) Put(r hal.Regulator) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.handles[r.Name()] > 0 {
		rs.handles[r.Name()]--
	}
	rs.journal.add("regulator.put %s", r.Name())
}

// Handles returns the number of outstanding Get handles for a supply.
func (rs *Regulators) Handles(name string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.handles[name]
}

// =============================================================================
// Clocks
// =============================================================================

// Clock is a simulated input clock.
type Clock struct {
	name    string
	rate    physic.Frequency
	journal *Journal

	mu      sync.Mutex
	enables int

	// FailEnable, when set, is returned by Enable.
	FailEnable error
}

var _ hal.Clock = (*Clock)(nil)

// Name returns the clock name.
func (c *Clock) Name() string { return c.name }

// Rate returns the configured rate.
func (c *Clock) Rate() physic.Frequency { return c.rate }

// Enable ungates the clock.
func (c *Clock) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailEnable != nil {
		return c.FailEnable
	}
	c.enables++
	c.journal.add("clock.enable %s", c.name)
	return nil
}

// Disable gates the clock.
func (c *Clock) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enables > 0 {
		c.enables--
	}
	c.journal.add("clock.disable %s", c.name)
}

// EnableCount returns the net number of enables.
func (c *Clock) EnableCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enables
}

// Clocks is a simulated clock lookup.
type Clocks struct {
	journal *Journal

	mu      sync.Mutex
	clocks  map[string]*Clock
	dflt    string
	handles map[string]int
}

var _ hal.Clocks = (*Clocks)(nil)

// NewClocks returns an empty clock set.
func NewClocks(j *Journal) *Clocks {
	return &Clocks{
		journal: j,
		clocks:  make(map[string]*Clock),
		handles: make(map[string]int),
	}
}

// Add registers a clock. The first clock added becomes the default.
func (cs *Clocks) Add(name string, rate physic.Frequency) *Clock {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c := &Clock{name: name, rate: rate, journal: cs.journal}
	cs.clocks[name] = c
	if cs.dflt == "" {
		cs.dflt = name
	}
	return c
}

// Clock returns the named clock, or nil.
func (cs *Clocks) Clock(name string) *Clock {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.clocks[name]
}

// Get returns a handle; an empty name selects the default clock.
func (cs *Clocks) Get(name string) (hal.Clock, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if name == "" {
		name = cs.dflt
	}
	c, ok := cs.clocks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", pkg.ErrClockUnavailable, name)
	}
	cs.handles[name]++
	cs.journal.add("clock.get %s", name)
	return c, nil
}

// Put drops a handle.
func (cs *Clocks) Put(c hal.Clock) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.handles[c.Name()] > 0 {
		cs.handles[c.Name()]--
	}
	cs.journal.add("clock.put %s", c.Name())
}

// Handles returns the number of outstanding Get handles for a clock.
func (cs *Clocks) Handles(name string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.handles[name]
}

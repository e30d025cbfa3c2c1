package linux

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// =============================================================================
// Regulators
// =============================================================================

// Regulators finds supplies under a sysfs regulator class directory.
type Regulators struct {
	root string

	mu      sync.Mutex
	handles int
}

// NewRegulators returns a provider rooted at dir, normally
// SysfsRegulatorPath.
func NewRegulators(dir string) *Regulators {
	return &Regulators{root: dir}
}

// Get returns the regulator whose name attribute is supply.
func (r *Regulators) Get(supply string) (hal.Regulator, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pkg.ErrRegulatorNotFound, supply, err)
	}

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "regulator.") {
			continue
		}
		dir := filepath.Join(r.root, entry.Name())
		name, err := readSysfsString(filepath.Join(dir, attrRegName))
		if err != nil || name != supply {
			continue
		}

		r.mu.Lock()
		r.handles++
		r.mu.Unlock()
		pkg.LogDebug(pkg.ComponentHAL, "regulator found", "supply", supply, "path", dir)
		return &Regulator{name: name, dir: dir}, nil
	}
	return nil, fmt.Errorf("%w: %s", pkg.ErrRegulatorNotFound, supply)
}

// Put drops a handle.
func (r *Regulators) Put(hal.Regulator) {
	r.mu.Lock()
	if r.handles > 0 {
		r.handles--
	}
	r.mu.Unlock()
}

// Handles returns the number of outstanding handles.
func (r *Regulators) Handles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles
}

// Regulator is one sysfs regulator.
type Regulator struct {
	name string
	dir  string

	mu      sync.Mutex
	enabled bool // enabled through this handle
}

// Name returns the supply name.
func (r *Regulator) Name() string { return r.name }

// constraint returns the regulator's voltage window. A fixed rail without
// min/max attributes reports its present voltage for both bounds.
func (r *Regulator) constraint() (hal.VoltageRange, error) {
	lo, errLo := readSysfsInt(filepath.Join(r.dir, attrRegMinUV))
	hi, errHi := readSysfsInt(filepath.Join(r.dir, attrRegMaxUV))
	if errLo == nil && errHi == nil {
		return hal.VoltageRange{MinUV: lo, MaxUV: hi}, nil
	}
	uv, err := readSysfsInt(filepath.Join(r.dir, attrRegMicrovolt))
	if err != nil {
		return hal.VoltageRange{}, err
	}
	return hal.VoltageRange{MinUV: uv, MaxUV: uv}, nil
}

// SetVoltage succeeds when the requested window overlaps what the rail can
// deliver. sysfs has no voltage control, so nothing is written.
func (r *Regulator) SetVoltage(minUV, maxUV int) error {
	c, err := r.constraint()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", pkg.ErrVoltageRejected, r.name, err)
	}
	if maxUV < c.MinUV || minUV > c.MaxUV {
		return fmt.Errorf("%w: %s reaches %d-%duV, want %d-%duV", pkg.ErrVoltageRejected,
			r.name, c.MinUV, c.MaxUV, minUV, maxUV)
	}
	return nil
}

// Enable turns the rail on. Rails without a writable state attribute are
// accepted only if already on.
func (r *Regulator) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeSysfsString(filepath.Join(r.dir, attrRegState), stateEnabled); err != nil {
		state, rerr := readSysfsString(filepath.Join(r.dir, attrRegState))
		if rerr != nil || state != stateEnabled {
			return fmt.Errorf("%s: %w: state is %q", r.name, err, state)
		}
	}
	r.enabled = true
	return nil
}

// Disable turns the rail off where the state attribute is writable.
func (r *Regulator) Disable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return fmt.Errorf("%s: disable without enable", r.name)
	}
	r.enabled = false
	if err := writeSysfsString(filepath.Join(r.dir, attrRegState), stateDisabled); err != nil {
		pkg.LogDebug(pkg.ComponentHAL, "regulator left on", "supply", r.name, "error", err)
	}
	return nil
}

var (
	_ hal.Regulators = (*Regulators)(nil)
	_ hal.Regulator  = (*Regulator)(nil)
)

// =============================================================================
// Clocks
// =============================================================================

// Clocks reads clock sources from the common clock framework's debugfs
// tree. The kernel owns the gates, so Enable only checks that the clock is
// running.
type Clocks struct {
	root string
	def  string

	mu      sync.Mutex
	handles int
}

// NewClocks returns a provider rooted at dir, normally DebugfsClockPath.
// def names the clock returned for an empty name.
func NewClocks(dir, def string) *Clocks {
	return &Clocks{root: dir, def: def}
}

// Get returns the clock called name, or the default clock for "".
func (c *Clocks) Get(name string) (hal.Clock, error) {
	if name == "" {
		name = c.def
	}
	if name == "" {
		return nil, fmt.Errorf("%w: no default clock", pkg.ErrClockUnavailable)
	}

	dir := filepath.Join(c.root, name)
	if _, err := os.Stat(filepath.Join(dir, attrClkRate)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pkg.ErrClockUnavailable, name, err)
	}

	c.mu.Lock()
	c.handles++
	c.mu.Unlock()
	return &Clock{name: name, dir: dir}, nil
}

// Put drops a handle.
func (c *Clocks) Put(hal.Clock) {
	c.mu.Lock()
	if c.handles > 0 {
		c.handles--
	}
	c.mu.Unlock()
}

// Handles returns the number of outstanding handles.
func (c *Clocks) Handles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles
}

// Clock is one debugfs clock.
type Clock struct {
	name string
	dir  string
}

// Name returns the clock name.
func (c *Clock) Name() string { return c.name }

// Rate returns the clock rate, or 0 if it cannot be read.
func (c *Clock) Rate() physic.Frequency {
	hz, err := readSysfsUint(filepath.Join(c.dir, attrClkRate), 64)
	if err != nil {
		return 0
	}
	return physic.Frequency(hz) * physic.Hertz
}

// Enable reports ErrClockUnavailable unless the kernel has the clock on.
func (c *Clock) Enable() error {
	n, err := readSysfsUint(filepath.Join(c.dir, attrClkEnableCount), 32)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", pkg.ErrClockUnavailable, c.name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is gated", pkg.ErrClockUnavailable, c.name)
	}
	return nil
}

// Disable is a no-op; the kernel owns the gate.
func (c *Clock) Disable() {}

var (
	_ hal.Clocks = (*Clocks)(nil)
	_ hal.Clock  = (*Clock)(nil)
)

// =============================================================================
// Sysfs Read Helpers
// =============================================================================

// readSysfsString reads a string from a sysfs attribute file.
func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readSysfsUint reads an unsigned decimal integer from a sysfs attribute file.
func readSysfsUint(path string, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, 10, bitSize)
}

// readSysfsInt reads a signed decimal int from a sysfs attribute file.
func readSysfsInt(path string) (int, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// writeSysfsString writes an attribute. It fails on read-only attributes
// instead of creating them.
func writeSysfsString(path, value string) error {
	if len(path) > SysfsPathMaxLen {
		return errors.New("sysfs path too long")
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	_, err = f.WriteString(value)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

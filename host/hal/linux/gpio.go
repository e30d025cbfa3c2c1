//go:build linux

package linux

import (
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3/sysfs"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// GPIO hands out periph pins as controller lines.
//
// periph has no notion of ownership, so reservations are tracked here: a
// line can be held by one label at a time within this process.
type GPIO struct {
	lookup func(hal.LineID) gpio.PinIO

	mu       sync.Mutex
	reserved map[hal.LineID]string
}

// NewGPIO returns a line provider backed by periph's registry. Call Init
// first so the drivers are loaded.
func NewGPIO() *GPIO {
	return newGPIO(lookupPin)
}

func newGPIO(lookup func(hal.LineID) gpio.PinIO) *GPIO {
	return &GPIO{
		lookup:   lookup,
		reserved: make(map[hal.LineID]string),
	}
}

// lookupPin resolves a line number to a sysfs pin, falling back to the
// global registry by number.
func lookupPin(id hal.LineID) gpio.PinIO {
	if p, ok := sysfs.Pins[int(id)]; ok && p != nil {
		return p
	}
	return gpioreg.ByName(strconv.Itoa(int(id)))
}

// Request reserves line id under label.
func (g *GPIO) Request(id hal.LineID, label string) (hal.Line, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: line %d", pkg.ErrLineUnavailable, id)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if owner, taken := g.reserved[id]; taken {
		return nil, fmt.Errorf("%w: line %d held by %q", pkg.ErrLineUnavailable, id, owner)
	}
	p := g.lookup(id)
	if p == nil || p == gpio.INVALID {
		return nil, fmt.Errorf("%w: line %d not found", pkg.ErrLineUnavailable, id)
	}

	g.reserved[id] = label
	pkg.LogDebug(pkg.ComponentHAL, "line reserved", "line", id, "pin", p.Name(), "label", label)
	return p, nil
}

// Free releases a reservation.
func (g *GPIO) Free(id hal.LineID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, taken := g.reserved[id]; !taken {
		return fmt.Errorf("line %d not reserved", id)
	}
	delete(g.reserved, id)
	return nil
}

// Holder returns the label holding line id.
func (g *GPIO) Holder(id hal.LineID) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	label, ok := g.reserved[id]
	return label, ok
}

var _ hal.GPIO = (*GPIO)(nil)

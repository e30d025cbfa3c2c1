package sim

import (
	"fmt"
	"sort"

	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/softmmc/host/hal"
)

// Platform groups the simulated services around one shared journal.
type Platform struct {
	Journal    *Journal
	Registers  *Registers
	GPIO       *GPIO
	Regulators *Regulators
	Clocks     *Clocks
}

// NewPlatform returns an empty platform. Add lines, supplies and clocks
// before acquiring a controller on it.
func NewPlatform() *Platform {
	j := &Journal{}
	return &Platform{
		Journal:    j,
		Registers:  NewRegisters(),
		GPIO:       NewGPIO(j),
		Regulators: NewRegulators(j),
		Clocks:     NewClocks(j),
	}
}

// HAL returns the platform as the service bundle the controller consumes.
func (p *Platform) HAL() hal.Platform {
	return hal.Platform{
		Registers:  p.Registers,
		GPIO:       p.GPIO,
		Regulators: p.Regulators,
		Clocks:     p.Clocks,
	}
}

// Held lists every resource still claimed: reserved lines, armed edges,
// regulator and clock handles, enabled supplies and clocks. An empty result
// means nothing leaked.
func (p *Platform) Held() []string {
	var held []string

	for _, id := range p.GPIO.Reservations() {
		label, _ := p.GPIO.Reserved(id)
		held = append(held, fmt.Sprintf("gpio %d (%s)", id, label))
	}

	p.GPIO.mu.Lock()
	for id, l := range p.GPIO.lines {
		if l.Armed() != gpio.NoEdge {
			held = append(held, fmt.Sprintf("irq %d", id))
		}
	}
	p.GPIO.mu.Unlock()

	p.Regulators.mu.Lock()
	for name, r := range p.Regulators.supplies {
		if p.Regulators.handles[name] > 0 {
			held = append(held, "regulator handle "+name)
		}
		if r.Enabled() {
			held = append(held, "regulator enabled "+name)
		}
	}
	p.Regulators.mu.Unlock()

	p.Clocks.mu.Lock()
	for name, c := range p.Clocks.clocks {
		if p.Clocks.handles[name] > 0 {
			held = append(held, "clock handle "+name)
		}
		if c.EnableCount() > 0 {
			held = append(held, "clock enabled "+name)
		}
	}
	p.Clocks.mu.Unlock()

	sort.Strings(held)
	return held
}

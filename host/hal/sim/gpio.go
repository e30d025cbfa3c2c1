package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// edgeQueueDepth bounds how many undelivered edges a line buffers.
const edgeQueueDepth = 16

// Line is a simulated I/O line. Drive it from a test with Set or Bounce.
type Line struct {
	id      hal.LineID
	journal *Journal

	mu     sync.Mutex
	level  gpio.Level
	pull   gpio.Pull
	armed  gpio.Edge
	output bool

	// FailEdge makes arming edge detection fail, simulating an interrupt
	// that cannot be claimed.
	FailEdge bool

	edges chan struct{}
	halt  chan struct{}
}

var _ hal.Line = (*Line)(nil)

func newLine(id hal.LineID, level gpio.Level, j *Journal) *Line {
	return &Line{
		id:      id,
		journal: j,
		level:   level,
		edges:   make(chan struct{}, edgeQueueDepth),
		halt:    make(chan struct{}, 1),
	}
}

// Name returns "GPIO<n>".
func (l *Line) Name() string {
	return fmt.Sprintf("GPIO%d", l.id)
}

// In configures the line as input and arms or disarms edge detection.
func (l *Line) In(pull gpio.Pull, edge gpio.Edge) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if edge != gpio.NoEdge && l.FailEdge {
		return fmt.Errorf("%s: edge detection unavailable", l.Name())
	}
	if pull != gpio.PullNoChange {
		l.pull = pull
	}
	l.output = false

	switch {
	case edge != gpio.NoEdge && l.armed == gpio.NoEdge:
		l.journal.add("irq.request %d", l.id)
	case edge == gpio.NoEdge && l.armed != gpio.NoEdge:
		l.journal.add("irq.free %d", l.id)
	}
	l.armed = edge
	return nil
}

// Out drives the line.
func (l *Line) Out(level gpio.Level) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = true
	l.level = level
	l.journal.add("gpio.out %d %s", l.id, level)
	return nil
}

// Read returns the current level.
func (l *Line) Read() gpio.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// WaitForEdge waits for an armed edge. A negative timeout waits until an
// edge or Halt.
func (l *Line) WaitForEdge(timeout time.Duration) bool {
	var expire <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	select {
	case <-l.edges:
		return true
	case <-l.halt:
		return false
	case <-expire:
		return false
	}
}

// Halt wakes a pending WaitForEdge.
func (l *Line) Halt() error {
	select {
	case l.halt <- struct{}{}:
	default:
	}
	return nil
}

// Set changes the input level, raising an edge if one is armed for the
// transition.
func (l *Line) Set(level gpio.Level) {
	l.mu.Lock()
	prev := l.level
	l.level = level
	fire := prev != level && matches(l.armed, level)
	l.mu.Unlock()

	if fire {
		l.fire()
	}
}

// Bounce raises an edge without changing the level, as a noisy contact
// does when it chatters and settles back.
func (l *Line) Bounce() {
	l.mu.Lock()
	armed := l.armed != gpio.NoEdge
	l.mu.Unlock()
	if armed {
		l.fire()
	}
}

// Armed returns the configured edge.
func (l *Line) Armed() gpio.Edge {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.armed
}

// IsOutput reports whether the line was last configured as output.
func (l *Line) IsOutput() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.output
}

func (l *Line) fire() {
	select {
	case l.edges <- struct{}{}:
	default:
	}
}

func matches(edge gpio.Edge, level gpio.Level) bool {
	switch edge {
	case gpio.BothEdges:
		return true
	case gpio.RisingEdge:
		return level == gpio.High
	case gpio.FallingEdge:
		return level == gpio.Low
	}
	return false
}

// GPIO is a simulated line controller with reservation tracking.
type GPIO struct {
	journal *Journal

	mu       sync.Mutex
	lines    map[hal.LineID]*Line
	reserved map[hal.LineID]string
}

var _ hal.GPIO = (*GPIO)(nil)

// NewGPIO returns a controller with no lines.
func NewGPIO(j *Journal) *GPIO {
	return &GPIO{
		journal:  j,
		lines:    make(map[hal.LineID]*Line),
		reserved: make(map[hal.LineID]string),
	}
}

// Add creates line id at the given level, replacing any previous line.
func (g *GPIO) Add(id hal.LineID, level gpio.Level) *Line {
	g.mu.Lock()
	defer g.mu.Unlock()
	l := newLine(id, level, g.journal)
	g.lines[id] = l
	return l
}

// Line returns line id, or nil.
func (g *GPIO) Line(id hal.LineID) *Line {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lines[id]
}

// Request reserves a line under label.
func (g *GPIO) Request(id hal.LineID, label string) (hal.Line, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.lines[id]
	if !ok {
		return nil, fmt.Errorf("%w: GPIO%d does not exist", pkg.ErrLineUnavailable, id)
	}
	if owner, taken := g.reserved[id]; taken {
		return nil, fmt.Errorf("%w: GPIO%d reserved by %q", pkg.ErrLineUnavailable, id, owner)
	}
	g.reserved[id] = label
	g.journal.add("gpio.request %d %s", id, label)
	return l, nil
}

// Free releases a reservation.
func (g *GPIO) Free(id hal.LineID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, taken := g.reserved[id]; !taken {
		return errors.New("sim: free of unreserved line")
	}
	delete(g.reserved, id)
	g.journal.add("gpio.free %d", id)
	return nil
}

// Reserved returns the label holding line id.
func (g *GPIO) Reserved(id hal.LineID) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	label, ok := g.reserved[id]
	return label, ok
}

// Reservations returns the reserved line IDs in ascending order.
func (g *GPIO) Reservations() []hal.LineID {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]hal.LineID, 0, len(g.reserved))
	for id := range g.reserved {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

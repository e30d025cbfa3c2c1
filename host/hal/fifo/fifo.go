package fifo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// Switch event bytes.
const (
	sigInsert      = 0x01
	sigRemove      = 0x00
	sigInsertASCII = '1'
	sigRemoveASCII = '0'
)

// Timing constants.
const (
	readTimeout = 100 * time.Millisecond // FIFO read deadline, bounds Close latency
)

// edgeQueueDepth bounds undelivered edges; extra edges coalesce.
const edgeQueueDepth = 16

// Errors.
var (
	ErrFIFOCreate = errors.New("failed to create FIFO")
	ErrFIFOOpen   = errors.New("failed to open FIFO")
	ErrNotOpen    = errors.New("FIFO line not open")
)

// Options configures a FIFO line.
type Options struct {
	// Name reported by Line.Name. Defaults to the FIFO's base name.
	Name string

	// ActiveHigh makes "inserted" read High instead of Low.
	ActiveHigh bool

	// Inserted is the switch state before the first event.
	Inserted bool
}

// Line is a card-detect input whose switch is a named pipe.
type Line struct {
	path string
	opts Options

	mu       sync.Mutex
	file     *os.File
	inserted bool
	armed    gpio.Edge

	edges chan struct{}
	halt  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLine returns a line for the FIFO at path. Call Open before use.
func NewLine(path string, opts Options) *Line {
	if opts.Name == "" {
		opts.Name = filepath.Base(path)
	}
	return &Line{
		path:     path,
		opts:     opts,
		inserted: opts.Inserted,
		edges:    make(chan struct{}, edgeQueueDepth),
		halt:     make(chan struct{}, 1),
	}
}

// Path returns the FIFO path.
func (l *Line) Path() string { return l.path }

// Open creates the FIFO if needed and starts reading switch events.
func (l *Line) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return nil
	}
	if err := ensureFIFO(l.path); err != nil {
		return err
	}

	// O_RDWR keeps a writer attached so reads never return EOF.
	f, err := os.OpenFile(l.path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFIFOOpen, l.path, err)
	}
	l.file = f
	l.ctx, l.cancel = context.WithCancel(context.Background())

	l.wg.Add(1)
	go l.readEvents(f)

	pkg.LogInfo(pkg.ComponentHAL, "card-detect FIFO opened", "path", l.path)
	return nil
}

// Close stops reading and closes the FIFO. The FIFO node is left in place.
func (l *Line) Close() error {
	l.mu.Lock()
	f := l.file
	cancel := l.cancel
	l.file = nil
	l.mu.Unlock()

	if f == nil {
		return nil
	}
	cancel()
	l.wg.Wait()
	_ = l.Halt()
	return f.Close()
}

func ensureFIFO(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrFIFOCreate, err)
	}
	fi, err := os.Stat(path)
	switch {
	case err == nil:
		if fi.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("%w: %s exists and is not a FIFO", ErrFIFOCreate, path)
		}
		return nil
	case !os.IsNotExist(err):
		return fmt.Errorf("%w: %v", ErrFIFOCreate, err)
	}
	if err := syscall.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFIFOCreate, path, err)
	}
	return nil
}

// readEvents consumes switch bytes until Close.
func (l *Line) readEvents(f *os.File) {
	defer l.wg.Done()

	var buf [64]byte
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		_ = f.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := f.Read(buf[:])
		if err != nil {
			if os.IsTimeout(err) || errors.Is(err, io.EOF) {
				continue
			}
			pkg.LogWarn(pkg.ComponentHAL, "card-detect FIFO read failed",
				"path", l.path, "error", err)
			return
		}

		for _, b := range buf[:n] {
			switch b {
			case sigInsert, sigInsertASCII:
				l.setInserted(true)
			case sigRemove, sigRemoveASCII:
				l.setInserted(false)
			}
		}
	}
}

func (l *Line) setInserted(inserted bool) {
	l.mu.Lock()
	changed := l.inserted != inserted
	l.inserted = inserted
	level := l.levelLocked()
	fire := changed && matches(l.armed, level)
	l.mu.Unlock()

	if changed {
		pkg.LogDebug(pkg.ComponentHAL, "card-detect switch", "line", l.opts.Name,
			"inserted", inserted)
	}
	if fire {
		select {
		case l.edges <- struct{}{}:
		default:
		}
	}
}

func (l *Line) levelLocked() gpio.Level {
	if l.inserted == l.opts.ActiveHigh {
		return gpio.High
	}
	return gpio.Low
}

// Name returns the configured name.
func (l *Line) Name() string { return l.opts.Name }

// In arms or disarms edge detection. The pull is ignored. Arming requires
// an open FIFO.
func (l *Line) In(_ gpio.Pull, edge gpio.Edge) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if edge != gpio.NoEdge && l.file == nil {
		return fmt.Errorf("%s: %w", l.opts.Name, ErrNotOpen)
	}
	l.armed = edge
	return nil
}

// Out is not supported: the switch is input-only.
func (l *Line) Out(gpio.Level) error {
	return fmt.Errorf("%s: %w: output on card-detect FIFO", l.opts.Name, pkg.ErrNotSupported)
}

// Read returns the level the switch produces.
func (l *Line) Read() gpio.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.levelLocked()
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

// Signal writes one switch event to the FIFO at path. It fails with
// ErrFIFOOpen when no reader has the FIFO open.
func Signal(path string, inserted bool) error {
	f, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFIFOOpen, path, err)
	}
	defer f.Close()

	b := byte(sigRemove)
	if inserted {
		b = sigInsert
	}
	_, err = f.Write([]byte{b})
	return err
}

var _ hal.Line = (*Line)(nil)

// GPIO overlays FIFO lines on another line provider. Requests for attached
// IDs return the FIFO line; everything else goes to the base provider.
type GPIO struct {
	base hal.GPIO

	mu       sync.Mutex
	lines    map[hal.LineID]*Line
	reserved map[hal.LineID]string
}

// NewGPIO returns an overlay on base. A nil base serves attached lines only.
func NewGPIO(base hal.GPIO) *GPIO {
	return &GPIO{
		base:     base,
		lines:    make(map[hal.LineID]*Line),
		reserved: make(map[hal.LineID]string),
	}
}

// Attach routes requests for id to line.
func (g *GPIO) Attach(id hal.LineID, line *Line) {
	g.mu.Lock()
	g.lines[id] = line
	g.mu.Unlock()
}

// Request reserves an attached FIFO line, or forwards to the base provider.
func (g *GPIO) Request(id hal.LineID, label string) (hal.Line, error) {
	g.mu.Lock()
	line, ok := g.lines[id]
	if ok {
		defer g.mu.Unlock()
		if owner, taken := g.reserved[id]; taken {
			return nil, fmt.Errorf("%w: line %d held by %q", pkg.ErrLineUnavailable, id, owner)
		}
		g.reserved[id] = label
		pkg.LogDebug(pkg.ComponentHAL, "FIFO line reserved", "line", id, "label", label)
		return line, nil
	}
	g.mu.Unlock()

	if g.base == nil {
		return nil, fmt.Errorf("%w: line %d", pkg.ErrLineUnavailable, id)
	}
	return g.base.Request(id, label)
}

// Free releases a reservation.
func (g *GPIO) Free(id hal.LineID) error {
	g.mu.Lock()
	if _, ok := g.lines[id]; ok {
		defer g.mu.Unlock()
		if _, taken := g.reserved[id]; !taken {
			return fmt.Errorf("line %d not reserved", id)
		}
		delete(g.reserved, id)
		return nil
	}
	g.mu.Unlock()

	if g.base == nil {
		return fmt.Errorf("line %d not reserved", id)
	}
	return g.base.Free(id)
}

var _ hal.GPIO = (*GPIO)(nil)

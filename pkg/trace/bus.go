package trace

import (
	"time"

	"github.com/google/uuid"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// Bus is a hal.Registers that records every access to a Recorder before
// returning. It adds no locking: the controller already serializes access
// to its window.
type Bus struct {
	regs       hal.Registers
	rec        Recorder
	controller string
	session    string
	now        func() time.Time
}

// NewBus wraps regs. A nil rec discards events.
func NewBus(regs hal.Registers, rec Recorder, controller string) *Bus {
	if rec == nil {
		rec = NoopRecorder{}
	}
	b := &Bus{
		regs:       regs,
		rec:        rec,
		controller: controller,
		session:    uuid.NewString(),
		now:        time.Now,
	}
	pkg.LogDebug(pkg.ComponentTrace, "register trace started",
		"controller", controller, "session", b.session)
	return b
}

// Session returns the UUID stamped on every event from this bus.
func (b *Bus) Session() string { return b.session }

// Unwrap returns the traced register window.
func (b *Bus) Unwrap() hal.Registers { return b.regs }

// Mark records a note in the trace, such as the start of a sequence.
func (b *Bus) Mark(note string) {
	b.rec.Record(Event{
		Timestamp:  b.now(),
		Session:    b.session,
		Controller: b.controller,
		Kind:       KindNote,
		Note:       note,
	})
}

func (b *Bus) record(kind Kind, width uint8, offset, value uint32) {
	b.rec.Record(Event{
		Timestamp:  b.now(),
		Session:    b.session,
		Controller: b.controller,
		Kind:       kind,
		Width:      width,
		Offset:     offset,
		Value:      value,
	})
}

// Read8 reads a byte and records the access.
func (b *Bus) Read8(offset uint32) uint8 {
	v := b.regs.Read8(offset)
	b.record(KindRead, 8, offset, uint32(v))
	return v
}

// Read16 reads a halfword and records the access.
func (b *Bus) Read16(offset uint32) uint16 {
	v := b.regs.Read16(offset)
	b.record(KindRead, 16, offset, uint32(v))
	return v
}

// Read32 reads a word and records the access.
func (b *Bus) Read32(offset uint32) uint32 {
	v := b.regs.Read32(offset)
	b.record(KindRead, 32, offset, v)
	return v
}

// Write8 writes a byte and records the access.
func (b *Bus) Write8(offset uint32, value uint8) {
	b.regs.Write8(offset, value)
	b.record(KindWrite, 8, offset, uint32(value))
}

// Write16 writes a halfword and records the access.
func (b *Bus) Write16(offset uint32, value uint16) {
	b.regs.Write16(offset, value)
	b.record(KindWrite, 16, offset, uint32(value))
}

// Write32 writes a word and records the access.
func (b *Bus) Write32(offset uint32, value uint32) {
	b.regs.Write32(offset, value)
	b.record(KindWrite, 32, offset, value)
}

var _ hal.Registers = (*Bus)(nil)

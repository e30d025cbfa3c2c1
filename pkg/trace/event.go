package trace

import (
	"fmt"
	"time"
)

// Event is one register access or annotation.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the access completed.
	Timestamp time.Time `cbor:"1,keyasint"`

	// Session identifies one Bus lifetime (UUID).
	Session string `cbor:"2,keyasint"`

	// Controller is the instance name the bus was created for.
	Controller string `cbor:"3,keyasint,omitempty"`

	// Kind of access.
	Kind Kind `cbor:"4,keyasint"`

	// Width of the access in bits: 8, 16 or 32. Zero for notes.
	Width uint8 `cbor:"5,keyasint,omitempty"`

	// Offset from the register window base.
	Offset uint32 `cbor:"6,keyasint"`

	// Value read or written.
	Value uint32 `cbor:"7,keyasint"`

	// Note is free text attached by Bus.Mark.
	Note string `cbor:"8,keyasint,omitempty"`
}

// String formats the event on one line.
func (e Event) String() string {
	ts := e.Timestamp.Format("15:04:05.000000")
	if e.Kind == KindNote {
		return fmt.Sprintf("%s %s %-5s %s", ts, e.Controller, e.Kind, e.Note)
	}
	return fmt.Sprintf("%s %s %-5s %2d 0x%03X = 0x%0*X", ts, e.Controller, e.Kind,
		e.Width, e.Offset, int(e.Width)/4, e.Value)
}

// Kind classifies an event.
type Kind uint8

const (
	// KindRead is a register read.
	KindRead Kind = 0
	// KindWrite is a register write.
	KindWrite Kind = 1
	// KindNote is an annotation with no bus transaction.
	KindNote Kind = 2
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRead:
		return "READ"
	case KindWrite:
		return "WRITE"
	case KindNote:
		return "NOTE"
	default:
		return "UNKNOWN"
	}
}

package trace

import (
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Recorder receives trace events. Implementations must be safe for
// concurrent use; Record is called on the register access path, so it
// should not block for long.
type Recorder interface {
	Record(event Event)
}

// NoopRecorder discards every event. Usable as a zero value.
type NoopRecorder struct{}

// Record discards the event.
func (NoopRecorder) Record(Event) {}

// StreamRecorder encodes events to a writer in CBOR.
type StreamRecorder struct {
	w       io.Writer
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	err     error
}

// NewStreamRecorder returns a recorder that encodes to w. Close closes w
// if it implements io.Closer.
func NewStreamRecorder(w io.Writer) *StreamRecorder {
	return &StreamRecorder{w: w, encoder: NewEncoder(w)}
}

// NewFileRecorder appends events to the file at path, creating it with mode
// 0644 if needed.
func NewFileRecorder(path string) (*StreamRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return NewStreamRecorder(f), nil
}

// Record encodes the event. The first encoding error is kept for Err and
// later events are still attempted.
func (r *StreamRecorder) Record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if err := r.encoder.Encode(event); err != nil && r.err == nil {
		r.err = err
	}
}

// Err returns the first encoding error, if any.
func (r *StreamRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close stops recording. It is safe to call more than once.
func (r *StreamRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MemoryRecorder keeps events in memory.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// Record appends the event.
func (r *MemoryRecorder) Record(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events, oldest first.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Match returns the recorded events accepted by filter.
func (r *MemoryRecorder) Match(filter Filter) []Event {
	var out []Event
	for _, e := range r.Events() {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *MemoryRecorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// MultiRecorder fans events out to several recorders.
type MultiRecorder struct {
	recorders []Recorder
}

// NewMultiRecorder returns a recorder that forwards to all of recs.
func NewMultiRecorder(recs ...Recorder) *MultiRecorder {
	return &MultiRecorder{recorders: recs}
}

// Record forwards the event to every recorder.
func (m *MultiRecorder) Record(event Event) {
	for _, r := range m.recorders {
		r.Record(event)
	}
}

var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*StreamRecorder)(nil)
	_ Recorder = (*MemoryRecorder)(nil)
	_ Recorder = (*MultiRecorder)(nil)
)

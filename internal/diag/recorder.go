package diag

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder collects the diagnostic trail of a single analysis run and,
// when a bus is attached, forwards every event to its subscribers.
// Safe for concurrent use; block pre-warm batches record from goroutines.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	bus    *Bus
}

// NewRecorder creates a recorder. bus may be nil.
func NewRecorder(bus *Bus) *Recorder {
	return &Recorder{bus: bus}
}

// Record appends a diagnostic entry and publishes it.
func (r *Recorder) Record(stage Stage, severity Severity, message string, fields map[string]string) {
	event := Event{
		ID:       uuid.New().String(),
		Stage:    stage,
		Severity: severity,
		Message:  message,
		Fields:   fields,
		Time:     time.Now().UTC(),
	}

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()

	if r.bus != nil {
		_ = r.bus.Publish(event)
	}
}

// Info records an informational entry.
func (r *Recorder) Info(stage Stage, message string, fields map[string]string) {
	r.Record(stage, SeverityInfo, message, fields)
}

// Warn records a recovered degradation.
func (r *Recorder) Warn(stage Stage, message string, fields map[string]string) {
	r.Record(stage, SeverityWarning, message, fields)
}

// Error records a fatal stage failure.
func (r *Recorder) Error(stage Stage, message string, fields map[string]string) {
	r.Record(stage, SeverityError, message, fields)
}

// Events returns a copy of the recorded trail in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

package trace

import "sync"

// Sink observes task events as they settle. Implementations must be
// inert: Record must not panic and has no error to return, so a broken
// sink can never influence execution.
type Sink interface {
	Record(event TaskEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(TaskEvent) {}

// SafeRecord records an event and guarantees inertness even when the
// sink is buggy; panics are swallowed.
func SafeRecord(s Sink, event TaskEvent) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder is a concurrency-safe in-memory Sink. Execution is serial,
// but a watch loop or progress logger may read from another goroutine,
// so recording still takes a mutex. Collection order never affects the
// canonical trace; ordering is computed after collection.
type Recorder struct {
	mu     sync.Mutex
	events []TaskEvent
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event TaskEvent) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all recorded events.
func (r *Recorder) Snapshot() []TaskEvent {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Trace builds a canonicalized ExecutionTrace from the recorded events.
// The returned trace is independent of the recorder.
func (r *Recorder) Trace(graphHash string) ExecutionTrace {
	tr := ExecutionTrace{GraphHash: graphHash, Events: r.Snapshot()}
	tr.Canonicalize()
	return tr
}

package events

// Recorded is one buffered emission
type Recorded struct {
	Type   EventType
	Module string
	Data   EventData
}

// Recorder buffers emissions until they are flushed or dropped.
// The fund core emits into a Recorder while an operation runs and
// only forwards the buffer once the operation has committed.
type Recorder struct {
	events []Recorded
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// EmitTyped implements Emitter
func (r *Recorder) EmitTyped(eventType EventType, module string, data EventData) {
	r.events = append(r.events, Recorded{Type: eventType, Module: module, Data: data})
}

// Events returns the buffered emissions in order
func (r *Recorder) Events() []Recorded {
	return r.events
}

// OfType returns the buffered payloads of one event type
func (r *Recorder) OfType(eventType EventType) []EventData {
	var out []EventData
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e.Data)
		}
	}
	return out
}

// Len returns the number of buffered emissions
func (r *Recorder) Len() int {
	return len(r.events)
}

// Flush forwards the buffer to target in order and empties it
func (r *Recorder) Flush(target Emitter) {
	if target != nil {
		for _, e := range r.events {
			target.EmitTyped(e.Type, e.Module, e.Data)
		}
	}
	r.events = nil
}

// Reset drops the buffer
func (r *Recorder) Reset() {
	r.events = nil
}

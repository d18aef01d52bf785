package jobs

// Event is one report from a running job engine. Engines emit a progress
// event after every processed row and exactly one final event when they
// return; the dispatcher forwards progress to the progress topic and turns
// the final event into the terminal status message.
type Event struct {
	JobID string `json:"job_id"`

	// Type is "progress" or "final".
	Type string `json:"type"`

	// State is the terminal state, set only on final events.
	State string `json:"state,omitempty"`

	Counts map[string]int `json:"count,omitempty"`

	// Validation carries the formatted validation reports of dropped rows.
	Validation []string `json:"validation,omitempty"`

	Message string `json:"message,omitempty"`
}

// EventTypeProgress and EventTypeFinal are the two event types.
const (
	EventTypeProgress = "progress"
	EventTypeFinal    = "final"
)

// Emitter receives engine events. A nil Emitter is allowed everywhere and
// discards events.
type Emitter func(Event)

// Emit calls the emitter when it is non-nil.
func (e Emitter) Emit(ev Event) {
	if e != nil {
		e(ev)
	}
}

package bgp

// Event is the coalescing schedule primitive described in the DESIGN
// NOTES: "a set-if-unset flag, not a queue." Multiple Schedule calls
// before the event is observed collapse into a single wakeup, which is
// what backs the §5 guarantee that the decision event fires once per
// batch of schedules.
type Event struct {
	ch chan struct{}
}

// NewEvent returns an unset Event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{}, 1)}
}

// Schedule sets the flag if it is not already set. Non-blocking.
func (e *Event) Schedule() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Chan exposes the underlying channel for use in a select statement;
// receiving from it clears the flag.
func (e *Event) Chan() <-chan struct{} {
	return e.ch
}

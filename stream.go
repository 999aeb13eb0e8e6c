package toolhost

// EventStream is an iterator over the events of one loop run. Usage:
//
//	stream, err := host.Chat(ctx, "", "prompt")
//	for stream.Next() {
//	    event := stream.Current()
//	    // handle event
//	}
//	if err := stream.Err(); err != nil {
//	    // handle error
//	}
//
// A stream ends when the run completes, errors, or suspends for
// confirmation; a resumed run gets its own stream.
type EventStream struct {
	events  chan Event
	current Event
	err     error
	done    bool
}

func newStream(events chan Event) *EventStream {
	return &EventStream{events: events}
}

// Next advances to the next event. Returns false when the stream is
// exhausted.
func (s *EventStream) Next() bool {
	if s.done {
		return false
	}
	event, ok := <-s.events
	if !ok {
		s.done = true
		return false
	}
	s.current = event
	if ev, isErr := event.(*ErrorEvent); isErr && s.err == nil {
		s.err = ev.Err
	}
	return true
}

// Current returns the most recent event returned by Next.
func (s *EventStream) Current() Event {
	return s.current
}

// Err returns the run's terminal error, if any. Valid once Next has
// returned false or after an ErrorEvent was observed.
func (s *EventStream) Err() error {
	return s.err
}

// Drain consumes the rest of the stream and returns every remaining
// event.
func (s *EventStream) Drain() []Event {
	var out []Event
	for s.Next() {
		out = append(out, s.Current())
	}
	return out
}

package mailstore

import "time"

// Sink receives named timing observations from the delivery agent.
// Calls are fire-and-forget on the delivery path; implementations must
// not block.
type Sink interface {
	Observe(name, label string, elapsed time.Duration)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(name, label string, elapsed time.Duration)

func (f SinkFunc) Observe(name, label string, elapsed time.Duration) {
	f(name, label, elapsed)
}

type nopSink struct{}

func (nopSink) Observe(string, string, time.Duration) {}

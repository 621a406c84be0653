package label

import "fmt"

// Counters holds the aggregate counters tracked per label.
// The zero value is a valid empty counter set. Counters is a value type:
// it doubles as the delta applied by Label.Increment and store-level
// atomic counter updates.
type Counters struct {
	// Messages is the total number of messages carrying the label.
	Messages int64
	// Bytes is the total payload size of those messages.
	Bytes int64
	// Unread is the number of unread messages carrying the label.
	Unread int64
}

// Add returns the per-field sum of c and delta.
func (c Counters) Add(delta Counters) Counters {
	return Counters{
		Messages: c.Messages + delta.Messages,
		Bytes:    c.Bytes + delta.Bytes,
		Unread:   c.Unread + delta.Unread,
	}
}

// Negate returns the per-field negation of c, for use as a decrement delta.
func (c Counters) Negate() Counters {
	return Counters{
		Messages: -c.Messages,
		Bytes:    -c.Bytes,
		Unread:   -c.Unread,
	}
}

// IsZero reports whether all counters are zero.
func (c Counters) IsZero() bool {
	return c.Messages == 0 && c.Bytes == 0 && c.Unread == 0
}

func (c Counters) String() string {
	return fmt.Sprintf("messages=%d bytes=%d unread=%d", c.Messages, c.Bytes, c.Unread)
}

// DeliveryDelta returns the counter delta for one newly delivered,
// unread message of the given size.
func DeliveryDelta(size int64) Counters {
	return Counters{Messages: 1, Bytes: size, Unread: 1}
}

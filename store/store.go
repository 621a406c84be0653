// Package store persists message metadata and per-label counters.
// The raw payload lives in blob storage; stores here hold the parsed
// metadata and the blob URI pointing at it.
package store

import (
	"context"
	"time"

	"github.com/rbaliyan/mailstore/label"
	"github.com/rbaliyan/mailstore/mime"
)

// PartInfo describes one registered MIME part of a stored message.
type PartInfo struct {
	ID          string `json:"id" bson:"id"`
	ContentType string `json:"content_type" bson:"content_type"`
	ContentID   string `json:"content_id,omitempty" bson:"content_id,omitempty"`
	Disposition string `json:"disposition,omitempty" bson:"disposition,omitempty"`
	Filename    string `json:"filename,omitempty" bson:"filename,omitempty"`
	Size        int64  `json:"size" bson:"size"`
}

// Meta is the stored metadata of one delivered message. The ID is a
// ULID assigned at delivery time, unique within the mailbox and
// ordered by sent date.
type Meta struct {
	ID      string `json:"id" bson:"id"`
	Mailbox string `json:"mailbox" bson:"mailbox"`

	MessageID string           `json:"message_id,omitempty" bson:"message_id,omitempty"`
	From      mime.AddressList `json:"from,omitempty" bson:"from,omitempty"`
	To        mime.AddressList `json:"to,omitempty" bson:"to,omitempty"`
	Cc        mime.AddressList `json:"cc,omitempty" bson:"cc,omitempty"`
	Bcc       mime.AddressList `json:"bcc,omitempty" bson:"bcc,omitempty"`
	Subject   string           `json:"subject,omitempty" bson:"subject,omitempty"`
	Date      time.Time        `json:"date" bson:"date"`
	Size      int64            `json:"size" bson:"size"`

	PlainBody string `json:"plain_body,omitempty" bson:"plain_body,omitempty"`
	HTMLBody  string `json:"html_body,omitempty" bson:"html_body,omitempty"`

	Labels       []int             `json:"labels" bson:"labels"`
	Parts        []PartInfo        `json:"parts,omitempty" bson:"parts,omitempty"`
	MinorHeaders map[string]string `json:"minor_headers,omitempty" bson:"minor_headers,omitempty"`

	// URI locates the raw payload in blob storage.
	URI string `json:"uri" bson:"uri"`

	ModifiedAt time.Time `json:"modified_at" bson:"modified_at"`
}

// HasLabel reports whether the metadata carries the label.
func (m *Meta) HasLabel(id int) bool {
	for _, l := range m.Labels {
		if l == id {
			return true
		}
	}
	return false
}

// MessageStore persists message metadata per mailbox.
type MessageStore interface {
	// Connect establishes the backend connection and prepares schema.
	Connect(ctx context.Context) error

	// Close releases the store. The caller owns the underlying client.
	Close(ctx context.Context) error

	// Put stores metadata for a new message. Returns ErrDuplicateEntry
	// if the mailbox already holds the ID.
	Put(ctx context.Context, meta *Meta) error

	// Get retrieves metadata by mailbox and message ID.
	Get(ctx context.Context, mailbox, id string) (*Meta, error)

	// Delete removes metadata. Returns ErrNotFound if absent.
	Delete(ctx context.Context, mailbox, id string) error

	// List returns up to limit messages carrying the label, newest
	// first. A limit <= 0 means no limit.
	List(ctx context.Context, mailbox string, labelID int, limit int) ([]*Meta, error)
}

// CounterStore maintains per-mailbox, per-label aggregate counters.
// Updates are deltas so concurrent deliveries never lose increments.
type CounterStore interface {
	// Adjust atomically applies delta to the counters of one label.
	Adjust(ctx context.Context, mailbox string, labelID int, delta label.Counters) error

	// Counters returns the counters for one label; zero counters if
	// the label has never been adjusted.
	Counters(ctx context.Context, mailbox string, labelID int) (label.Counters, error)

	// AllCounters returns the counters of every label seen for the
	// mailbox.
	AllCounters(ctx context.Context, mailbox string) (map[int]label.Counters, error)
}

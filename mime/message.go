package mime

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Address is a single mailbox address with an optional display name.
type Address struct {
	// Name is the display name, empty when the header carried none.
	Name string
	// Email is the address itself (local@domain).
	Email string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// AddressList is an ordered sequence of addresses. Order matches the
// original header.
type AddressList []Address

// Part describes one node of a message's MIME tree that was registered
// as an attachment or opaque content rather than folded into a body.
// The part's bytes are not retained; use Message.PartReader to re-open
// the content stream from the original payload.
type Part struct {
	// ID is the dotted part path ("1.2.3"). The root of a non-multipart
	// message registers under the empty ID.
	ID string
	// ContentType is the declared media type (lowercased).
	ContentType string
	// ContentID is the Content-ID header value without angle brackets.
	ContentID string
	// Disposition is the declared content disposition ("attachment",
	// "inline" or empty).
	Disposition string
	// Filename is the attachment filename, when declared.
	Filename string
	// Size is the decoded content size in bytes.
	Size int64
}

// Message is the parsed form of one inbound envelope payload.
// It is created by Parser.Parse, mutated by the filter chain (label
// additions) and by size correction, and must be treated as immutable
// once handed to storage.
type Message struct {
	// MessageID is the Message-ID header value without angle brackets.
	MessageID string

	From AddressList
	To   AddressList
	Cc   AddressList
	Bcc  AddressList

	Subject string
	// Date is the sent date from the Date header; zero when absent.
	Date time.Time
	// Size is the payload size in bytes, set from the envelope after
	// parsing (the declared transport size, not the decoded size).
	Size int64

	// PlainBody and HTMLBody accumulate the textual leaf parts that
	// were not registered as attachments.
	PlainBody string
	HTMLBody  string

	labels  map[int]struct{}
	parts   map[string]*Part
	partCID map[string]string // content-id -> part-id
	headers map[string]string // minor headers captured at parse time

	src Source // re-openable payload, nil when parsed from a plain reader
	cfg Config
}

func newMessage(cfg Config) *Message {
	return &Message{
		labels:  make(map[int]struct{}),
		parts:   make(map[string]*Part),
		partCID: make(map[string]string),
		headers: make(map[string]string),
		cfg:     cfg,
	}
}

// AddLabel adds a label ID to the message's label set.
func (m *Message) AddLabel(id int) {
	m.labels[id] = struct{}{}
}

// HasLabel reports whether the message carries the label.
func (m *Message) HasLabel(id int) bool {
	_, ok := m.labels[id]
	return ok
}

// LabelCount returns the number of labels on the message.
func (m *Message) LabelCount() int { return len(m.labels) }

// Labels returns the message's label IDs, sorted ascending.
func (m *Message) Labels() []int {
	ids := make([]int, 0, len(m.labels))
	for id := range m.labels {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// AddMinorHeader records a header value needed after parsing.
func (m *Message) AddMinorHeader(name, value string) {
	if value != "" {
		m.headers[name] = value
	}
}

// MinorHeader returns a header captured at parse time, or "".
func (m *Message) MinorHeader(name string) string {
	return m.headers[name]
}

// MinorHeaders returns a copy of all captured minor headers.
func (m *Message) MinorHeaders() map[string]string {
	out := make(map[string]string, len(m.headers))
	for k, v := range m.headers {
		out[k] = v
	}
	return out
}

// Part returns the registered part with the given dotted ID.
// Returns ErrPartNotFound if no such part was registered.
func (m *Message) Part(partID string) (*Part, error) {
	p, ok := m.parts[partID]
	if !ok {
		return nil, fmt.Errorf("%w: no part with id %q", ErrPartNotFound, partID)
	}
	return p, nil
}

// PartByContentID returns the registered part with the given Content-ID.
// Angle brackets around the ID are ignored. Returns ErrPartNotFound if
// absent.
func (m *Message) PartByContentID(contentID string) (*Part, error) {
	contentID = strings.Trim(contentID, "<> ")
	id, ok := m.partCID[contentID]
	if !ok {
		return nil, fmt.Errorf("%w: no part with content-id %q", ErrPartNotFound, contentID)
	}
	return m.parts[id], nil
}

// Parts returns the registered parts keyed by part ID.
func (m *Message) Parts() map[string]*Part {
	out := make(map[string]*Part, len(m.parts))
	for k, v := range m.parts {
		out[k] = v
	}
	return out
}

// PartIDs returns the registered part IDs, sorted.
func (m *Message) PartIDs() []string {
	ids := make([]string, 0, len(m.parts))
	for id := range m.parts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Message) addPart(p *Part) {
	m.parts[p.ID] = p
	if p.ContentID != "" {
		m.partCID[p.ContentID] = p.ID
	}
}

// Package label provides the classification index attached to stored
// messages. Every message carries at least one label; labels aggregate
// per-mailbox counters (total messages, total bytes, unread messages).
package label

import (
	"fmt"
	"sort"
	"sync"
)

// Reserved system label IDs. Custom labels must use IDs at or above
// MinCustomID so new system labels can be added without migration.
const (
	AllMail       = 0
	Inbox         = 1
	Drafts        = 2
	Sent          = 3
	Trash         = 4
	Spam          = 5
	Starred       = 6
	Important     = 7
	Notifications = 8
	Attachments   = 9
	POP3          = 10

	// MinCustomID is the lowest ID available for user-defined labels.
	MinCustomID = 100
)

// reservedNames maps system label IDs to their display names.
var reservedNames = map[int]string{
	AllMail:       "all",
	Inbox:         "inbox",
	Drafts:        "drafts",
	Sent:          "sent",
	Trash:         "trash",
	Spam:          "spam",
	Starred:       "starred",
	Important:     "important",
	Notifications: "notifications",
	Attachments:   "attachments",
	POP3:          "pop3",
}

// IsReserved reports whether id names a system label.
func IsReserved(id int) bool {
	_, ok := reservedNames[id]
	return ok
}

// ValidID reports whether id is usable as a label ID: either a reserved
// system label or a custom ID at or above MinCustomID.
func ValidID(id int) bool {
	return IsReserved(id) || id >= MinCustomID
}

// Label is a classification tag with aggregate counters.
// Safe for concurrent use.
type Label struct {
	id   int
	name string

	mu       sync.Mutex
	counters Counters
}

// New creates a label with the given ID and name.
// Reserved IDs keep their system name regardless of the name argument.
func New(id int, name string) *Label {
	if n, ok := reservedNames[id]; ok {
		name = n
	}
	return &Label{id: id, name: name}
}

// ID returns the label's numeric ID.
func (l *Label) ID() int { return l.id }

// Name returns the label's display name.
func (l *Label) Name() string { return l.name }

// Counters returns a snapshot of the label's counters.
func (l *Label) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters
}

// Increment applies delta to the label's counters as a single atomic step.
// Counters are only ever moved through deltas; read-modify-write from the
// caller's side would lose updates under concurrent delivery.
func (l *Label) Increment(delta Counters) {
	l.mu.Lock()
	l.counters = l.counters.Add(delta)
	l.mu.Unlock()
}

// Decrement applies the negation of delta to the label's counters.
func (l *Label) Decrement(delta Counters) {
	l.Increment(delta.Negate())
}

func (l *Label) String() string {
	return fmt.Sprintf("label(%d:%s)", l.id, l.name)
}

// Map is a mutable label-ID index for a single mailbox.
// Safe for concurrent use.
type Map struct {
	mu     sync.Mutex
	labels map[int]*Label
}

// NewMap creates an empty label map.
func NewMap() *Map {
	return &Map{labels: make(map[int]*Label)}
}

// Get returns the label for id, materializing a zero-valued entry if it
// does not exist yet. Repeated calls for the same id return the same
// entry, never a fresh zeroed one.
func (m *Map) Get(id int) *Label {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.labels[id]
	if !ok {
		l = New(id, reservedNames[id])
		m.labels[id] = l
	}
	return l
}

// Put inserts a label, replacing any existing entry with the same ID.
func (m *Map) Put(l *Label) {
	m.mu.Lock()
	m.labels[l.id] = l
	m.mu.Unlock()
}

// Has reports whether the map contains id.
func (m *Map) Has(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.labels[id]
	return ok
}

// IDs returns the label IDs present in the map, sorted ascending.
func (m *Map) IDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.labels))
	for id := range m.labels {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

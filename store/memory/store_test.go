package memory

import (
	"context"
	"testing"
	"time"

	"github.com/rbaliyan/mailstore/label"
	"github.com/rbaliyan/mailstore/store"
)

func connected(t *testing.T) *Store {
	t.Helper()
	s := New()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

func meta(mailbox, id string, labels ...int) *store.Meta {
	return &store.Meta{
		ID:         id,
		Mailbox:    mailbox,
		Subject:    "test",
		Size:       1000,
		Labels:     labels,
		URI:        "blob://mem/" + id,
		ModifiedAt: time.Now(),
	}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := connected(t)

	m := meta("bob@example.com", "01ARZ3NDEKTSV4RRFFQ69G5FAV", label.AllMail, label.Inbox)
	if err := s.Put(ctx, m); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "bob@example.com", m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Subject != "test" || !got.HasLabel(label.Inbox) {
		t.Errorf("meta = %+v", got)
	}

	if err := s.Delete(ctx, "bob@example.com", m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "bob@example.com", m.ID); !store.IsNotFound(err) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "bob@example.com", m.ID); !store.IsNotFound(err) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestPutDuplicate(t *testing.T) {
	ctx := context.Background()
	s := connected(t)

	m := meta("bob@example.com", "01ARZ3NDEKTSV4RRFFQ69G5FAV", label.AllMail)
	if err := s.Put(ctx, m); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, m); !store.IsDuplicateEntry(err) {
		t.Errorf("duplicate Put = %v, want ErrDuplicateEntry", err)
	}
}

func TestMailboxIsolation(t *testing.T) {
	ctx := context.Background()
	s := connected(t)

	m := meta("bob@example.com", "01ARZ3NDEKTSV4RRFFQ69G5FAV", label.AllMail)
	if err := s.Put(ctx, m); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Get(ctx, "carol@example.com", m.ID); !store.IsNotFound(err) {
		t.Errorf("cross-mailbox Get = %v, want ErrNotFound", err)
	}
}

func TestListByLabel(t *testing.T) {
	ctx := context.Background()
	s := connected(t)

	ids := []string{
		"01ARZ3NDEKTSV4RRFFQ69G5FAA",
		"01BRZ3NDEKTSV4RRFFQ69G5FAB",
		"01CRZ3NDEKTSV4RRFFQ69G5FAC",
	}
	for i, id := range ids {
		labels := []int{label.AllMail}
		if i != 1 {
			labels = append(labels, label.Inbox)
		}
		if err := s.Put(ctx, meta("bob@example.com", id, labels...)); err != nil {
			t.Fatalf("Put(%s): %v", id, err)
		}
	}

	got, err := s.List(ctx, "bob@example.com", label.Inbox, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	// Newest (highest ULID) first.
	if got[0].ID != ids[2] || got[1].ID != ids[0] {
		t.Errorf("order = %s, %s", got[0].ID, got[1].ID)
	}

	limited, err := s.List(ctx, "bob@example.com", label.AllMail, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited list = %d messages, want 2", len(limited))
	}
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Put(ctx, meta("bob@example.com", "01ARZ3NDEKTSV4RRFFQ69G5FAV")); !store.IsNotConnected(err) {
		t.Errorf("Put = %v, want ErrNotConnected", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Connect(ctx); err != store.ErrAlreadyConnected {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestCounterRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := connected(t)

	if err := s.Adjust(ctx, "bob@example.com", label.Inbox, label.DeliveryDelta(512)); err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if err := s.Adjust(ctx, "bob@example.com", label.AllMail, label.DeliveryDelta(512)); err != nil {
		t.Fatalf("Adjust: %v", err)
	}

	c, err := s.Counters(ctx, "bob@example.com", label.Inbox)
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	if c.Messages != 1 || c.Bytes != 512 || c.Unread != 1 {
		t.Errorf("counters = %+v", c)
	}

	all, err := s.AllCounters(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("AllCounters: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d labels, want 2", len(all))
	}
}

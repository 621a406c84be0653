package label

import (
	"sync"
	"testing"
)

func TestIncrementCounters(t *testing.T) {
	labels := NewMap()

	l := labels.Get(Inbox)
	l.Increment(Counters{Messages: 120, Bytes: 1024000, Unread: 32})
	l.Increment(Counters{Messages: 19, Bytes: 24000, Unread: 5})

	got := labels.Get(Inbox).Counters()
	if got.Messages != 120+19 {
		t.Errorf("messages = %d, want %d", got.Messages, 120+19)
	}
	if got.Bytes != 1024000+24000 {
		t.Errorf("bytes = %d, want %d", got.Bytes, 1024000+24000)
	}
	if got.Unread != 32+5 {
		t.Errorf("unread = %d, want %d", got.Unread, 32+5)
	}
}

func TestDecrementCounters(t *testing.T) {
	l := New(Inbox, "")
	l.Increment(Counters{Messages: 10, Bytes: 5000, Unread: 4})
	l.Decrement(Counters{Messages: 3, Bytes: 1500, Unread: 1})

	got := l.Counters()
	want := Counters{Messages: 7, Bytes: 3500, Unread: 3}
	if got != want {
		t.Errorf("counters = %+v, want %+v", got, want)
	}
}

func TestGetIsIdempotent(t *testing.T) {
	labels := NewMap()

	first := labels.Get(42)
	first.Increment(Counters{Messages: 1, Bytes: 100, Unread: 1})

	second := labels.Get(42)
	if first != second {
		t.Fatal("Get returned a different entry for the same id")
	}
	if got := second.Counters(); got.Messages != 1 {
		t.Errorf("second Get lost counters: %+v", got)
	}
}

func TestReservedNames(t *testing.T) {
	l := New(Inbox, "ignored")
	if l.Name() != "inbox" {
		t.Errorf("reserved label name = %q, want %q", l.Name(), "inbox")
	}
	if !IsReserved(Spam) {
		t.Error("Spam should be reserved")
	}
	if IsReserved(MinCustomID) {
		t.Error("MinCustomID should not be reserved")
	}
	if !ValidID(MinCustomID + 5) {
		t.Error("custom id above MinCustomID should be valid")
	}
	if ValidID(50) {
		t.Error("id between reserved range and MinCustomID should be invalid")
	}
}

func TestConcurrentIncrements(t *testing.T) {
	labels := NewMap()

	const workers = 1000
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			labels.Get(Inbox).Increment(Counters{Messages: 1, Bytes: 1024, Unread: 1})
		}()
	}
	wg.Wait()

	got := labels.Get(Inbox).Counters()
	if got.Messages != workers {
		t.Errorf("messages = %d, want %d", got.Messages, workers)
	}
	if got.Bytes != workers*1024 {
		t.Errorf("bytes = %d, want %d", got.Bytes, workers*1024)
	}
	if got.Unread != workers {
		t.Errorf("unread = %d, want %d", got.Unread, workers)
	}
}

func TestIDsSorted(t *testing.T) {
	labels := NewMap()
	for _, id := range []int{Spam, Inbox, MinCustomID, POP3} {
		labels.Get(id)
	}

	ids := labels.IDs()
	want := []int{Inbox, Spam, POP3, MinCustomID}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}
}

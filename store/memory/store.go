// Package memory provides an in-memory implementation of the message
// and counter stores, for tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/mailstore/label"
	"github.com/rbaliyan/mailstore/store"
)

// Store implements store.MessageStore and store.CounterStore backed by
// maps. Safe for concurrent use.
type Store struct {
	connected int32

	mu       sync.RWMutex
	messages map[string]map[string]*store.Meta   // mailbox -> id -> meta
	counters map[string]map[int]label.Counters   // mailbox -> label -> counters
}

// Compile-time checks
var (
	_ store.MessageStore = (*Store)(nil)
	_ store.CounterStore = (*Store)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		messages: make(map[string]map[string]*store.Meta),
		counters: make(map[string]map[int]label.Counters),
	}
}

func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

func (s *Store) Put(ctx context.Context, meta *store.Meta) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if meta.ID == "" || meta.Mailbox == "" {
		return store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mbx, ok := s.messages[meta.Mailbox]
	if !ok {
		mbx = make(map[string]*store.Meta)
		s.messages[meta.Mailbox] = mbx
	}
	if _, exists := mbx[meta.ID]; exists {
		return fmt.Errorf("%w: %s", store.ErrDuplicateEntry, meta.ID)
	}

	cp := *meta
	cp.Labels = append([]int(nil), meta.Labels...)
	cp.Parts = append([]store.PartInfo(nil), meta.Parts...)
	mbx[meta.ID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, mailbox, id string) (*store.Meta, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.messages[mailbox][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	cp := *meta
	return &cp, nil
}

func (s *Store) Delete(ctx context.Context, mailbox, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[mailbox][id]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	delete(s.messages[mailbox], id)
	return nil
}

func (s *Store) List(ctx context.Context, mailbox string, labelID int, limit int) ([]*store.Meta, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Meta
	for _, meta := range s.messages[mailbox] {
		if meta.HasLabel(labelID) {
			cp := *meta
			out = append(out, &cp)
		}
	}
	// ULIDs sort lexicographically by time; newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Adjust(ctx context.Context, mailbox string, labelID int, delta label.Counters) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mbx, ok := s.counters[mailbox]
	if !ok {
		mbx = make(map[int]label.Counters)
		s.counters[mailbox] = mbx
	}
	mbx[labelID] = mbx[labelID].Add(delta)
	return nil
}

func (s *Store) Counters(ctx context.Context, mailbox string, labelID int) (label.Counters, error) {
	if err := s.checkConnected(); err != nil {
		return label.Counters{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[mailbox][labelID], nil
}

func (s *Store) AllCounters(ctx context.Context, mailbox string) (map[int]label.Counters, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int]label.Counters, len(s.counters[mailbox]))
	for id, c := range s.counters[mailbox] {
		out[id] = c
	}
	return out, nil
}

// Package redis provides a Redis-backed counter store. Counters are
// hashes keyed per mailbox and label, updated with HINCRBY so deltas
// from concurrent deliveries never lose increments.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/mailstore/label"
	"github.com/rbaliyan/mailstore/store"
)

// Compile-time check
var _ store.CounterStore = (*Store)(nil)

// Store implements store.CounterStore using Redis.
type Store struct {
	client redis.UniversalClient
	opts   *options
	logger *slog.Logger
}

// New creates a Redis counter store with the provided client.
// The caller owns the client lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

func (s *Store) counterKey(mailbox string, labelID int) string {
	return fmt.Sprintf("%s:%s:%d", s.opts.prefix, mailbox, labelID)
}

func (s *Store) labelsKey(mailbox string) string {
	return fmt.Sprintf("%s:%s:labels", s.opts.prefix, mailbox)
}

func (s *Store) Adjust(ctx context.Context, mailbox string, labelID int, delta label.Counters) error {
	key := s.counterKey(mailbox, labelID)

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "messages", delta.Messages)
	pipe.HIncrBy(ctx, key, "bytes", delta.Bytes)
	pipe.HIncrBy(ctx, key, "unread", delta.Unread)
	pipe.SAdd(ctx, s.labelsKey(mailbox), labelID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("adjust counters: %w", err)
	}
	return nil
}

func (s *Store) Counters(ctx context.Context, mailbox string, labelID int) (label.Counters, error) {
	vals, err := s.client.HGetAll(ctx, s.counterKey(mailbox, labelID)).Result()
	if err != nil {
		return label.Counters{}, fmt.Errorf("get counters: %w", err)
	}
	return parseCounters(vals)
}

func (s *Store) AllCounters(ctx context.Context, mailbox string) (map[int]label.Counters, error) {
	ids, err := s.client.SMembers(ctx, s.labelsKey(mailbox)).Result()
	if err != nil {
		return nil, fmt.Errorf("get label set: %w", err)
	}

	out := make(map[int]label.Counters, len(ids))
	for _, raw := range ids {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("bad label id %q in set: %w", raw, err)
		}
		c, err := s.Counters(ctx, mailbox, id)
		if err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, nil
}

func parseCounters(vals map[string]string) (label.Counters, error) {
	var c label.Counters
	for field, dst := range map[string]*int64{
		"messages": &c.Messages,
		"bytes":    &c.Bytes,
		"unread":   &c.Unread,
	} {
		raw, ok := vals[field]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return label.Counters{}, fmt.Errorf("bad counter field %s=%q: %w", field, raw, err)
		}
		*dst = n
	}
	return c, nil
}

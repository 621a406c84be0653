// Package mongo provides MongoDB implementations of the message and
// counter stores.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/mailstore/label"
	"github.com/rbaliyan/mailstore/store"
)

// Compile-time checks
var (
	_ store.MessageStore = (*Store)(nil)
	_ store.CounterStore = (*Store)(nil)
)

// Store implements the message and counter stores using MongoDB.
// Counter deltas use $inc with upsert so concurrent deliveries never
// lose increments.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	messages  *mongo.Collection
	counters  *mongo.Collection
	opts      *options
	connected int32
	logger    *slog.Logger
}

// messageDoc wraps Meta with a composite document key so the same
// message ID can exist in different mailboxes.
type messageDoc struct {
	Key        string `bson:"_id"`
	store.Meta `bson:",inline"`
}

// counterDoc is one per-mailbox, per-label counter row.
type counterDoc struct {
	Key      string `bson:"_id"`
	Mailbox  string `bson:"mailbox"`
	LabelID  int    `bson:"label_id"`
	Messages int64  `bson:"messages"`
	Bytes    int64  `bson:"bytes"`
	Unread   int64  `bson:"unread"`
}

// New creates a MongoDB store with the provided client.
// Call Connect() to initialize collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.messages = s.db.Collection(s.opts.messagesCollection)
	s.counters = s.db.Collection(s.opts.countersCollection)

	if err := s.ensureIndexes(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure indexes: %w", err)
	}

	s.logger.Info("connected to MongoDB",
		"database", s.opts.database,
		"messages", s.opts.messagesCollection,
		"counters", s.opts.countersCollection)
	return nil
}

// Close marks the store as disconnected. The caller is responsible for
// closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	messageIndexes := []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "mailbox", Value: 1}, bson.E{Key: "labels", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "mailbox", Value: 1}, bson.E{Key: "message_id", Value: 1}}},
		{
			Keys:    bson.D{bson.E{Key: "mailbox", Value: 1}, bson.E{Key: "id", Value: 1}},
			Options: mongoopts.Index().SetUnique(true),
		},
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}

	counterIndexes := []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "mailbox", Value: 1}}},
	}
	if _, err := s.counters.Indexes().CreateMany(ctx, counterIndexes); err != nil {
		return fmt.Errorf("create counter indexes: %w", err)
	}
	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

func messageKey(mailbox, id string) string {
	return mailbox + "/" + id
}

func counterKey(mailbox string, labelID int) string {
	return fmt.Sprintf("%s/%d", mailbox, labelID)
}

func (s *Store) Put(ctx context.Context, meta *store.Meta) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if meta.ID == "" || meta.Mailbox == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	doc := messageDoc{Key: messageKey(meta.Mailbox, meta.ID), Meta: *meta}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicateEntry, meta.ID)
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, mailbox, id string) (*store.Meta, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc messageDoc
	err := s.messages.FindOne(ctx, bson.M{"_id": messageKey(mailbox, id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &doc.Meta, nil
}

func (s *Store) Delete(ctx context.Context, mailbox, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": messageKey(mailbox, id)})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, mailbox string, labelID int, limit int) ([]*store.Meta, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	// ULIDs sort lexicographically by time; sorting on id descending
	// yields newest first.
	findOpts := mongoopts.Find().SetSort(bson.D{bson.E{Key: "id", Value: -1}})
	if limit > 0 {
		findOpts = findOpts.SetLimit(int64(limit))
	}

	cur, err := s.messages.Find(ctx, bson.M{"mailbox": mailbox, "labels": labelID}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cur.Close(ctx)

	var out []*store.Meta
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		meta := doc.Meta
		out = append(out, &meta)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func (s *Store) Adjust(ctx context.Context, mailbox string, labelID int, delta label.Counters) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := bson.M{
		"$inc": bson.M{
			"messages": delta.Messages,
			"bytes":    delta.Bytes,
			"unread":   delta.Unread,
		},
		"$setOnInsert": bson.M{
			"mailbox":  mailbox,
			"label_id": labelID,
		},
	}
	_, err := s.counters.UpdateOne(ctx,
		bson.M{"_id": counterKey(mailbox, labelID)},
		update,
		mongoopts.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("adjust counters: %w", err)
	}
	return nil
}

func (s *Store) Counters(ctx context.Context, mailbox string, labelID int) (label.Counters, error) {
	if err := s.checkConnected(); err != nil {
		return label.Counters{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc counterDoc
	err := s.counters.FindOne(ctx, bson.M{"_id": counterKey(mailbox, labelID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return label.Counters{}, nil
		}
		return label.Counters{}, fmt.Errorf("get counters: %w", err)
	}
	return label.Counters{Messages: doc.Messages, Bytes: doc.Bytes, Unread: doc.Unread}, nil
}

func (s *Store) AllCounters(ctx context.Context, mailbox string) (map[int]label.Counters, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cur, err := s.counters.Find(ctx, bson.M{"mailbox": mailbox})
	if err != nil {
		return nil, fmt.Errorf("get all counters: %w", err)
	}
	defer cur.Close(ctx)

	out := make(map[int]label.Counters)
	for cur.Next(ctx) {
		var doc counterDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode counters: %w", err)
		}
		out[doc.LabelID] = label.Counters{
			Messages: doc.Messages,
			Bytes:    doc.Bytes,
			Unread:   doc.Unread,
		}
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("get all counters: %w", err)
	}
	return out, nil
}

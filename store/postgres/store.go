// Package postgres provides PostgreSQL implementations of the message
// and counter stores.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"

	"github.com/rbaliyan/mailstore/label"
	"github.com/rbaliyan/mailstore/store"
)

// Compile-time checks
var (
	_ store.MessageStore = (*Store)(nil)
	_ store.CounterStore = (*Store)(nil)
)

// Store implements the message and counter stores using PostgreSQL.
// Counter updates ride on INSERT ... ON CONFLICT DO UPDATE so deltas
// from concurrent deliveries never lose increments.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a store from a standard sql.DB connection.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL",
		"messages_table", s.opts.messagesTable,
		"counters_table", s.opts.countersTable)
	return nil
}

// Close marks the store as disconnected. The caller is responsible for
// closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	createMessages := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			mailbox VARCHAR(255) NOT NULL,
			id CHAR(26) NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			from_addrs JSONB DEFAULT '[]',
			to_addrs JSONB DEFAULT '[]',
			cc_addrs JSONB DEFAULT '[]',
			bcc_addrs JSONB DEFAULT '[]',
			subject TEXT NOT NULL DEFAULT '',
			sent_date TIMESTAMPTZ,
			size BIGINT NOT NULL DEFAULT 0,
			plain_body TEXT NOT NULL DEFAULT '',
			html_body TEXT NOT NULL DEFAULT '',
			labels INT[] NOT NULL DEFAULT '{}',
			parts JSONB DEFAULT '[]',
			minor_headers JSONB DEFAULT '{}',
			uri TEXT NOT NULL,
			modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (mailbox, id)
		)
	`, s.opts.messagesTable)
	if _, err := s.db.ExecContext(ctx, createMessages); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	createCounters := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			mailbox VARCHAR(255) NOT NULL,
			label_id INT NOT NULL,
			messages BIGINT NOT NULL DEFAULT 0,
			bytes BIGINT NOT NULL DEFAULT 0,
			unread BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (mailbox, label_id)
		)
	`, s.opts.countersTable)
	if _, err := s.db.ExecContext(ctx, createCounters); err != nil {
		return fmt.Errorf("create counters table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_labels ON %s USING GIN(labels)`,
			s.opts.messagesTable, s.opts.messagesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_message_id ON %s(mailbox, message_id)`,
			s.opts.messagesTable, s.opts.messagesTable),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
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

func (s *Store) Put(ctx context.Context, meta *store.Meta) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if _, err := ulid.Parse(meta.ID); err != nil {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	from, err := json.Marshal(meta.From)
	if err != nil {
		return fmt.Errorf("marshal from: %w", err)
	}
	to, err := json.Marshal(meta.To)
	if err != nil {
		return fmt.Errorf("marshal to: %w", err)
	}
	cc, err := json.Marshal(meta.Cc)
	if err != nil {
		return fmt.Errorf("marshal cc: %w", err)
	}
	bcc, err := json.Marshal(meta.Bcc)
	if err != nil {
		return fmt.Errorf("marshal bcc: %w", err)
	}
	parts, err := json.Marshal(meta.Parts)
	if err != nil {
		return fmt.Errorf("marshal parts: %w", err)
	}
	headers, err := json.Marshal(meta.MinorHeaders)
	if err != nil {
		return fmt.Errorf("marshal minor headers: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (mailbox, id, message_id, from_addrs, to_addrs, cc_addrs, bcc_addrs,
		                subject, sent_date, size, plain_body, html_body, labels, parts,
		                minor_headers, uri, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (mailbox, id) DO NOTHING
	`, s.opts.messagesTable)

	res, err := s.db.ExecContext(ctx, query,
		meta.Mailbox, meta.ID, meta.MessageID, from, to, cc, bcc,
		meta.Subject, meta.Date, meta.Size, meta.PlainBody, meta.HTMLBody,
		pq.Array(meta.Labels), parts, headers, meta.URI)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrDuplicateEntry, meta.ID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, mailbox, id string) (*store.Meta, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := ulid.Parse(id); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT mailbox, id, message_id, from_addrs, to_addrs, cc_addrs, bcc_addrs,
		       subject, sent_date, size, plain_body, html_body, labels, parts,
		       minor_headers, uri, modified_at
		FROM %s
		WHERE mailbox = $1 AND id = $2
	`, s.opts.messagesTable)

	meta, err := scanMeta(s.db.QueryRowContext(ctx, query, mailbox, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return meta, nil
}

func (s *Store) Delete(ctx context.Context, mailbox, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE mailbox = $1 AND id = $2`, s.opts.messagesTable)
	res, err := s.db.ExecContext(ctx, query, mailbox, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
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

	query := fmt.Sprintf(`
		SELECT mailbox, id, message_id, from_addrs, to_addrs, cc_addrs, bcc_addrs,
		       subject, sent_date, size, plain_body, html_body, labels, parts,
		       minor_headers, uri, modified_at
		FROM %s
		WHERE mailbox = $1 AND $2 = ANY(labels)
		ORDER BY id DESC
	`, s.opts.messagesTable)
	args := []any{mailbox, labelID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*store.Meta
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
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

	query := fmt.Sprintf(`
		INSERT INTO %s (mailbox, label_id, messages, bytes, unread)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (mailbox, label_id) DO UPDATE SET
			messages = %s.messages + EXCLUDED.messages,
			bytes = %s.bytes + EXCLUDED.bytes,
			unread = %s.unread + EXCLUDED.unread
	`, s.opts.countersTable, s.opts.countersTable, s.opts.countersTable, s.opts.countersTable)

	if _, err := s.db.ExecContext(ctx, query,
		mailbox, labelID, delta.Messages, delta.Bytes, delta.Unread); err != nil {
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

	query := fmt.Sprintf(`
		SELECT messages, bytes, unread FROM %s
		WHERE mailbox = $1 AND label_id = $2
	`, s.opts.countersTable)

	var c label.Counters
	err := s.db.QueryRowContext(ctx, query, mailbox, labelID).
		Scan(&c.Messages, &c.Bytes, &c.Unread)
	if errors.Is(err, sql.ErrNoRows) {
		return label.Counters{}, nil
	}
	if err != nil {
		return label.Counters{}, fmt.Errorf("get counters: %w", err)
	}
	return c, nil
}

func (s *Store) AllCounters(ctx context.Context, mailbox string) (map[int]label.Counters, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT label_id, messages, bytes, unread FROM %s WHERE mailbox = $1
	`, s.opts.countersTable)

	rows, err := s.db.QueryContext(ctx, query, mailbox)
	if err != nil {
		return nil, fmt.Errorf("get all counters: %w", err)
	}
	defer rows.Close()

	out := make(map[int]label.Counters)
	for rows.Next() {
		var id int
		var c label.Counters
		if err := rows.Scan(&id, &c.Messages, &c.Bytes, &c.Unread); err != nil {
			return nil, fmt.Errorf("scan counters: %w", err)
		}
		out[id] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get all counters: %w", err)
	}
	return out, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeta(row rowScanner) (*store.Meta, error) {
	var (
		meta    store.Meta
		from    []byte
		to      []byte
		cc      []byte
		bcc     []byte
		parts   []byte
		headers []byte
		labels  pq.Int64Array
		date    sql.NullTime
	)
	if err := row.Scan(&meta.Mailbox, &meta.ID, &meta.MessageID, &from, &to, &cc, &bcc,
		&meta.Subject, &date, &meta.Size, &meta.PlainBody, &meta.HTMLBody,
		&labels, &parts, &headers, &meta.URI, &meta.ModifiedAt); err != nil {
		return nil, err
	}
	if date.Valid {
		meta.Date = date.Time
	}
	for _, l := range labels {
		meta.Labels = append(meta.Labels, int(l))
	}
	for _, field := range []struct {
		raw []byte
		dst any
	}{
		{from, &meta.From},
		{to, &meta.To},
		{cc, &meta.Cc},
		{bcc, &meta.Bcc},
		{parts, &meta.Parts},
		{headers, &meta.MinorHeaders},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return nil, fmt.Errorf("unmarshal column: %w", err)
		}
	}
	return &meta, nil
}

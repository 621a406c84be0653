package postgres

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultMessagesTable = "messages"
	DefaultCountersTable = "label_counters"
	DefaultTimeout       = 10 * time.Second
)

// options holds PostgreSQL store configuration.
type options struct {
	messagesTable string
	countersTable string
	timeout       time.Duration
	logger        *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		messagesTable: DefaultMessagesTable,
		countersTable: DefaultCountersTable,
		timeout:       DefaultTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a PostgreSQL store.
type Option func(*options)

// WithMessagesTable sets the messages table name.
func WithMessagesTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.messagesTable = name
		}
	}
}

// WithCountersTable sets the label counters table name.
func WithCountersTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.countersTable = name
		}
	}
}

// WithTimeout sets the per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

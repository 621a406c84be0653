package mongo

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultDatabase           = "mailstore"
	DefaultMessagesCollection = "messages"
	DefaultCountersCollection = "label_counters"
	DefaultTimeout            = 10 * time.Second
)

// options holds MongoDB store configuration.
type options struct {
	database           string
	messagesCollection string
	countersCollection string
	timeout            time.Duration
	logger             *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		database:           DefaultDatabase,
		messagesCollection: DefaultMessagesCollection,
		countersCollection: DefaultCountersCollection,
		timeout:            DefaultTimeout,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a MongoDB store.
type Option func(*options)

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithMessagesCollection sets the messages collection name.
func WithMessagesCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.messagesCollection = name
		}
	}
}

// WithCountersCollection sets the counters collection name.
func WithCountersCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.countersCollection = name
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

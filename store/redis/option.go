package redis

import "log/slog"

// DefaultPrefix is the key prefix for counter hashes.
const DefaultPrefix = "counters"

// options holds Redis counter store configuration.
type options struct {
	prefix string
	logger *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Redis counter store.
type Option func(*options)

// WithPrefix sets the key prefix. Default is "counters".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
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

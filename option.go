package mailstore

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/mailstore/blob"
	"github.com/rbaliyan/mailstore/mime"
	"github.com/rbaliyan/mailstore/retry"
	"github.com/rbaliyan/mailstore/store"
)

// Defaults for agent configuration.
const (
	// DefaultConcurrency is the number of recipients delivered in
	// parallel within one envelope.
	DefaultConcurrency = 4

	// DefaultTimeout bounds one recipient's storage attempt.
	DefaultTimeout = 30 * time.Second
)

// options holds delivery agent configuration.
type options struct {
	parser   *mime.Parser
	pipeline *blob.Pipeline
	messages store.MessageStore
	counters store.CounterStore
	resolver Resolver
	filters  []Filter

	pop3Enabled bool
	blobProfile string
	concurrency int
	timeout     time.Duration
	retry       retry.Config

	sink   Sink
	logger *slog.Logger

	// Telemetry
	serviceName    string
	tracingEnabled bool
	metricsEnabled bool
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Events
	eventTransport transport.Transport   // Event transport (optional, uses noop if nil)
	redisClient    redis.UniversalClient // Redis client for event transport (optional)
}

func newOptions(opts ...Option) *options {
	retryCfg := retry.DefaultConfig()
	retryCfg.IsRetryable = IsRetryableError

	o := &options{
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		retry:       retryCfg,
		sink:        nopSink{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a delivery agent.
type Option func(*options)

// WithParser sets the MIME parser. A lenient default parser is used
// when unset.
func WithParser(p *mime.Parser) Option {
	return func(o *options) {
		if p != nil {
			o.parser = p
		}
	}
}

// WithPipeline sets the blob pipeline used to persist payloads. Required.
func WithPipeline(p *blob.Pipeline) Option {
	return func(o *options) {
		if p != nil {
			o.pipeline = p
		}
	}
}

// WithMessageStore sets the metadata store. Required.
func WithMessageStore(s store.MessageStore) Option {
	return func(o *options) {
		if s != nil {
			o.messages = s
		}
	}
}

// WithCounterStore sets the label counter store. When unset, the
// message store is used if it also implements store.CounterStore.
func WithCounterStore(s store.CounterStore) Option {
	return func(o *options) {
		if s != nil {
			o.counters = s
		}
	}
}

// WithResolver sets the recipient resolver. Required.
func WithResolver(r Resolver) Option {
	return func(o *options) {
		if r != nil {
			o.resolver = r
		}
	}
}

// WithFilter appends a classification filter. Filters run in the order
// added, after the spam filter and before the default routing filter.
func WithFilter(f Filter) Option {
	return func(o *options) {
		if f != nil {
			o.filters = append(o.filters, f)
		}
	}
}

// WithPOP3 exposes otherwise-unlabeled deliveries to POP3 retrieval.
func WithPOP3(enabled bool) Option {
	return func(o *options) {
		o.pop3Enabled = enabled
	}
}

// WithBlobProfile routes payload writes to a named pipeline profile
// instead of the pipeline default.
func WithBlobProfile(profile string) Option {
	return func(o *options) {
		o.blobProfile = profile
	}
}

// WithConcurrency bounds parallel per-recipient delivery within one
// envelope. Values below 1 deliver sequentially.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		} else {
			o.concurrency = 1
		}
	}
}

// WithTimeout bounds each recipient's storage attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetry overrides the retry policy for counter adjustments and
// other transient-failure-prone store calls.
func WithRetry(cfg retry.Config) Option {
	return func(o *options) {
		if cfg.IsRetryable == nil {
			cfg.IsRetryable = IsRetryableError
		}
		o.retry = cfg
	}
}

// WithSink sets the telemetry sink for per-recipient timing
// observations. Defaults to a no-op sink.
func WithSink(s Sink) Option {
	return func(o *options) {
		if s != nil {
			o.sink = s
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

// WithServiceName sets the service name reported in telemetry.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracing enables OpenTelemetry tracing. A nil provider uses the
// global tracer provider.
func WithTracing(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracingEnabled = true
		o.tracerProvider = tp
	}
}

// WithMetrics enables OpenTelemetry metrics. A nil provider uses the
// global meter provider.
func WithMetrics(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.metricsEnabled = true
		o.meterProvider = mp
	}
}

// WithEventTransport sets the event transport for publishing delivery
// lifecycle events. Defaults to a noop transport.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client used to build the event
// transport when no explicit transport is configured.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

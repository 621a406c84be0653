package mailstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/rbaliyan/mailstore/blob"
	"github.com/rbaliyan/mailstore/label"
	"github.com/rbaliyan/mailstore/mime"
	"github.com/rbaliyan/mailstore/retry"
	"github.com/rbaliyan/mailstore/store"
)

// deliveryCounter correlates log lines of one envelope. Wraps back to
// 100 above 99999; diagnostic only, no correctness dependency.
var deliveryCounter atomic.Int64

func init() {
	deliveryCounter.Store(int64(rand.IntN(10000)))
}

func nextDeliveryID() int64 {
	id := deliveryCounter.Add(1)
	if id > 99999 {
		deliveryCounter.Store(100)
		id = 100
	}
	return id
}

// Agent turns one inbound envelope into independent per-recipient
// delivery outcomes. The payload is parsed once, classified by the
// filter chain, then stored per recipient: blob write, metadata
// insert, counter adjustments.
//
// Construct with New, then Connect before delivering.
type Agent struct {
	opts *options

	parser   *mime.Parser
	pipeline *blob.Pipeline
	messages store.MessageStore
	counters store.CounterStore
	resolver Resolver
	filters  Chain

	logger  *slog.Logger
	sink    Sink
	otel    *otelInstrumentation
	entropy io.Reader // ULID entropy, safe for concurrent use

	eventBus  *event.Bus
	events    *AgentEvents
	connected int32
}

// New creates a delivery agent. A blob pipeline, a message store, and
// a resolver are required; everything else has defaults.
func New(opts ...Option) (*Agent, error) {
	o := newOptions(opts...)

	if o.pipeline == nil {
		return nil, ErrPipelineRequired
	}
	if o.messages == nil {
		return nil, ErrMessageStoreRequired
	}
	if o.resolver == nil {
		return nil, ErrResolverRequired
	}

	counters := o.counters
	if counters == nil {
		cs, ok := o.messages.(store.CounterStore)
		if !ok {
			return nil, ErrCounterStoreRequired
		}
		counters = cs
	}

	parser := o.parser
	if parser == nil {
		parser = mime.New(mime.DefaultConfig(), mime.WithLogger(o.logger))
	}

	otelInst, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	filters := make(Chain, 0, len(o.filters)+2)
	filters = append(filters, SpamFilter())
	filters = append(filters, o.filters...)
	filters = append(filters, DefaultFilter(o.pop3Enabled))

	return &Agent{
		opts:     o,
		parser:   parser,
		pipeline: o.pipeline,
		messages: o.messages,
		counters: counters,
		resolver: o.resolver,
		filters:  filters,
		logger:   o.logger,
		sink:     o.sink,
		otel:     otelInst,
		entropy:  ulid.DefaultEntropy(),
	}, nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter atomic.Int64

// Connect initializes the event bus and marks the agent ready.
// The caller connects the stores; the agent does not own their
// lifecycle.
func (a *Agent) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&a.connected, 0, 1) {
		return ErrAlreadyConnected
	}
	if err := a.initEventBus(ctx); err != nil {
		atomic.StoreInt32(&a.connected, 0)
		return fmt.Errorf("init event bus: %w", err)
	}
	return nil
}

// Close shuts down the event bus.
func (a *Agent) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&a.connected, 1, 0) {
		return nil
	}
	if a.eventBus != nil {
		return a.eventBus.Close(ctx)
	}
	return nil
}

// IsConnected returns true if the agent is ready to deliver.
func (a *Agent) IsConnected() bool {
	return atomic.LoadInt32(&a.connected) == 1
}

// Events returns per-agent event instances for subscribing.
func (a *Agent) Events() *AgentEvents {
	return a.events
}

// initEventBus initializes the event bus for this agent. Bus names get
// a unique suffix so independent agents in one process never collide.
func (a *Agent) initEventBus(ctx context.Context) error {
	name := a.opts.serviceName
	if name == "" {
		name = "mailstore"
	}
	busName := fmt.Sprintf("%s-%d", name, busCounter.Add(1))

	var (
		bus *event.Bus
		err error
	)
	switch {
	case a.opts.eventTransport != nil:
		a.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(a.opts.eventTransport))
	case a.opts.redisClient != nil:
		a.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(a.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		a.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}

	a.eventBus = bus
	a.events = newAgentEvents(busName)
	if err := registerAgentEvents(ctx, bus, a.events); err != nil {
		bus.Close(ctx)
		a.eventBus = nil
		a.events = nil
		return err
	}
	return nil
}

// Deliver processes one envelope and returns a reply code per
// recipient. Parse failures abort the whole envelope before any
// recipient is processed; after that point failures stay confined to
// their recipient.
func (a *Agent) Deliver(ctx context.Context, env *Envelope) (map[string]ReplyCode, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}
	if env == nil || env.Payload == nil || len(env.Recipients) == 0 {
		return nil, fmt.Errorf("mailstore: empty envelope")
	}

	did := nextDeliveryID()
	start := time.Now()
	ctx, end := a.otel.startSpan(ctx, "mailstore.Deliver",
		attribute.Int64("delivery_id", did),
		attribute.Int("recipient_count", len(env.Recipients)),
	)

	msg, err := a.prepare(ctx, did, env)
	if err != nil {
		end(err)
		a.otel.recordEnvelope(ctx, time.Since(start), len(env.Recipients), err)
		return nil, err
	}

	a.logger.Info("incoming delivery",
		"did", did,
		"size", msg.Size,
		"nrcpts", len(env.Recipients),
		"from", env.Sender,
		"msgid", msg.MessageID)

	var (
		mu      sync.Mutex
		replies = make(map[string]ReplyCode, len(env.Recipients))
	)

	g := &errgroup.Group{}
	g.SetLimit(a.opts.concurrency)
	for _, rcpt := range env.Recipients {
		// Transport disconnects cancel the remaining recipients, but
		// a dispatched attempt runs to completion.
		if ctx.Err() != nil {
			mu.Lock()
			replies[rcpt] = ReplyTemporaryFailure
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			code := a.deliverOne(ctx, did, env, msg, rcpt)
			mu.Lock()
			replies[rcpt] = code
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	end(nil)
	a.otel.recordEnvelope(ctx, time.Since(start), len(env.Recipients), nil)
	return replies, nil
}

// prepare parses the payload, fixes up its size, and runs the filter
// chain. Failure here aborts the envelope.
func (a *Agent) prepare(ctx context.Context, did int64, env *Envelope) (*mime.Message, error) {
	msg, err := a.parser.ParseSource(env.Payload)
	if err != nil {
		a.logger.Error("envelope parse failed", "did", did, "from", env.Sender, "error", err)
		return nil, fmt.Errorf("parse envelope: %w", err)
	}

	msg.Size = env.Size
	if msg.Size <= 0 {
		size, err := a.measure(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("measure payload: %w", err)
		}
		msg.Size = size
	}

	return a.filters.Apply(msg), nil
}

// measure counts the payload bytes when the transport did not declare
// a size.
func (a *Agent) measure(payload PayloadSource) (int64, error) {
	r, err := payload.Open()
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return io.Copy(io.Discard, r)
}

// deliverOne runs the Resolve -> Store -> Outcome machine for a single
// recipient. It never lets an error or panic escape; everything maps
// to a reply code.
func (a *Agent) deliverOne(ctx context.Context, did int64, env *Envelope, msg *mime.Message, rcpt string) (code ReplyCode) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic during delivery",
				"did", did, "recipient", rcpt, "panic", r)
			code = ReplyTemporaryFailure
		}
		elapsed := time.Since(start)
		a.sink.Observe("deliver", rcpt, elapsed)
		a.otel.recordDeliver(ctx, elapsed, code, msg.Size)
		if code != ReplyOK {
			a.publishFailed(ctx, env, rcpt, code)
		}
	}()

	res, err := a.resolver.Resolve(ctx, rcpt)
	if err != nil {
		a.logger.Error("resolve failed", "did", did, "recipient", rcpt, "error", err)
		return replyForError(err)
	}

	switch res.Disposition {
	case Discard:
		a.logger.Debug("discarding delivery", "did", did, "recipient", rcpt)
		return ReplyOK
	case Defer:
		return ReplyTemporaryFailure
	case Reject:
		return ReplyNoSuchUser
	}

	if err := a.storeMessage(ctx, did, env, msg, res.Mailbox); err != nil {
		a.logger.Error("delivery failed",
			"did", did, "recipient", rcpt, "mailbox", res.Mailbox.Address,
			"size", msg.Size, "error", err)
		return replyForError(err)
	}
	return ReplyOK
}

// storeMessage persists one recipient's copy: quota gate, blob write,
// metadata insert, counter adjustments. The blob is removed again if
// the metadata insert fails, so a retried delivery does not leak
// orphaned payloads.
func (a *Agent) storeMessage(ctx context.Context, did int64, env *Envelope, msg *mime.Message, mbox Mailbox) error {
	ctx, cancel := context.WithTimeout(ctx, a.opts.timeout)
	defer cancel()

	if err := a.checkQuota(ctx, msg, mbox); err != nil {
		return err
	}

	id, err := a.newMessageID(msg)
	if err != nil {
		return fmt.Errorf("generate message id: %w", err)
	}

	payload, err := env.Payload.Open()
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer payload.Close()

	key := mbox.Address + "/" + id
	var uri *blob.URI
	if a.opts.blobProfile != "" {
		uri, err = a.pipeline.WriteProfile(ctx, a.opts.blobProfile, key, payload, msg.Size)
	} else {
		uri, err = a.pipeline.Write(ctx, key, payload, msg.Size)
	}
	if err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	meta := a.buildMeta(id, mbox.Address, msg, uri)
	if err := a.messages.Put(ctx, meta); err != nil {
		if delErr := a.pipeline.Delete(ctx, uri); delErr != nil {
			a.logger.Error("orphaned blob after failed metadata insert",
				"did", did, "uri", uri.String(), "error", delErr)
		}
		return fmt.Errorf("store metadata: %w", err)
	}

	a.adjustCounters(ctx, did, meta)
	a.publishDelivered(ctx, env, meta)
	return nil
}

// checkQuota gates delivery on the mailbox quota using the all-mail
// aggregate counters.
func (a *Agent) checkQuota(ctx context.Context, msg *mime.Message, mbox Mailbox) error {
	if mbox.Quota.MaxBytes <= 0 && mbox.Quota.MaxMessages <= 0 {
		return nil
	}
	usage, err := a.counters.Counters(ctx, mbox.Address, label.AllMail)
	if err != nil {
		return fmt.Errorf("read quota usage: %w", err)
	}
	if mbox.Quota.MaxBytes > 0 && usage.Bytes+msg.Size > mbox.Quota.MaxBytes {
		return fmt.Errorf("%w: %s", ErrOverQuota, mbox.Address)
	}
	if mbox.Quota.MaxMessages > 0 && usage.Messages+1 > mbox.Quota.MaxMessages {
		return fmt.Errorf("%w: %s", ErrOverQuota, mbox.Address)
	}
	return nil
}

// newMessageID generates a ULID seeded by the sent date so identities
// sort roughly chronologically within a mailbox.
func (a *Agent) newMessageID(msg *mime.Message) (string, error) {
	ts := msg.Date
	if ts.IsZero() {
		ts = time.Now()
	}
	id, err := ulid.New(ulid.Timestamp(ts), a.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (a *Agent) buildMeta(id, mailbox string, msg *mime.Message, uri *blob.URI) *store.Meta {
	parts := msg.Parts()
	infos := make([]store.PartInfo, 0, len(parts))
	for _, pid := range msg.PartIDs() {
		p := parts[pid]
		infos = append(infos, store.PartInfo{
			ID:          p.ID,
			ContentType: p.ContentType,
			ContentID:   p.ContentID,
			Disposition: p.Disposition,
			Filename:    p.Filename,
			Size:        p.Size,
		})
	}

	return &store.Meta{
		ID:           id,
		Mailbox:      mailbox,
		MessageID:    msg.MessageID,
		From:         msg.From,
		To:           msg.To,
		Cc:           msg.Cc,
		Bcc:          msg.Bcc,
		Subject:      msg.Subject,
		Date:         msg.Date,
		Size:         msg.Size,
		PlainBody:    msg.PlainBody,
		HTMLBody:     msg.HTMLBody,
		Labels:       msg.Labels(),
		Parts:        infos,
		MinorHeaders: msg.MinorHeaders(),
		URI:          uri.String(),
		ModifiedAt:   time.Now(),
	}
}

// adjustCounters applies the delivery delta to the all-mail aggregate
// and every label the message carries. Counter drift is repairable
// offline, so failures are retried briefly and then logged rather
// than failing the already-stored delivery.
func (a *Agent) adjustCounters(ctx context.Context, did int64, meta *store.Meta) {
	delta := label.DeliveryDelta(meta.Size)
	ids := append([]int{label.AllMail}, meta.Labels...)
	for _, labelID := range ids {
		err := retry.Do(ctx, a.opts.retry, func(ctx context.Context) error {
			return a.counters.Adjust(ctx, meta.Mailbox, labelID, delta)
		})
		if err != nil {
			a.logger.Error("counter adjustment failed",
				"did", did, "mailbox", meta.Mailbox, "label", labelID, "error", err)
		}
	}
}

func (a *Agent) publishDelivered(ctx context.Context, env *Envelope, meta *store.Meta) {
	err := a.events.MessageDelivered.Publish(ctx, MessageDeliveredEvent{
		EventID:     uuid.NewString(),
		MessageID:   meta.ID,
		Mailbox:     meta.Mailbox,
		Sender:      env.Sender,
		Size:        meta.Size,
		Labels:      meta.Labels,
		DeliveredAt: time.Now(),
	})
	if err != nil {
		a.logger.Error("publish MessageDelivered failed", "mailbox", meta.Mailbox, "error", err)
	}
}

func (a *Agent) publishFailed(ctx context.Context, env *Envelope, rcpt string, code ReplyCode) {
	err := a.events.DeliveryFailed.Publish(ctx, DeliveryFailedEvent{
		EventID:   uuid.NewString(),
		Recipient: rcpt,
		Sender:    env.Sender,
		Reply:     code,
		Reason:    string(code),
		FailedAt:  time.Now(),
	})
	if err != nil {
		a.logger.Error("publish DeliveryFailed failed", "recipient", rcpt, "error", err)
	}
}

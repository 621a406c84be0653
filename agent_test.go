package mailstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rbaliyan/mailstore/blob"
	blobmem "github.com/rbaliyan/mailstore/blob/memory"
	"github.com/rbaliyan/mailstore/label"
	"github.com/rbaliyan/mailstore/store"
	storemem "github.com/rbaliyan/mailstore/store/memory"
)

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

const testMessage = `From: Alice <alice@example.com>
To: Bob <bob@example.com>
Subject: hello
Date: Mon, 02 Jan 2006 15:04:05 +0000
Message-ID: <abc@example.com>
Content-Type: text/plain

Hello Bob.
`

const spamMessage = `From: spammer@example.net
To: bob@example.com
Subject: buy now
X-Spam-Flag: YES
Content-Type: text/plain

Cheap watches.
`

// tableResolver is a minimal in-test Resolver.
type tableResolver map[string]Resolution

func (r tableResolver) Resolve(_ context.Context, rcpt string) (Resolution, error) {
	res, ok := r[rcpt]
	if !ok {
		return Resolution{Disposition: Reject}, nil
	}
	return res, nil
}

func deliverTo(addr string) Resolution {
	return Resolution{Disposition: Deliver, Mailbox: Mailbox{Address: addr}}
}

type testEnv struct {
	agent    *Agent
	messages *storemem.Store
	blobs    *blobmem.Store
}

func newTestEnv(t *testing.T, res Resolver, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()

	blobs := blobmem.New()
	pipeline, err := blob.NewPipeline(blob.WithProfile("main", blobs))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	messages := storemem.New()
	if err := messages.Connect(ctx); err != nil {
		t.Fatalf("Connect store: %v", err)
	}
	t.Cleanup(func() { messages.Close(ctx) })

	opts = append([]Option{
		WithPipeline(pipeline),
		WithMessageStore(messages),
		WithResolver(res),
	}, opts...)

	agent, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := agent.Connect(ctx); err != nil {
		t.Fatalf("Connect agent: %v", err)
	}
	t.Cleanup(func() { agent.Close(ctx) })

	return &testEnv{agent: agent, messages: messages, blobs: blobs}
}

func envelope(sender string, payload string, rcpts ...string) *Envelope {
	raw := []byte(crlf(payload))
	return &Envelope{
		Sender:     sender,
		Recipients: rcpts,
		Size:       int64(len(raw)),
		Payload:    BytesPayload(raw),
	}
}

func TestDeliverSingleRecipient(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t, tableResolver{"bob@example.com": deliverTo("bob@example.com")})

	replies, err := te.agent.Deliver(ctx, envelope("alice@example.com", testMessage, "bob@example.com"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if replies["bob@example.com"] != ReplyOK {
		t.Fatalf("reply = %s, want OK", replies["bob@example.com"])
	}

	stored, err := te.messages.List(ctx, "bob@example.com", label.Inbox, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d messages, want 1", len(stored))
	}
	meta := stored[0]
	if meta.Subject != "hello" || meta.MessageID != "abc@example.com" {
		t.Errorf("meta = %+v", meta)
	}
	if !meta.HasLabel(label.Inbox) {
		t.Errorf("labels = %v, want inbox", meta.Labels)
	}

	// The blob must round-trip to the original payload.
	uri, err := blob.ParseURI(meta.URI)
	if err != nil {
		t.Fatalf("ParseURI(%q): %v", meta.URI, err)
	}
	if te.blobs.Len() != 1 {
		t.Errorf("blob count = %d, want 1", te.blobs.Len())
	}
	if uri.Profile != "main" {
		t.Errorf("profile = %q, want main", uri.Profile)
	}

	// Counters for all-mail and inbox both move.
	for _, id := range []int{label.AllMail, label.Inbox} {
		c, err := te.messages.Counters(ctx, "bob@example.com", id)
		if err != nil {
			t.Fatalf("Counters(%d): %v", id, err)
		}
		if c.Messages != 1 || c.Unread != 1 || c.Bytes != meta.Size {
			t.Errorf("label %d counters = %+v", id, c)
		}
	}
}

func TestDeliverDispositions(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t, tableResolver{
		"ok@example.com":      deliverTo("ok@example.com"),
		"discard@example.com": {Disposition: Discard},
		"defer@example.com":   {Disposition: Defer},
		"reject@example.com":  {Disposition: Reject},
	})

	env := envelope("alice@example.com", testMessage,
		"ok@example.com", "discard@example.com", "defer@example.com",
		"reject@example.com", "stranger@example.com")
	replies, err := te.agent.Deliver(ctx, env)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	want := map[string]ReplyCode{
		"ok@example.com":       ReplyOK,
		"discard@example.com":  ReplyOK,
		"defer@example.com":    ReplyTemporaryFailure,
		"reject@example.com":   ReplyNoSuchUser,
		"stranger@example.com": ReplyNoSuchUser,
	}
	if len(replies) != len(want) {
		t.Fatalf("got %d replies, want %d", len(replies), len(want))
	}
	for rcpt, code := range want {
		if replies[rcpt] != code {
			t.Errorf("%s = %s, want %s", rcpt, replies[rcpt], code)
		}
	}

	// Only the deliver disposition stores anything.
	if te.blobs.Len() != 1 {
		t.Errorf("blob count = %d, want 1", te.blobs.Len())
	}
	if got, _ := te.messages.List(ctx, "discard@example.com", label.AllMail, 0); len(got) != 0 {
		t.Errorf("discard stored %d messages", len(got))
	}
}

// failingMessages fails Put for one mailbox while delegating the rest.
type failingMessages struct {
	*storemem.Store
	failFor string
}

func (f *failingMessages) Put(ctx context.Context, meta *store.Meta) error {
	if meta.Mailbox == f.failFor {
		return errors.New("backend unavailable")
	}
	return f.Store.Put(ctx, meta)
}

func TestRecipientIsolation(t *testing.T) {
	ctx := context.Background()

	blobs := blobmem.New()
	pipeline, err := blob.NewPipeline(blob.WithProfile("main", blobs))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	mem := storemem.New()
	if err := mem.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	failing := &failingMessages{Store: mem, failFor: "carol@example.com"}

	agent, err := New(
		WithPipeline(pipeline),
		WithMessageStore(failing),
		WithCounterStore(mem),
		WithResolver(tableResolver{
			"bob@example.com":   deliverTo("bob@example.com"),
			"carol@example.com": deliverTo("carol@example.com"),
			"dave@example.com":  deliverTo("dave@example.com"),
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := agent.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer agent.Close(ctx)

	env := envelope("alice@example.com", testMessage,
		"bob@example.com", "carol@example.com", "dave@example.com")
	replies, err := agent.Deliver(ctx, env)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if replies["carol@example.com"] != ReplyTemporaryFailure {
		t.Errorf("carol = %s, want TEMPORARY_FAILURE", replies["carol@example.com"])
	}
	for _, rcpt := range []string{"bob@example.com", "dave@example.com"} {
		if replies[rcpt] != ReplyOK {
			t.Errorf("%s = %s, want OK", rcpt, replies[rcpt])
		}
	}

	// The failed recipient's blob was cleaned up again.
	if blobs.Len() != 2 {
		t.Errorf("blob count = %d, want 2", blobs.Len())
	}
}

func TestOverQuota(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t, tableResolver{
		"full@example.com": {
			Disposition: Deliver,
			Mailbox:     Mailbox{Address: "full@example.com", Quota: Quota{MaxBytes: 10}},
		},
	})

	replies, err := te.agent.Deliver(ctx, envelope("alice@example.com", testMessage, "full@example.com"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if replies["full@example.com"] != ReplyOverQuota {
		t.Errorf("reply = %s, want OVER_QUOTA", replies["full@example.com"])
	}
	if te.blobs.Len() != 0 {
		t.Errorf("blob count = %d, want 0", te.blobs.Len())
	}
}

func TestParseFailureAbortsEnvelope(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t, tableResolver{"bob@example.com": deliverTo("bob@example.com")})

	env := &Envelope{
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com"},
		Payload:    BytesPayload(nil),
	}
	if _, err := te.agent.Deliver(ctx, env); err == nil {
		t.Fatal("Deliver succeeded on empty payload")
	}
	if te.blobs.Len() != 0 {
		t.Errorf("blob count = %d, want 0", te.blobs.Len())
	}
}

func TestSpamSkipsInbox(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t, tableResolver{"bob@example.com": deliverTo("bob@example.com")})

	replies, err := te.agent.Deliver(ctx, envelope("spammer@example.net", spamMessage, "bob@example.com"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if replies["bob@example.com"] != ReplyOK {
		t.Fatalf("reply = %s, want OK", replies["bob@example.com"])
	}

	spam, err := te.messages.List(ctx, "bob@example.com", label.Spam, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(spam) != 1 {
		t.Fatalf("spam list = %d messages, want 1", len(spam))
	}
	if spam[0].HasLabel(label.Inbox) {
		t.Errorf("spam message carries inbox label: %v", spam[0].Labels)
	}
}

func TestPOP3Routing(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t, tableResolver{"bob@example.com": deliverTo("bob@example.com")},
		WithPOP3(true))

	if _, err := te.agent.Deliver(ctx, envelope("alice@example.com", testMessage, "bob@example.com")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	got, err := te.messages.List(ctx, "bob@example.com", label.POP3, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("pop3 list = %d messages, want 1", len(got))
	}
}

func TestDeliverNotConnected(t *testing.T) {
	blobs := blobmem.New()
	pipeline, err := blob.NewPipeline(blob.WithProfile("main", blobs))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	mem := storemem.New()

	agent, err := New(
		WithPipeline(pipeline),
		WithMessageStore(mem),
		WithResolver(tableResolver{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = agent.Deliver(context.Background(), envelope("a@b.c", testMessage, "bob@example.com"))
	if !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("Deliver = %v, want ErrNotConnected", err)
	}
}

func TestNewValidation(t *testing.T) {
	blobs := blobmem.New()
	pipeline, _ := blob.NewPipeline(blob.WithProfile("main", blobs))
	mem := storemem.New()

	t.Run("missing pipeline", func(t *testing.T) {
		if _, err := New(WithMessageStore(mem), WithResolver(tableResolver{})); !errors.Is(err, ErrPipelineRequired) {
			t.Errorf("New = %v, want ErrPipelineRequired", err)
		}
	})
	t.Run("missing store", func(t *testing.T) {
		if _, err := New(WithPipeline(pipeline), WithResolver(tableResolver{})); !errors.Is(err, ErrMessageStoreRequired) {
			t.Errorf("New = %v, want ErrMessageStoreRequired", err)
		}
	})
	t.Run("missing resolver", func(t *testing.T) {
		if _, err := New(WithPipeline(pipeline), WithMessageStore(mem)); !errors.Is(err, ErrResolverRequired) {
			t.Errorf("New = %v, want ErrResolverRequired", err)
		}
	})
}

func TestDeliveryIDWraps(t *testing.T) {
	deliveryCounter.Store(99999)
	if id := nextDeliveryID(); id != 100 {
		t.Errorf("id after wrap = %d, want 100", id)
	}
	if id := nextDeliveryID(); id != 101 {
		t.Errorf("next id = %d, want 101", id)
	}
}

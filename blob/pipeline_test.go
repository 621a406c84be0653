package blob_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rbaliyan/mailstore/blob"
	"github.com/rbaliyan/mailstore/blob/memory"
)

func testKeyring(t *testing.T, current string, aliases ...string) *blob.Keyring {
	t.Helper()
	keys := map[string][]byte{current: bytes.Repeat([]byte{0x42}, 32)}
	for i, alias := range aliases {
		keys[alias] = bytes.Repeat([]byte{byte(i + 1)}, 32)
	}
	kr, err := blob.NewKeyring(current, keys)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return kr
}

func TestWriteReadPlain(t *testing.T) {
	ctx := context.Background()
	p, err := blob.NewPipeline(blob.WithProfile("mem", memory.New()))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	payload := "raw message payload"
	uri, err := p.Write(ctx, "m/1", strings.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if uri.Compression != "" || uri.Encryption != "" {
		t.Errorf("uri records codecs without any configured: %v", uri)
	}

	rc, err := p.Read(ctx, uri)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != payload {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestWriteReadCompressedEncrypted(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	kr := testKeyring(t, "k1")
	p, err := blob.NewPipeline(
		blob.WithProfile("mem", backend),
		blob.WithCompression(blob.Deflate{}),
		blob.WithEncryption(blob.AESCTR{}, kr),
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	payload := strings.Repeat("compressible mail body\n", 100)
	uri, err := p.Write(ctx, "m/2", strings.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if uri.Compression != blob.TypeDeflate {
		t.Errorf("compression = %q, want %q", uri.Compression, blob.TypeDeflate)
	}
	if uri.Encryption != blob.TypeAESCTR || uri.KeyAlias != "k1" {
		t.Errorf("encryption = %q key = %q", uri.Encryption, uri.KeyAlias)
	}

	// The stored bytes must not contain the plaintext.
	raw, err := backend.Get(ctx, "m/2")
	if err != nil {
		t.Fatalf("backend get: %v", err)
	}
	stored, _ := io.ReadAll(raw)
	raw.Close()
	if bytes.Contains(stored, []byte("compressible mail body")) {
		t.Error("stored blob contains plaintext")
	}
	if len(stored) >= len(payload) {
		t.Errorf("stored %d bytes, expected compression below %d", len(stored), len(payload))
	}

	rc, err := p.Read(ctx, uri)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != payload {
		t.Errorf("round trip mismatch: %d bytes vs %d", len(got), len(payload))
	}
}

func TestZeroBytePayload(t *testing.T) {
	ctx := context.Background()
	p, err := blob.NewPipeline(
		blob.WithProfile("mem", memory.New()),
		blob.WithCompression(blob.Deflate{}),
		blob.WithEncryption(blob.AESCTR{}, testKeyring(t, "k1")),
		blob.WithMinCompressSize(0),
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	uri, err := p.Write(ctx, "m/empty", strings.NewReader(""), 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	rc, err := p.Read(ctx, uri)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("payload = %q, want empty", got)
	}
}

func TestSmallPayloadSkipsCompression(t *testing.T) {
	ctx := context.Background()
	p, err := blob.NewPipeline(
		blob.WithProfile("mem", memory.New()),
		blob.WithCompression(blob.Deflate{}),
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	uri, err := p.Write(ctx, "m/small", strings.NewReader("tiny"), 4)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if uri.Compression != "" {
		t.Errorf("small payload was compressed: %v", uri)
	}
}

func TestKeyRotation(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()

	old, err := blob.NewPipeline(
		blob.WithProfile("mem", backend),
		blob.WithEncryption(blob.AESCTR{}, testKeyring(t, "k1")),
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	uri, err := old.Write(ctx, "m/rot", strings.NewReader("sealed with k1"), -1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	// New pipeline writes with k2 but keeps k1 resolvable.
	keys := map[string][]byte{
		"k1": bytes.Repeat([]byte{0x42}, 32),
		"k2": bytes.Repeat([]byte{0x43}, 32),
	}
	kr, err := blob.NewKeyring("k2", keys)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	rotated, err := blob.NewPipeline(
		blob.WithProfile("mem", backend),
		blob.WithEncryption(blob.AESCTR{}, kr),
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	rc, err := rotated.Read(ctx, uri)
	if err != nil {
		t.Fatalf("Read after rotation: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "sealed with k1" {
		t.Errorf("payload = %q", got)
	}
}

// rejectingStore fails every Put without draining the content stream.
type rejectingStore struct{}

func (rejectingStore) Put(ctx context.Context, key string, content io.Reader) error {
	return errors.New("backend unavailable")
}

func (rejectingStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, blob.ErrNotFound
}

func (rejectingStore) Delete(ctx context.Context, key string) error { return nil }

func TestFailedCompressedWriteUnblocksCompressor(t *testing.T) {
	ctx := context.Background()
	p, err := blob.NewPipeline(
		blob.WithProfile("mem", rejectingStore{}),
		blob.WithCompression(blob.Deflate{}),
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	payload := bytes.Repeat([]byte("compressible mail body\n"), 4096)
	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		if _, err := p.Write(ctx, "m/fail", bytes.NewReader(payload), int64(len(payload))); err == nil {
			t.Fatal("Write succeeded against failing backend")
		}
	}

	// Unblocked compressor goroutines need a moment to exit.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before+1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if after := runtime.NumGoroutine(); after > before+1 {
		t.Errorf("goroutines before=%d after=%d; failed writes leaked compressors", before, after)
	}
}

func TestDecryptOnlyRead(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	kr := testKeyring(t, "k1")

	sealing, err := blob.NewPipeline(
		blob.WithProfile("mem", backend),
		blob.WithEncryption(blob.AESCTR{}, kr),
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	uri, err := sealing.Write(ctx, "m/legacy", strings.NewReader("sealed payload"), -1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Encryption of new writes turned off; old blobs must stay readable.
	plain, err := blob.NewPipeline(
		blob.WithProfile("mem", backend),
		blob.WithReadEncryptor(blob.AESCTR{}),
		blob.WithKeyring(kr),
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	newURI, err := plain.Write(ctx, "m/new", strings.NewReader("clear payload"), -1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if newURI.Encryption != "" {
		t.Errorf("new write encrypted: %v", newURI)
	}

	rc, err := plain.Read(ctx, uri)
	if err != nil {
		t.Fatalf("Read of encrypted blob: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "sealed payload" {
		t.Errorf("payload = %q, want %q", got, "sealed payload")
	}
}

func TestReadErrors(t *testing.T) {
	ctx := context.Background()
	p, err := blob.NewPipeline(blob.WithProfile("mem", memory.New()))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	t.Run("unknown profile", func(t *testing.T) {
		_, err := p.Read(ctx, &blob.URI{Profile: "other", Key: "x"})
		if !errors.Is(err, blob.ErrUnknownProfile) {
			t.Errorf("err = %v, want ErrUnknownProfile", err)
		}
	})

	t.Run("missing blob", func(t *testing.T) {
		_, err := p.Read(ctx, &blob.URI{Profile: "mem", Key: "absent"})
		if !errors.Is(err, blob.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestUnknownCodecOnRead(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	if err := backend.Put(ctx, "m/3", strings.NewReader("data")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	p, err := blob.NewPipeline(blob.WithProfile("mem", backend))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	_, err = p.Read(ctx, &blob.URI{Profile: "mem", Key: "m/3", Compression: "lzo"})
	if !errors.Is(err, blob.ErrUnknownCodec) {
		t.Errorf("err = %v, want ErrUnknownCodec", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, err := blob.NewPipeline(blob.WithProfile("mem", memory.New()))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	uri, err := p.Write(ctx, "m/4", strings.NewReader("bye"), -1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Delete(ctx, uri); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := p.Delete(ctx, uri); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if _, err := p.Read(ctx, uri); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("Read after delete = %v, want ErrNotFound", err)
	}
}

func TestURIRoundTrip(t *testing.T) {
	u := &blob.URI{
		Profile:     "primary",
		Key:         "mbx/01ARZ3/message",
		Compression: blob.TypeDeflate,
		Encryption:  blob.TypeAESCTR,
		KeyAlias:    "k1",
	}
	parsed, err := blob.ParseURI(u.String())
	if err != nil {
		t.Fatalf("ParseURI(%q): %v", u.String(), err)
	}
	if *parsed != *u {
		t.Errorf("parsed = %+v, want %+v", parsed, u)
	}

	for _, bad := range []string{"", "s3://bucket/key", "blob://", "blob://profile"} {
		if _, err := blob.ParseURI(bad); err == nil {
			t.Errorf("ParseURI(%q) succeeded", bad)
		}
	}
}

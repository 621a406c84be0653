package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// DefaultMinCompressSize is the payload size below which compression
// is skipped; tiny payloads tend to grow under DEFLATE.
const DefaultMinCompressSize = 512

// Pipeline routes blob writes and reads through configured storage
// profiles, compressing and encrypting on the way in and inverting the
// transformations recorded in the URI on the way out.
// Safe for concurrent use.
type Pipeline struct {
	profiles map[string]Store
	def      string

	compressor  Compressor
	minCompress int64

	encryptor Encryptor
	keyring   *Keyring

	compressors map[string]Compressor
	encryptors  map[string]Encryptor

	logger *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithProfile registers a named storage backend. The first profile
// registered becomes the default write target unless overridden with
// WithDefaultProfile.
func WithProfile(name string, store Store) PipelineOption {
	return func(p *Pipeline) {
		p.profiles[name] = store
		if p.def == "" {
			p.def = name
		}
	}
}

// WithDefaultProfile selects the profile used for new writes.
func WithDefaultProfile(name string) PipelineOption {
	return func(p *Pipeline) {
		p.def = name
	}
}

// WithCompression enables compression of new writes with c. The codec
// is also registered for reads.
func WithCompression(c Compressor) PipelineOption {
	return func(p *Pipeline) {
		p.compressor = c
	}
}

// WithMinCompressSize sets the payload size below which compression is
// skipped. Default is DefaultMinCompressSize.
func WithMinCompressSize(n int64) PipelineOption {
	return func(p *Pipeline) {
		p.minCompress = n
	}
}

// WithEncryption enables encryption of new writes with e, using the
// keyring's current key. The codec is also registered for reads.
func WithEncryption(e Encryptor, kr *Keyring) PipelineOption {
	return func(p *Pipeline) {
		p.encryptor = e
		p.keyring = kr
	}
}

// WithReadCompressor registers a codec for reading existing blobs
// without using it for new writes. Needed after a codec change so old
// URIs stay readable.
func WithReadCompressor(c Compressor) PipelineOption {
	return func(p *Pipeline) {
		p.compressors[c.Type()] = c
	}
}

// WithReadEncryptor registers an encryption codec for reads only.
// Pair it with WithKeyring so key aliases in old URIs stay resolvable.
func WithReadEncryptor(e Encryptor) PipelineOption {
	return func(p *Pipeline) {
		p.encryptors[e.Type()] = e
	}
}

// WithKeyring sets the keyring used to resolve key aliases on reads.
// WithEncryption implies it; a pipeline that stopped encrypting new
// writes needs this to keep old encrypted blobs readable.
func WithKeyring(kr *Keyring) PipelineOption {
	return func(p *Pipeline) {
		if kr != nil {
			p.keyring = kr
		}
	}
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline creates a Pipeline. At least one profile is required;
// encryption requires a keyring.
func NewPipeline(opts ...PipelineOption) (*Pipeline, error) {
	p := &Pipeline{
		profiles:    make(map[string]Store),
		minCompress: DefaultMinCompressSize,
		compressors: make(map[string]Compressor),
		encryptors:  make(map[string]Encryptor),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.profiles) == 0 {
		return nil, fmt.Errorf("blob: at least one storage profile is required")
	}
	if _, ok := p.profiles[p.def]; !ok {
		return nil, fmt.Errorf("blob: default profile %q is not registered", p.def)
	}
	if p.compressor != nil {
		p.compressors[p.compressor.Type()] = p.compressor
	}
	if p.encryptor != nil {
		if p.keyring == nil {
			return nil, fmt.Errorf("blob: encryption requires a keyring")
		}
		p.encryptors[p.encryptor.Type()] = p.encryptor
	}
	return p, nil
}

// Write stores content under key in the default profile. size is the
// payload size when known, or negative; it only gates the compression
// threshold. The returned URI records every transformation applied.
func (p *Pipeline) Write(ctx context.Context, key string, content io.Reader, size int64) (*URI, error) {
	return p.WriteProfile(ctx, p.def, key, content, size)
}

// WriteProfile stores content under key in a named profile.
func (p *Pipeline) WriteProfile(ctx context.Context, profile, key string, content io.Reader, size int64) (*URI, error) {
	store, ok := p.profiles[profile]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	u := &URI{Profile: profile, Key: key}
	r := content

	// The compressor feeds a pipe from its own goroutine. If the write
	// fails before the pipe is drained, that goroutine blocks forever
	// on the pipe; closing the reader end unblocks it.
	var pipe io.Closer
	abort := func() {
		if pipe != nil {
			pipe.Close()
		}
	}

	if p.compressor != nil && (size < 0 || size >= p.minCompress) {
		r = p.compressor.Compress(r)
		u.Compression = p.compressor.Type()
		if c, ok := r.(io.Closer); ok {
			pipe = c
		}
	}

	if p.encryptor != nil {
		alias, encKey := p.keyring.Current()
		iv, err := DeriveIV(encKey, key, p.encryptor.IVSize())
		if err != nil {
			abort()
			return nil, err
		}
		if r, err = p.encryptor.Encrypt(r, encKey, iv); err != nil {
			abort()
			return nil, err
		}
		u.Encryption = p.encryptor.Type()
		u.KeyAlias = alias
	}

	if err := store.Put(ctx, key, r); err != nil {
		abort()
		return nil, fmt.Errorf("write blob %q: %w", key, err)
	}
	p.logger.Debug("wrote blob",
		"profile", u.Profile, "key", key,
		"compression", u.Compression, "encryption", u.Encryption)
	return u, nil
}

// Read opens the blob behind uri and inverts the transformations it
// records. Caller closes the reader.
func (p *Pipeline) Read(ctx context.Context, uri *URI) (io.ReadCloser, error) {
	store, ok := p.profiles[uri.Profile]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, uri.Profile)
	}
	rc, err := store.Get(ctx, uri.Key)
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w", uri.Key, err)
	}

	r := io.Reader(rc)
	if uri.Encryption != "" {
		enc, ok := p.encryptors[uri.Encryption]
		if !ok {
			rc.Close()
			return nil, fmt.Errorf("%w: encryption %q", ErrUnknownCodec, uri.Encryption)
		}
		if p.keyring == nil {
			rc.Close()
			return nil, fmt.Errorf("%w: no keyring configured", ErrUnknownKey)
		}
		key, err := p.keyring.Key(uri.KeyAlias)
		if err != nil {
			rc.Close()
			return nil, err
		}
		iv, err := DeriveIV(key, uri.Key, enc.IVSize())
		if err != nil {
			rc.Close()
			return nil, err
		}
		if r, err = enc.Decrypt(r, key, iv); err != nil {
			rc.Close()
			return nil, err
		}
	}
	if uri.Compression != "" {
		c, ok := p.compressors[uri.Compression]
		if !ok {
			rc.Close()
			return nil, fmt.Errorf("%w: compression %q", ErrUnknownCodec, uri.Compression)
		}
		dr, err := c.Decompress(r)
		if err != nil {
			rc.Close()
			return nil, err
		}
		return &pipelineReader{r: dr, closers: []io.Closer{dr, rc}}, nil
	}
	return &pipelineReader{r: r, closers: []io.Closer{rc}}, nil
}

// Delete removes the blob behind uri. Deleting a missing blob is not
// an error.
func (p *Pipeline) Delete(ctx context.Context, uri *URI) error {
	store, ok := p.profiles[uri.Profile]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, uri.Profile)
	}
	if err := store.Delete(ctx, uri.Key); err != nil {
		return fmt.Errorf("delete blob %q: %w", uri.Key, err)
	}
	p.logger.Debug("deleted blob", "profile", uri.Profile, "key", uri.Key)
	return nil
}

type pipelineReader struct {
	r       io.Reader
	closers []io.Closer
}

func (p *pipelineReader) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipelineReader) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

package blob

import "io"

// Compressor is a streaming compression codec. Compress wraps a
// plaintext reader into one yielding compressed bytes; Decompress
// inverts a compressed stream.
type Compressor interface {
	// Type is the tag recorded in blob URIs for this codec.
	Type() string
	Compress(r io.Reader) io.Reader
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// Encryptor is a streaming encryption codec. Encryption is symmetric:
// the same key and IV invert the stream.
type Encryptor interface {
	// Type is the tag recorded in blob URIs for this codec.
	Type() string
	// IVSize is the required IV length in bytes.
	IVSize() int
	Encrypt(r io.Reader, key, iv []byte) (io.Reader, error)
	Decrypt(r io.Reader, key, iv []byte) (io.Reader, error)
}

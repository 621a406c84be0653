package mailstore

import (
	"bytes"
	"io"
	"os"

	"github.com/rbaliyan/mailstore/mime"
)

// PayloadSource yields independent readers over the same raw message
// bytes. The delivery agent opens the payload once per recipient, so a
// single-consume stream is not sufficient; buffer to memory or disk
// before constructing an Envelope.
type PayloadSource = mime.Source

// Envelope is one transport-level delivery unit: a sender, a recipient
// list, and the raw message bytes.
type Envelope struct {
	// Sender is the envelope sender address (MAIL FROM).
	Sender string

	// Recipients are the envelope recipient addresses (RCPT TO).
	Recipients []string

	// Size is the declared payload size in bytes. Zero or negative
	// means unknown; the agent then measures the payload itself.
	Size int64

	// Payload is the raw message. Must support repeated opens.
	Payload PayloadSource
}

// BytesPayload wraps an in-memory payload as a PayloadSource.
func BytesPayload(b []byte) PayloadSource {
	return bytesPayload(b)
}

type bytesPayload []byte

func (b bytesPayload) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// FilePayload exposes a spooled payload file as a PayloadSource.
// Each Open returns an independent reader over the file.
func FilePayload(path string) PayloadSource {
	return filePayload(path)
}

type filePayload string

func (f filePayload) Open() (io.ReadCloser, error) {
	return os.Open(string(f))
}

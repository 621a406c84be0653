package mime

import "io"

// Config controls parser strictness. The zero value is the lenient
// production posture: tolerate malformed addresses and header
// parameters the way real-world mail requires.
type Config struct {
	// StrictAddresses rejects messages whose address headers do not
	// parse. When false the raw header value is kept as a single
	// nameless address.
	StrictAddresses bool

	// StrictParameters rejects parts whose Content-Type or
	// Content-Disposition parameters do not parse. When false a part
	// with an unparsable Content-Type is treated as text/plain and an
	// unparsable disposition is treated as an attachment.
	StrictParameters bool
}

// DefaultConfig returns the lenient configuration used in production.
func DefaultConfig() Config {
	return Config{}
}

// Source is a payload that can be opened for reading any number of
// times. Parsing a message through a Source enables re-opening
// individual part streams later without buffering the whole payload.
type Source interface {
	Open() (io.ReadCloser, error)
}

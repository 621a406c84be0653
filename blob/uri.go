package blob

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the URI scheme for pipeline-managed blobs.
const Scheme = "blob"

// URI identifies a stored blob and records how it was transformed on
// write. The string form is blob://<profile>/<key> with query
// parameters c (compression codec), e (encryption codec) and
// k (encryption key alias), each present only when the corresponding
// transformation was applied.
type URI struct {
	// Profile names the storage backend holding the blob.
	Profile string
	// Key is the backend object key.
	Key string
	// Compression is the codec type tag, empty when stored uncompressed.
	Compression string
	// Encryption is the codec type tag, empty when stored in the clear.
	Encryption string
	// KeyAlias names the keyring entry used for encryption.
	KeyAlias string
}

func (u *URI) String() string {
	q := url.Values{}
	if u.Compression != "" {
		q.Set("c", u.Compression)
	}
	if u.Encryption != "" {
		q.Set("e", u.Encryption)
	}
	if u.KeyAlias != "" {
		q.Set("k", u.KeyAlias)
	}
	s := fmt.Sprintf("%s://%s/%s", Scheme, u.Profile, u.Key)
	if enc := q.Encode(); enc != "" {
		s += "?" + enc
	}
	return s
}

// ParseURI parses the string form produced by URI.String.
func ParseURI(s string) (*URI, error) {
	parsed, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse blob uri %q: %w", s, err)
	}
	if parsed.Scheme != Scheme {
		return nil, fmt.Errorf("parse blob uri %q: scheme is not %q", s, Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("parse blob uri %q: missing profile", s)
	}
	key := strings.TrimPrefix(parsed.Path, "/")
	if key == "" {
		return nil, fmt.Errorf("parse blob uri %q: missing key", s)
	}
	q := parsed.Query()
	return &URI{
		Profile:     parsed.Host,
		Key:         key,
		Compression: q.Get("c"),
		Encryption:  q.Get("e"),
		KeyAlias:    q.Get("k"),
	}, nil
}

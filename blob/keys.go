package blob

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Keyring holds named symmetric encryption keys. One key is current
// and used for new writes; older keys stay resolvable so blobs written
// under them remain readable after rotation.
type Keyring struct {
	keys    map[string][]byte
	current string
}

// NewKeyring creates a keyring. current must name an entry in keys and
// every key must be a valid AES key length (16, 24 or 32 bytes).
func NewKeyring(current string, keys map[string][]byte) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("blob: keyring is empty")
	}
	for alias, key := range keys {
		switch len(key) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("blob: key %q has invalid length %d", alias, len(key))
		}
	}
	if _, ok := keys[current]; !ok {
		return nil, fmt.Errorf("blob: current key %q not in keyring", current)
	}
	kr := &Keyring{keys: make(map[string][]byte, len(keys)), current: current}
	for alias, key := range keys {
		kr.keys[alias] = append([]byte(nil), key...)
	}
	return kr, nil
}

// Current returns the alias and key used for new writes.
func (k *Keyring) Current() (string, []byte) {
	return k.current, k.keys[k.current]
}

// Key returns the key for alias. Returns ErrUnknownKey if absent.
func (k *Keyring) Key(alias string) ([]byte, error) {
	key, ok := k.keys[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, alias)
	}
	return key, nil
}

// DeriveIV derives a deterministic per-blob IV of the given size from
// the encryption key and the blob's object key. Deriving the IV from
// the object key keeps reads stateless: nothing beyond the URI is
// needed to decrypt.
func DeriveIV(key []byte, blobKey string, size int) ([]byte, error) {
	r := hkdf.New(sha256.New, key, nil, []byte("blob-iv:"+blobKey))
	iv := make([]byte, size)
	if _, err := io.ReadFull(r, iv); err != nil {
		return nil, fmt.Errorf("blob: derive iv: %w", err)
	}
	return iv, nil
}

// Package resolver provides Resolver implementations.
package resolver

import (
	"context"
	"strings"

	"github.com/rbaliyan/mailstore"
)

// Static is a table-based mailstore.Resolver for testing and small
// deployments. Unknown recipients resolve to Reject. Safe for
// concurrent use (read-only after creation).
type Static struct {
	entries map[string]mailstore.Resolution
}

// NewStatic creates a Static resolver. Keys are recipient addresses;
// they are normalized the same way lookups are, so "Bob@Example.COM"
// and "bob@example.com" are one entry. The map is copied to prevent
// external mutation.
func NewStatic(entries map[string]mailstore.Resolution) *Static {
	m := make(map[string]mailstore.Resolution, len(entries))
	for addr, res := range entries {
		if res.Disposition == mailstore.Deliver && res.Mailbox.Address == "" {
			res.Mailbox.Address = Normalize(addr)
		}
		m[Normalize(addr)] = res
	}
	return &Static{entries: m}
}

// Resolve returns the configured resolution for a recipient address.
func (s *Static) Resolve(_ context.Context, recipient string) (mailstore.Resolution, error) {
	res, ok := s.entries[Normalize(recipient)]
	if !ok {
		return mailstore.Resolution{Disposition: mailstore.Reject}, nil
	}
	return res, nil
}

// Normalize derives the canonical mailbox form of a recipient address:
// angle brackets stripped, whitespace trimmed, lowercased.
func Normalize(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

package mailstore

import "context"

// Disposition is the per-recipient policy decision made before any
// storage is attempted.
type Disposition int

const (
	// Deliver stores the message in the resolved mailbox.
	Deliver Disposition = iota

	// Discard stores nothing and reports success. Used for
	// honeypot-style addresses and suppressed recipients.
	Discard

	// Defer reports a transient failure without attempting storage.
	Defer

	// Reject reports the recipient as unknown.
	Reject
)

func (d Disposition) String() string {
	switch d {
	case Deliver:
		return "deliver"
	case Discard:
		return "discard"
	case Defer:
		return "defer"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Quota limits a mailbox. Zero fields mean unlimited.
type Quota struct {
	MaxBytes    int64
	MaxMessages int64
}

// Mailbox is the storage scope a recipient address resolves to.
type Mailbox struct {
	// Address is the normalized account address. Storage keys and
	// counters are scoped by it.
	Address string

	// Quota limits the mailbox. The zero value is unlimited.
	Quota Quota
}

// Resolution is the outcome of resolving one recipient address.
// Mailbox is only meaningful when Disposition is Deliver.
type Resolution struct {
	Disposition Disposition
	Mailbox     Mailbox
}

// Resolver maps a recipient address to a mailbox and a delivery
// disposition. Implementations back onto account directories, LDAP, or
// static tables; the agent only requires this contract.
type Resolver interface {
	Resolve(ctx context.Context, recipient string) (Resolution, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, recipient string) (Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, recipient string) (Resolution, error) {
	return f(ctx, recipient)
}

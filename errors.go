package mailstore

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/mailstore/blob"
	"github.com/rbaliyan/mailstore/mime"
	"github.com/rbaliyan/mailstore/store"
)

// Sentinel errors for the mailstore package.
// Use errors.Is() to check for these errors.
//
// Errors wrap the corresponding subpackage errors where applicable, so
// errors.Is(mailstore.ErrParse, mime.ErrParse) holds and callers can
// match at either level.
var (
	// ErrParse is returned when the envelope payload cannot be parsed.
	// Wraps mime.ErrParse for consistent error checking.
	ErrParse = fmt.Errorf("mailstore: %w", mime.ErrParse)

	// ErrPartNotFound is returned when a part lookup misses.
	// Wraps mime.ErrPartNotFound for consistent error checking.
	ErrPartNotFound = fmt.Errorf("mailstore: %w", mime.ErrPartNotFound)

	// ErrOverQuota is returned when a delivery would exceed the
	// mailbox quota. Maps to the OVER_QUOTA reply code.
	ErrOverQuota = errors.New("mailstore: mailbox over quota")

	// ErrUnknownRecipient is returned when a recipient does not
	// resolve to a mailbox. Maps to the NO_SUCH_USER reply code.
	ErrUnknownRecipient = errors.New("mailstore: unknown recipient")

	// ErrSecurity is returned for key or cipher failures during blob
	// operations. Never retried.
	ErrSecurity = errors.New("mailstore: security failure")

	// ErrNotConnected is returned when Deliver is called before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("mailstore: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("mailstore: %w", store.ErrAlreadyConnected)

	// ErrPipelineRequired is returned when no blob pipeline is configured.
	ErrPipelineRequired = errors.New("mailstore: blob pipeline is required")

	// ErrMessageStoreRequired is returned when no message store is configured.
	ErrMessageStoreRequired = errors.New("mailstore: message store is required")

	// ErrCounterStoreRequired is returned when no counter store is
	// configured and the message store does not provide one.
	ErrCounterStoreRequired = errors.New("mailstore: counter store is required")

	// ErrResolverRequired is returned when no recipient resolver is configured.
	ErrResolverRequired = errors.New("mailstore: resolver is required")
)

// IsRetryableError determines if an error is retryable.
// Returns true for temporary/transient errors, false for permanent
// errors. Handles mailstore-level, store-level, and blob-level errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Permanent errors that should not be retried
	permanentErrors := []error{
		ErrParse,
		ErrPartNotFound,
		ErrOverQuota,
		ErrUnknownRecipient,
		ErrSecurity,
	}
	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	// Subpackage permanent errors, in case they bubble up unwrapped
	permanentErrors = []error{
		mime.ErrParse,
		mime.ErrPartNotFound,
		mime.ErrNoSource,
		store.ErrInvalidID,
		store.ErrDuplicateEntry,
		blob.ErrUnknownProfile,
		blob.ErrUnknownCodec,
		blob.ErrUnknownKey,
	}
	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	// Unknown errors default to retryable as they are likely
	// transient network or timeout failures.
	return true
}

package mailstore

import "errors"

// ReplyCode is the per-recipient delivery outcome reported back to the
// transport layer. The values are wire-stable; transports map them
// directly onto protocol reply lines.
type ReplyCode string

const (
	// ReplyOK indicates the message was stored (or intentionally discarded).
	ReplyOK ReplyCode = "OK"

	// ReplyTemporaryFailure indicates a transient failure; the sender
	// should retry later.
	ReplyTemporaryFailure ReplyCode = "TEMPORARY_FAILURE"

	// ReplyOverQuota indicates the recipient mailbox is over quota.
	ReplyOverQuota ReplyCode = "OVER_QUOTA"

	// ReplyNoSuchUser indicates the recipient does not exist.
	ReplyNoSuchUser ReplyCode = "NO_SUCH_USER"
)

// replyForError maps a per-recipient delivery error to its reply code.
// Unrecognized errors map to TEMPORARY_FAILURE so the sender retries.
func replyForError(err error) ReplyCode {
	switch {
	case err == nil:
		return ReplyOK
	case errors.Is(err, ErrOverQuota):
		return ReplyOverQuota
	case errors.Is(err, ErrUnknownRecipient):
		return ReplyNoSuchUser
	default:
		return ReplyTemporaryFailure
	}
}

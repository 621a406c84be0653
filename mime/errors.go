package mime

import "errors"

var (
	// ErrParse indicates the payload could not be parsed into a message.
	// Delivery of a payload that fails this way must be refused rather
	// than stored partially.
	ErrParse = errors.New("mime: malformed message")

	// ErrPartNotFound indicates a part lookup by ID or Content-ID did
	// not match any registered part.
	ErrPartNotFound = errors.New("mime: part not found")

	// ErrNoSource indicates a part content stream was requested on a
	// message parsed without a re-openable payload source.
	ErrNoSource = errors.New("mime: message has no reopenable source")
)

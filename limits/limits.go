// Package limits provides the centralized size and count limits for chat
// messages and history queries, so that composition, decoding and the store
// validate against the same numbers.
package limits

import (
	"github.com/pkg/errors"
)

const (
	// MaxBodySize is the largest message body accepted for composition or
	// decoding.
	MaxBodySize = 4096

	// MaxMetadataDataSize bounds the payload of a single metadata entry.
	MaxMetadataDataSize = 2048

	// DefaultMaxMetadataEntries is the metadata cap applied when the client is
	// not configured with its own.
	DefaultMaxMetadataEntries = 16

	// MaxMetadataEntries is the hard cap on metadata entries, for configured
	// caps and for decoded payloads alike.
	MaxMetadataEntries = 64

	// DefaultPageLimit is used for history queries that pass a zero limit.
	DefaultPageLimit = 35

	// MaxPageLimit is the largest page a history query can return.
	MaxPageLimit = 2500

	// MaxPayloadSize is the absolute maximum for an encoded payload handed to or
	// received from the network session.
	MaxPayloadSize = 64 * 1024
)

var (
	// ErrMessageEmpty indicates an empty body was provided.
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates a body or payload exceeds its maximum size.
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates data against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > maxSize {
		return errors.Wrapf(ErrMessageTooLarge, "size %d exceeds limit %d", len(data), maxSize)
	}
	return nil
}

// ValidateBody validates a message body against MaxBodySize.
func ValidateBody(body []byte) error {
	return ValidateMessageSize(body, MaxBodySize)
}

// ValidatePayload validates an encoded payload against MaxPayloadSize.
func ValidatePayload(payload []byte) error {
	return ValidateMessageSize(payload, MaxPayloadSize)
}

// ClampPageLimit maps a requested page size onto [1, MaxPageLimit], treating
// zero as DefaultPageLimit.
func ClampPageLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return limit
	}
}

package messaging

import "github.com/pkg/errors"

var (
	// ErrEmptyBody is returned when composing a message without a body.
	ErrEmptyBody = errors.New("message body is empty")

	// ErrBodyTooLarge is returned when a body exceeds limits.MaxBodySize.
	ErrBodyTooLarge = errors.New("message body too large")

	// ErrMetadataLimitExceeded is returned when an append would push the
	// metadata count past the configured cap.
	ErrMetadataLimitExceeded = errors.New("metadata limit exceeded")

	// ErrMetadataReadOnly is returned when attaching metadata to a message
	// that was already sent or was received from a peer.
	ErrMetadataReadOnly = errors.New("metadata is read-only for this message")

	// ErrInvalidMetadataType is returned for metadata types outside the known
	// set.
	ErrInvalidMetadataType = errors.New("invalid metadata type")

	// ErrNotAnInboundMessage is returned when a read confirmation is requested
	// for a message the local party sent.
	ErrNotAnInboundMessage = errors.New("not an inbound message")

	// ErrMalformedPayload is returned when a payload cannot be decoded.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrInvalidMessageID is returned for identifiers of the wrong length.
	ErrInvalidMessageID = errors.New("invalid message id")
)

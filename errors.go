package walletchat

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/messaging"
	"github.com/opd-ai/walletchat/store"
)

// Errors returned by the client. Each is matched with errors.Is.
var (
	ErrInvalidAddressFormat    = address.ErrInvalidAddressFormat
	ErrEmptyBody               = messaging.ErrEmptyBody
	ErrBodyTooLarge            = messaging.ErrBodyTooLarge
	ErrMetadataLimitExceeded   = messaging.ErrMetadataLimitExceeded
	ErrMetadataReadOnly        = messaging.ErrMetadataReadOnly
	ErrInvalidMetadataType     = messaging.ErrInvalidMetadataType
	ErrNotAnInboundMessage     = messaging.ErrNotAnInboundMessage
	ErrMalformedPayload        = messaging.ErrMalformedPayload
	ErrDuplicateMessage        = store.ErrDuplicateMessage
	ErrUnknownMessageReference = store.ErrUnknownMessageReference
	ErrStoreUnavailable        = store.ErrStoreUnavailable

	// ErrSendFailed is matched by every *SendError.
	ErrSendFailed = errors.New("send failed")

	// ErrAlreadySent is returned when Send is called twice for one message.
	ErrAlreadySent = errors.New("message already sent")

	// ErrClosed is returned by every command issued after Close.
	ErrClosed = errors.New("client closed")

	// ErrNilMessage is returned when a command is given a nil message.
	ErrNilMessage = errors.New("nil message")

	// ErrNilSession is returned by New without a session.
	ErrNilSession = errors.New("nil session")
)

// SendError reports a transport failure for one payload. The message it
// refers to stays in the history.
type SendError struct {
	MessageID messaging.MessageID
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed for message %s: %v", e.MessageID, e.Err)
}

// Unwrap returns the transport error.
func (e *SendError) Unwrap() error { return e.Err }

// Is makes every SendError match ErrSendFailed.
func (e *SendError) Is(target error) bool { return target == ErrSendFailed }

package messaging

import (
	"bytes"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/crypto"
	"github.com/opd-ai/walletchat/limits"
)

// MessageIDSize is the length of a message identifier.
const MessageIDSize = 16

// MessageID is a random, fixed-length message identifier.
type MessageID [MessageIDSize]byte

// NewMessageID returns a fresh random identifier.
func NewMessageID() (MessageID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return MessageID{}, errors.Wrap(err, "generate message id")
	}
	return MessageID(u), nil
}

// MessageIDFromBytes copies b into a MessageID.
func MessageIDFromBytes(b []byte) (MessageID, error) {
	if len(b) != MessageIDSize {
		return MessageID{}, errors.Wrapf(ErrInvalidMessageID, "expected %d bytes, got %d", MessageIDSize, len(b))
	}
	var id MessageID
	copy(id[:], b)
	return id, nil
}

// ParseMessageID decodes the hex form produced by String.
func ParseMessageID(s string) (MessageID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return MessageID{}, errors.Wrapf(ErrInvalidMessageID, "decode hex: %v", err)
	}
	return MessageIDFromBytes(b)
}

// Bytes returns a copy of the identifier bytes.
func (id MessageID) Bytes() []byte {
	out := make([]byte, MessageIDSize)
	copy(out, id[:])
	return out
}

// String returns the lowercase hex form.
func (id MessageID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is unset.
func (id MessageID) IsZero() bool { return id == MessageID{} }

// Direction tells whether the local party sent or received a message.
type Direction uint8

const (
	// Inbound messages were received from the conversation partner.
	Inbound Direction = iota + 1
	// Outbound messages were sent by the local party.
	Outbound
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state derived from a message's direction and
// confirmation timestamps.
type Status uint8

const (
	// StatusComposed is an outbound message that has not been sent yet.
	StatusComposed Status = iota
	// StatusSent is an outbound message with no confirmation.
	StatusSent
	// StatusDelivered has a delivery confirmation.
	StatusDelivered
	// StatusRead has a read confirmation.
	StatusRead
	// StatusReceived is an inbound message.
	StatusReceived
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusComposed:
		return "composed"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	case StatusReceived:
		return "received"
	default:
		return "unknown"
	}
}

// Message is a chat message exchanged with one conversation partner.
//
// Confirmation timestamps and the stored time have no setters: they are only
// changed through ApplyConfirmation, which enforces the monotonic lifecycle.
type Message struct {
	id            MessageID
	address       address.Address
	body          []byte
	direction     Direction
	metadata      []Metadata
	storedAt      time.Time
	deliveredAt   time.Time
	readAt        time.Time
	metadataLimit int
	sealed        bool
}

// ComposeOption customizes Compose.
type ComposeOption func(*composeConfig)

type composeConfig struct {
	metadataLimit int
	timeProvider  crypto.TimeProvider
}

// WithMetadataLimit sets the metadata cap for the composed message. Values
// outside [0, limits.MaxMetadataEntries] fall back to the default cap.
func WithMetadataLimit(n int) ComposeOption {
	return func(c *composeConfig) {
		if n >= 0 && n <= limits.MaxMetadataEntries {
			c.metadataLimit = n
		}
	}
}

// WithTimeProvider sets the clock used for the stored time.
func WithTimeProvider(tp crypto.TimeProvider) ComposeOption {
	return func(c *composeConfig) {
		c.timeProvider = crypto.OrDefault(tp)
	}
}

// Compose creates an outbound message addressed to to. The body is copied.
func Compose(to address.Address, body []byte, opts ...ComposeOption) (*Message, error) {
	cfg := composeConfig{
		metadataLimit: limits.DefaultMaxMetadataEntries,
		timeProvider:  crypto.DefaultTimeProvider{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := validateBody(body); err != nil {
		return nil, err
	}

	id, err := NewMessageID()
	if err != nil {
		return nil, err
	}

	msg := &Message{
		id:            id,
		address:       to,
		body:          bytes.Clone(body),
		direction:     Outbound,
		storedAt:      crypto.Millis(cfg.timeProvider.Now()),
		metadataLimit: cfg.metadataLimit,
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Compose",
		"message_id": msg.id.String(),
		"address":    to.Short(),
		"body_size":  len(body),
	}).Debug("Composed outbound message")

	return msg, nil
}

// NewInbound builds a received message. It is sealed: no metadata can be
// attached afterwards.
func NewInbound(id MessageID, from address.Address, body []byte, metadata []Metadata, storedAt time.Time) (*Message, error) {
	if id.IsZero() {
		return nil, errors.Wrap(ErrInvalidMessageID, "inbound message without id")
	}
	if err := validateBody(body); err != nil {
		return nil, err
	}
	if len(metadata) > limits.MaxMetadataEntries {
		return nil, errors.Wrapf(ErrMetadataLimitExceeded, "%d entries", len(metadata))
	}
	for _, md := range metadata {
		if !md.Type.Valid() {
			return nil, errors.Wrapf(ErrInvalidMetadataType, "type %d", md.Type)
		}
	}

	return &Message{
		id:            id,
		address:       from,
		body:          bytes.Clone(body),
		direction:     Inbound,
		metadata:      cloneMetadata(metadata),
		storedAt:      crypto.Millis(storedAt),
		metadataLimit: limits.MaxMetadataEntries,
		sealed:        true,
	}, nil
}

func validateBody(body []byte) error {
	switch err := limits.ValidateBody(body); {
	case err == nil:
		return nil
	case errors.Is(err, limits.ErrMessageEmpty):
		return ErrEmptyBody
	default:
		return errors.Wrap(ErrBodyTooLarge, err.Error())
	}
}

// AttachMetadata appends a metadata entry. Duplicates are allowed. The data is
// copied.
func (m *Message) AttachMetadata(t MetadataType, data []byte) error {
	if m.direction != Outbound || m.sealed {
		return ErrMetadataReadOnly
	}
	if !t.Valid() {
		return errors.Wrapf(ErrInvalidMetadataType, "type %d", t)
	}
	if len(data) > limits.MaxMetadataDataSize {
		return errors.Wrapf(ErrBodyTooLarge, "metadata data size %d exceeds limit %d", len(data), limits.MaxMetadataDataSize)
	}
	if len(m.metadata) >= m.metadataLimit {
		return errors.Wrapf(ErrMetadataLimitExceeded, "limit %d", m.metadataLimit)
	}

	m.metadata = append(m.metadata, Metadata{Type: t, Data: bytes.Clone(data)})
	return nil
}

// Seal freezes the metadata list. The client seals a message when it sends it.
func (m *Message) Seal() { m.sealed = true }

// Sealed reports whether the message was sent or received.
func (m *Message) Sealed() bool { return m.sealed }

// ID returns the message identifier.
func (m *Message) ID() MessageID { return m.id }

// Address returns the conversation partner.
func (m *Message) Address() address.Address { return m.address }

// Body returns a copy of the body.
func (m *Message) Body() []byte { return bytes.Clone(m.body) }

// Text returns the body as a string.
func (m *Message) Text() string { return string(m.body) }

// Direction returns whether the message was sent or received.
func (m *Message) Direction() Direction { return m.direction }

// Metadata returns a copy of the metadata entries in insertion order.
func (m *Message) Metadata() []Metadata { return cloneMetadata(m.metadata) }

// MetadataLen returns the number of metadata entries.
func (m *Message) MetadataLen() int { return len(m.metadata) }

// StoredAt returns the creation time.
func (m *Message) StoredAt() time.Time { return m.storedAt }

// DeliveredAt returns the delivery confirmation time and whether it is set.
func (m *Message) DeliveredAt() (time.Time, bool) {
	return m.deliveredAt, !m.deliveredAt.IsZero()
}

// ReadAt returns the read confirmation time and whether it is set.
func (m *Message) ReadAt() (time.Time, bool) {
	return m.readAt, !m.readAt.IsZero()
}

// Status derives the lifecycle state.
func (m *Message) Status() Status {
	switch {
	case m.direction == Inbound && m.readAt.IsZero():
		return StatusReceived
	case !m.readAt.IsZero():
		return StatusRead
	case !m.deliveredAt.IsZero():
		return StatusDelivered
	case m.sealed:
		return StatusSent
	default:
		return StatusComposed
	}
}

// Clone returns a deep copy that shares no memory with m.
func (m *Message) Clone() Message {
	c := *m
	c.body = bytes.Clone(m.body)
	c.metadata = cloneMetadata(m.metadata)
	return c
}

package messaging

import (
	"bytes"
	"time"

	"github.com/pkg/errors"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/crypto"
	"github.com/opd-ai/walletchat/limits"
)

// ConfirmationKind distinguishes delivery from read acknowledgements.
type ConfirmationKind uint8

const (
	// ConfirmationDelivery acknowledges that the peer received a message.
	ConfirmationDelivery ConfirmationKind = iota + 1
	// ConfirmationRead acknowledges that the peer read a message.
	ConfirmationRead
)

// String returns the kind name.
func (k ConfirmationKind) String() string {
	switch k {
	case ConfirmationDelivery:
		return "delivery"
	case ConfirmationRead:
		return "read"
	default:
		return "unknown"
	}
}

// Confirmation references a message and the time of the acknowledged event.
type Confirmation struct {
	MessageID MessageID
	Timestamp time.Time
}

// ApplyConfirmation advances the lifecycle and reports whether anything
// changed.
//
// Timestamps are clamped so that stored <= delivered <= read always holds.
// A kind whose timestamp is already set is a no-op. A read arriving before
// any delivery sets both timestamps to the read time.
func (m *Message) ApplyConfirmation(kind ConfirmationKind, ts time.Time) bool {
	ts = crypto.Millis(ts)
	if ts.Before(m.storedAt) {
		ts = m.storedAt
	}

	switch kind {
	case ConfirmationDelivery:
		if !m.deliveredAt.IsZero() {
			return false
		}
		m.deliveredAt = ts
		return true

	case ConfirmationRead:
		if !m.readAt.IsZero() {
			return false
		}
		if m.deliveredAt.IsZero() {
			m.deliveredAt = ts
		} else if ts.Before(m.deliveredAt) {
			ts = m.deliveredAt
		}
		m.readAt = ts
		return true

	default:
		return false
	}
}

// Record is the flat form of a message used by persistence backends.
type Record struct {
	ID          MessageID
	Address     []byte
	Body        []byte
	Direction   Direction
	Metadata    []Metadata
	StoredAt    time.Time
	DeliveredAt time.Time
	ReadAt      time.Time
	Sealed      bool
}

// Record flattens the message. Unset confirmation times are zero.
func (m *Message) Record() Record {
	return Record{
		ID:          m.id,
		Address:     m.address.Bytes(),
		Body:        m.Body(),
		Direction:   m.direction,
		Metadata:    m.Metadata(),
		StoredAt:    m.storedAt,
		DeliveredAt: m.deliveredAt,
		ReadAt:      m.readAt,
		Sealed:      m.sealed,
	}
}

// FromRecord rebuilds a message loaded from a persistence backend.
func FromRecord(r Record) (*Message, error) {
	if r.ID.IsZero() {
		return nil, ErrInvalidMessageID
	}
	addr, err := address.FromBytes(r.Address)
	if err != nil {
		return nil, err
	}
	if r.Direction != Inbound && r.Direction != Outbound {
		return nil, errors.Errorf("invalid direction %d", r.Direction)
	}
	return &Message{
		id:            r.ID,
		address:       addr,
		body:          bytes.Clone(r.Body),
		direction:     r.Direction,
		metadata:      cloneMetadata(r.Metadata),
		storedAt:      crypto.Millis(r.StoredAt),
		deliveredAt:   crypto.Millis(r.DeliveredAt),
		readAt:        crypto.Millis(r.ReadAt),
		metadataLimit: limits.MaxMetadataEntries,
		sealed:        r.Sealed || r.Direction == Inbound,
	}, nil
}

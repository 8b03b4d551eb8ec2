package messaging

import (
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/opd-ai/walletchat/crypto"
	"github.com/opd-ai/walletchat/limits"
)

// Payload layout, protobuf wire format:
//
//	1 kind       varint  1 message, 2 delivery, 3 read
//	2 message_id bytes   16 bytes
//	3 body       bytes   message only
//	4 metadata   bytes   repeated, embedded {1 type varint, 2 data bytes}
//	5 timestamp  varint  unix milliseconds
//
// Metadata types are encoded 0 reply, 1 token request, 2 gif, 3 link.
// Unknown fields are skipped.
const (
	fieldKind      protowire.Number = 1
	fieldMessageID protowire.Number = 2
	fieldBody      protowire.Number = 3
	fieldMetadata  protowire.Number = 4
	fieldTimestamp protowire.Number = 5

	fieldMetadataType protowire.Number = 1
	fieldMetadataData protowire.Number = 2
)

// PayloadKind tells what an envelope carries.
type PayloadKind uint8

const (
	// PayloadMessage carries a chat message.
	PayloadMessage PayloadKind = iota + 1
	// PayloadDelivery carries a delivery confirmation.
	PayloadDelivery
	// PayloadRead carries a read confirmation.
	PayloadRead
)

// String returns the kind name.
func (k PayloadKind) String() string {
	switch k {
	case PayloadMessage:
		return "message"
	case PayloadDelivery:
		return "delivery"
	case PayloadRead:
		return "read"
	default:
		return "unknown"
	}
}

// ConfirmationKind maps a confirmation payload to its kind.
func (k PayloadKind) ConfirmationKind() (ConfirmationKind, bool) {
	switch k {
	case PayloadDelivery:
		return ConfirmationDelivery, true
	case PayloadRead:
		return ConfirmationRead, true
	default:
		return 0, false
	}
}

// Envelope is a decoded payload.
type Envelope struct {
	Kind      PayloadKind
	MessageID MessageID
	Body      []byte
	Metadata  []Metadata
	Timestamp time.Time
}

// Confirmation returns the confirmation carried by a delivery or read
// envelope.
func (e Envelope) Confirmation() Confirmation {
	return Confirmation{MessageID: e.MessageID, Timestamp: e.Timestamp}
}

// EncodeMessage serializes an outbound message for transmission.
func EncodeMessage(m *Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(PayloadMessage))
	b = protowire.AppendTag(b, fieldMessageID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.id[:])
	b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
	b = protowire.AppendBytes(b, m.body)
	for _, md := range m.metadata {
		b = protowire.AppendTag(b, fieldMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeMetadata(md))
	}
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.storedAt.UnixMilli()))
	return b
}

// EncodeConfirmation serializes a delivery or read acknowledgement.
func EncodeConfirmation(kind ConfirmationKind, c Confirmation) ([]byte, error) {
	var pk PayloadKind
	switch kind {
	case ConfirmationDelivery:
		pk = PayloadDelivery
	case ConfirmationRead:
		pk = PayloadRead
	default:
		return nil, errors.Errorf("unknown confirmation kind %d", kind)
	}

	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(pk))
	b = protowire.AppendTag(b, fieldMessageID, protowire.BytesType)
	b = protowire.AppendBytes(b, c.MessageID[:])
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Timestamp.UnixMilli()))
	return b, nil
}

func encodeMetadata(md Metadata) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMetadataType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(md.Type-1))
	b = protowire.AppendTag(b, fieldMetadataData, protowire.BytesType)
	b = protowire.AppendBytes(b, md.Data)
	return b
}

// DecodePayload parses a payload received from the network. Every failure
// matches ErrMalformedPayload.
func DecodePayload(payload []byte) (Envelope, error) {
	if err := limits.ValidatePayload(payload); err != nil {
		return Envelope{}, errors.Wrap(ErrMalformedPayload, err.Error())
	}

	var (
		env     Envelope
		haveID  bool
		haveTS  bool
		rawBody []byte
	)
	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, malformed(protowire.ParseError(n), "tag")
		}
		b = b[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Envelope{}, malformed(protowire.ParseError(n), "kind")
			}
			if v < uint64(PayloadMessage) || v > uint64(PayloadRead) {
				return Envelope{}, errors.Wrapf(ErrMalformedPayload, "unknown kind %d", v)
			}
			env.Kind = PayloadKind(v)
			b = b[n:]

		case num == fieldMessageID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, malformed(protowire.ParseError(n), "message id")
			}
			id, err := MessageIDFromBytes(v)
			if err != nil {
				return Envelope{}, malformed(err, "message id")
			}
			env.MessageID = id
			haveID = true
			b = b[n:]

		case num == fieldBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, malformed(protowire.ParseError(n), "body")
			}
			rawBody = v
			b = b[n:]

		case num == fieldMetadata && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, malformed(protowire.ParseError(n), "metadata")
			}
			if len(env.Metadata) >= limits.MaxMetadataEntries {
				return Envelope{}, errors.Wrapf(ErrMalformedPayload, "more than %d metadata entries", limits.MaxMetadataEntries)
			}
			md, err := decodeMetadata(v)
			if err != nil {
				return Envelope{}, err
			}
			env.Metadata = append(env.Metadata, md)
			b = b[n:]

		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Envelope{}, malformed(protowire.ParseError(n), "timestamp")
			}
			env.Timestamp = crypto.Millis(time.UnixMilli(int64(v)))
			haveTS = true
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Envelope{}, malformed(protowire.ParseError(n), "unknown field")
			}
			b = b[n:]
		}
	}

	switch {
	case env.Kind == 0:
		return Envelope{}, errors.Wrap(ErrMalformedPayload, "missing kind")
	case !haveID:
		return Envelope{}, errors.Wrap(ErrMalformedPayload, "missing message id")
	case !haveTS:
		return Envelope{}, errors.Wrap(ErrMalformedPayload, "missing timestamp")
	}

	if env.Kind == PayloadMessage {
		if err := limits.ValidateBody(rawBody); err != nil {
			return Envelope{}, malformed(err, "body")
		}
		env.Body = append([]byte(nil), rawBody...)
	} else {
		env.Metadata = nil
	}
	return env, nil
}

func decodeMetadata(b []byte) (Metadata, error) {
	var (
		md       Metadata
		haveType bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Metadata{}, malformed(protowire.ParseError(n), "metadata tag")
		}
		b = b[n:]

		switch {
		case num == fieldMetadataType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Metadata{}, malformed(protowire.ParseError(n), "metadata type")
			}
			if v > uint64(MetadataLink-1) {
				return Metadata{}, errors.Wrapf(ErrMalformedPayload, "unknown metadata type %d", v)
			}
			md.Type = MetadataType(v + 1)
			haveType = true
			b = b[n:]

		case num == fieldMetadataData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Metadata{}, malformed(protowire.ParseError(n), "metadata data")
			}
			if len(v) > limits.MaxMetadataDataSize {
				return Metadata{}, errors.Wrapf(ErrMalformedPayload, "metadata data size %d", len(v))
			}
			md.Data = append([]byte(nil), v...)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Metadata{}, malformed(protowire.ParseError(n), "metadata field")
			}
			b = b[n:]
		}
	}
	if !haveType {
		return Metadata{}, errors.Wrap(ErrMalformedPayload, "metadata without type")
	}
	return md, nil
}

func malformed(err error, what string) error {
	return errors.Wrapf(ErrMalformedPayload, "%s: %v", what, err)
}

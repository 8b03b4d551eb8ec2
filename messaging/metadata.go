package messaging

import "bytes"

// MetadataType identifies what a metadata entry's data means.
type MetadataType uint8

const (
	// MetadataReply carries the id of the message being replied to.
	MetadataReply MetadataType = iota + 1
	// MetadataTokenRequest carries a payment request.
	MetadataTokenRequest
	// MetadataGif carries a gif reference.
	MetadataGif
	// MetadataLink carries a link attachment.
	MetadataLink
)

// String returns the metadata type name.
func (t MetadataType) String() string {
	switch t {
	case MetadataReply:
		return "reply"
	case MetadataTokenRequest:
		return "token_request"
	case MetadataGif:
		return "gif"
	case MetadataLink:
		return "link"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a known metadata type.
func (t MetadataType) Valid() bool {
	return t >= MetadataReply && t <= MetadataLink
}

// Metadata is a typed side-channel entry attached to a message.
type Metadata struct {
	Type MetadataType
	Data []byte
}

// Clone returns a deep copy.
func (md Metadata) Clone() Metadata {
	return Metadata{Type: md.Type, Data: bytes.Clone(md.Data)}
}

func cloneMetadata(in []Metadata) []Metadata {
	if len(in) == 0 {
		return nil
	}
	out := make([]Metadata, len(in))
	for i, md := range in {
		out[i] = md.Clone()
	}
	return out
}

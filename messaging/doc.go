// Package messaging defines the chat message lifecycle values: messages,
// their typed metadata, delivery and read confirmations, and the payload codec
// used to hand them to the network session.
//
// # Lifecycle
//
// An outbound message is composed locally, may have metadata attached while
// it is still being composed, and is sealed when the client sends it:
//
//	msg, err := messaging.Compose(to, []byte("hello"))
//	if err != nil {
//	    return err
//	}
//	if err := msg.AttachMetadata(messaging.MetadataLink, []byte("https://example.org")); err != nil {
//	    return err
//	}
//
// Confirmations move a message through Sent, Delivered and Read. Transitions
// are monotonic: a timestamp is set at most once, a read confirmation that
// arrives before the delivery confirmation sets both, and every timestamp is
// clamped so that stored <= delivered <= read.
//
// Inbound messages are created by decoding a payload received from a peer and
// start in the Received state.
//
// # Wire values
//
// Direction, metadata type and payload kind are typed constants inside the
// package. Their integer encodings exist only in codec.go.
//
// # Thread Safety
//
// Message is a plain value with no internal locking. The store guards the
// instances it owns; callers always receive copies.
package messaging

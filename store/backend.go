package store

import (
	"context"
	"time"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/liveness"
	"github.com/opd-ai/walletchat/messaging"
)

// Backend persists conversation history and the contact list.
//
// Implementations must be safe for concurrent use. LoadMessages returns
// records in insertion order; the store re-sorts them by stored time.
type Backend interface {
	SaveMessage(ctx context.Context, rec messaging.Record) error
	UpdateConfirmations(ctx context.Context, id messaging.MessageID, deliveredAt, readAt time.Time) error
	LoadMessages(ctx context.Context) ([]messaging.Record, error)

	SaveContact(ctx context.Context, contact liveness.Data) error
	RemoveContact(ctx context.Context, addr address.Address) error
	LoadContacts(ctx context.Context) ([]liveness.Data, error)

	Close() error
}

// Package store keeps per-contact conversation history with a global message
// id index, optionally mirrored to a durable Backend.
//
// Conversations are ordered by stored time, ties broken by insertion order.
// A message is persisted and inserted under its conversation's lock, so the
// backend sees ties in the same order. A global lock guards the conversation map and the id index; each
// conversation has its own lock, so reading one conversation never waits on a
// write to another.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/limits"
	"github.com/opd-ai/walletchat/liveness"
	"github.com/opd-ai/walletchat/messaging"
)

var (
	// ErrDuplicateMessage is returned when appending an id that is already
	// stored.
	ErrDuplicateMessage = errors.New("duplicate message id")

	// ErrUnknownMessageReference is returned for confirmations that reference
	// an id the store does not hold.
	ErrUnknownMessageReference = errors.New("unknown message reference")

	// ErrStoreUnavailable is returned when the backend rejects a write. The
	// in-memory state is left unchanged.
	ErrStoreUnavailable = errors.New("message store unavailable")
)

type conversation struct {
	mu       sync.RWMutex
	messages []*messaging.Message
	byID     map[messaging.MessageID]*messaging.Message
}

func newConversation() *conversation {
	return &conversation{byID: make(map[messaging.MessageID]*messaging.Message)}
}

// insert places m after every message stored at or before it. In-order
// arrival is an append.
func (c *conversation) insert(m *messaging.Message) {
	c.byID[m.ID()] = m

	n := len(c.messages)
	if n == 0 || !c.messages[n-1].StoredAt().After(m.StoredAt()) {
		c.messages = append(c.messages, m)
		return
	}
	i := sort.Search(n, func(i int) bool {
		return c.messages[i].StoredAt().After(m.StoredAt())
	})
	c.messages = append(c.messages, nil)
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = m
}

// Conversation summarizes one contact's history.
type Conversation struct {
	Address      address.Address
	LastActivity time.Time
	Messages     int
}

// Store is the in-memory message history. The zero value is not usable; call
// New.
type Store struct {
	mu            sync.RWMutex
	conversations map[address.Address]*conversation
	index         map[messaging.MessageID]address.Address

	backend Backend
}

// New creates an empty store. A nil backend keeps history in memory only.
func New(backend Backend) *Store {
	return &Store{
		conversations: make(map[address.Address]*conversation),
		index:         make(map[messaging.MessageID]address.Address),
		backend:       backend,
	}
}

// Persistent reports whether the store has a durable backend.
func (s *Store) Persistent() bool { return s.backend != nil }

// Append stores a copy of msg under its address. The global lock is never
// acquired while a conversation lock is held.
func (s *Store) Append(ctx context.Context, msg *messaging.Message) error {
	owned := msg.Clone()
	m := &owned
	id := m.ID()

	s.mu.Lock()
	if _, exists := s.index[id]; exists {
		s.mu.Unlock()
		return errors.Wrapf(ErrDuplicateMessage, "message %s", id)
	}
	s.index[id] = m.Address()
	conv, ok := s.conversations[m.Address()]
	if !ok {
		conv = newConversation()
		s.conversations[m.Address()] = conv
	}
	s.mu.Unlock()

	conv.mu.Lock()
	if s.backend != nil {
		if err := s.backend.SaveMessage(ctx, m.Record()); err != nil {
			conv.mu.Unlock()
			s.mu.Lock()
			delete(s.index, id)
			s.mu.Unlock()

			logrus.WithFields(logrus.Fields{
				"function":   "Append",
				"message_id": id.String(),
				"address":    m.Address().Short(),
				"error":      err.Error(),
			}).Error("Failed to persist message")
			return errors.Wrapf(ErrStoreUnavailable, "save message %s: %v", id, err)
		}
	}
	conv.insert(m)
	conv.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Append",
		"message_id": id.String(),
		"address":    m.Address().Short(),
		"direction":  m.Direction().String(),
	}).Debug("Message stored")
	return nil
}

func (s *Store) lookup(id messaging.MessageID) (*conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addr, ok := s.index[id]
	if !ok {
		return nil, false
	}
	conv, ok := s.conversations[addr]
	return conv, ok
}

// Get returns a snapshot of the message with the given id.
func (s *Store) Get(id messaging.MessageID) (messaging.Message, bool) {
	conv, ok := s.lookup(id)
	if !ok {
		return messaging.Message{}, false
	}

	conv.mu.RLock()
	defer conv.mu.RUnlock()

	m, ok := conv.byID[id]
	if !ok {
		return messaging.Message{}, false
	}
	return m.Clone(), true
}

// ApplyConfirmation records a delivery or read event for the referenced
// message. It returns the resulting snapshot and whether anything changed; a
// confirmation whose timestamp is already set reports false without error.
func (s *Store) ApplyConfirmation(ctx context.Context, c messaging.Confirmation, kind messaging.ConfirmationKind) (messaging.Message, bool, error) {
	conv, ok := s.lookup(c.MessageID)
	if !ok {
		return messaging.Message{}, false, errors.Wrapf(ErrUnknownMessageReference, "message %s", c.MessageID)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	m, ok := conv.byID[c.MessageID]
	if !ok {
		return messaging.Message{}, false, errors.Wrapf(ErrUnknownMessageReference, "message %s", c.MessageID)
	}

	next := m.Clone()
	if !next.ApplyConfirmation(kind, c.Timestamp) {
		return next, false, nil
	}

	if s.backend != nil {
		deliveredAt, _ := next.DeliveredAt()
		readAt, _ := next.ReadAt()
		if err := s.backend.UpdateConfirmations(ctx, c.MessageID, deliveredAt, readAt); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "ApplyConfirmation",
				"message_id": c.MessageID.String(),
				"kind":       kind.String(),
				"error":      err.Error(),
			}).Error("Failed to persist confirmation")
			return m.Clone(), false, errors.Wrapf(ErrStoreUnavailable, "update message %s: %v", c.MessageID, err)
		}
	}

	*m = next
	return next.Clone(), true, nil
}

// Page returns up to limit messages exchanged with addr, newest first,
// skipping page*limit newer ones. A zero limit selects
// limits.DefaultPageLimit and larger limits are clamped to
// limits.MaxPageLimit. Pages past the end are empty.
func (s *Store) Page(addr address.Address, limit, page int) []messaging.Message {
	s.mu.RLock()
	conv, ok := s.conversations[addr]
	s.mu.RUnlock()
	if !ok || page < 0 {
		return []messaging.Message{}
	}

	limit = limits.ClampPageLimit(limit)

	conv.mu.RLock()
	defer conv.mu.RUnlock()

	n := len(conv.messages)
	skip := page * limit
	if page > 0 && skip/page != limit || skip >= n {
		return []messaging.Message{}
	}

	end := n - skip
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]messaging.Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, conv.messages[i].Clone())
	}
	return out
}

// Count returns the number of messages exchanged with addr.
func (s *Store) Count(addr address.Address) int {
	s.mu.RLock()
	conv, ok := s.conversations[addr]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	conv.mu.RLock()
	defer conv.mu.RUnlock()
	return len(conv.messages)
}

// Len returns the total number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Conversations lists every address with at least one message, in no
// particular order.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	convs := make(map[address.Address]*conversation, len(s.conversations))
	for addr, conv := range s.conversations {
		convs[addr] = conv
	}
	s.mu.RUnlock()

	out := make([]Conversation, 0, len(convs))
	for addr, conv := range convs {
		conv.mu.RLock()
		n := len(conv.messages)
		var last time.Time
		if n > 0 {
			last = conv.messages[n-1].StoredAt()
		}
		conv.mu.RUnlock()

		if n == 0 {
			continue
		}
		out = append(out, Conversation{Address: addr, LastActivity: last, Messages: n})
	}
	return out
}

// Load replaces the in-memory history with the backend's contents.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	records, err := s.backend.LoadMessages(ctx)
	if err != nil {
		return errors.Wrapf(ErrStoreUnavailable, "load messages: %v", err)
	}

	conversations := make(map[address.Address]*conversation)
	index := make(map[messaging.MessageID]address.Address, len(records))
	skipped := 0
	for _, rec := range records {
		m, err := messaging.FromRecord(rec)
		if err != nil {
			skipped++
			logrus.WithFields(logrus.Fields{
				"function":   "Load",
				"message_id": rec.ID.String(),
				"error":      err.Error(),
			}).Warn("Skipping unreadable persisted message")
			continue
		}
		if _, dup := index[m.ID()]; dup {
			skipped++
			continue
		}
		index[m.ID()] = m.Address()
		conv, ok := conversations[m.Address()]
		if !ok {
			conv = newConversation()
			conversations[m.Address()] = conv
		}
		conv.insert(m)
	}

	s.mu.Lock()
	s.conversations = conversations
	s.index = index
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":      "Load",
		"messages":      len(index),
		"conversations": len(conversations),
		"skipped":       skipped,
	}).Info("Message history loaded")
	return nil
}

// SaveContact persists a contact record. It is a no-op without a backend.
func (s *Store) SaveContact(ctx context.Context, contact liveness.Data) error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.SaveContact(ctx, contact); err != nil {
		return errors.Wrapf(ErrStoreUnavailable, "save contact %s: %v", contact.Address.Short(), err)
	}
	return nil
}

// RemoveContact deletes a persisted contact record.
func (s *Store) RemoveContact(ctx context.Context, addr address.Address) error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.RemoveContact(ctx, addr); err != nil {
		return errors.Wrapf(ErrStoreUnavailable, "remove contact %s: %v", addr.Short(), err)
	}
	return nil
}

// Contacts returns the persisted contact records.
func (s *Store) Contacts(ctx context.Context) ([]liveness.Data, error) {
	if s.backend == nil {
		return nil, nil
	}
	contacts, err := s.backend.LoadContacts(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrStoreUnavailable, "load contacts: %v", err)
	}
	return contacts, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

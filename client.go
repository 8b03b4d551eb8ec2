package walletchat

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/crypto"
	"github.com/opd-ai/walletchat/interfaces"
	"github.com/opd-ai/walletchat/limits"
	"github.com/opd-ai/walletchat/liveness"
	"github.com/opd-ai/walletchat/messaging"
	"github.com/opd-ai/walletchat/store"
)

// Client is a chat participant bound to one network session.
//
// All methods are safe for concurrent use. Inbound events are processed on a
// single goroutine in arrival order; callbacks run on another.
type Client struct {
	options      Options
	session      interfaces.Session
	store        *store.Store
	tracker      *liveness.Tracker
	limiter      *rate.Limiter
	metrics      *metrics
	timeProvider crypto.TimeProvider
	local        address.Address

	ctx        context.Context
	cancel     context.CancelFunc
	group      *errgroup.Group
	dispatcher *dispatcher
	closed     atomic.Bool
	closeOnce  sync.Once
	closeErr   error

	// statusMu orders contact status commits with their notifications.
	statusMu sync.Mutex

	callbackMu              sync.RWMutex
	contactStatusCallback   ContactStatusCallback
	messageReceivedCallback MessageReceivedCallback
	deliveryCallback        ConfirmationCallback
	readCallback            ConfirmationCallback
	diagnosticCallback      DiagnosticCallback
}

// New creates a client on session. It loads persisted history and contacts,
// starts the session (blocking until it is ready or ctx ends), then begins
// processing inbound events.
func New(ctx context.Context, options *Options, session interfaces.Session) (*Client, error) {
	if session == nil {
		return nil, ErrNilSession
	}
	opts := options.normalized()

	backend := opts.Backend
	if backend == nil && opts.DataDir != "" {
		b, path, err := store.OpenDir(opts.DataDir)
		if err != nil {
			return nil, errors.Wrapf(ErrStoreUnavailable, "open %s: %v", opts.DataDir, err)
		}
		backend = b
		logrus.WithFields(logrus.Fields{
			"function": "New",
			"path":     path,
		}).Info("Opened chat database")
	}

	st := store.New(backend)
	tracker := liveness.NewTracker(opts.TimeProvider)
	if err := restore(ctx, st, tracker); err != nil {
		st.Close()
		return nil, err
	}

	m, err := newMetrics(opts.Registerer)
	if err != nil {
		st.Close()
		return nil, err
	}

	if err := session.Start(ctx, opts.Transport); err != nil {
		st.Close()
		return nil, errors.Wrap(err, "start session")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(runCtx)

	c := &Client{
		options:      opts,
		session:      session,
		store:        st,
		tracker:      tracker,
		limiter:      rate.NewLimiter(opts.SendRateLimit, opts.SendBurst),
		metrics:      m,
		timeProvider: opts.TimeProvider,
		local:        session.LocalAddress(),
		ctx:          groupCtx,
		cancel:       cancel,
		group:        group,
		dispatcher:   newDispatcher(),
	}

	if watcher, ok := session.(interfaces.ContactWatcher); ok {
		for _, d := range tracker.All() {
			if err := watcher.Watch(d.Address); err != nil {
				logWatchFailure("New", d.Address, err)
			}
		}
	}

	group.Go(func() error { return c.dispatcher.run(groupCtx) })
	group.Go(func() error { return c.inboundLoop(groupCtx) })

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"address":    c.local.Short(),
		"messages":   st.Len(),
		"contacts":   tracker.Len(),
		"persistent": st.Persistent(),
	}).Info("Chat client started")

	return c, nil
}

func restore(ctx context.Context, st *store.Store, tracker *liveness.Tracker) error {
	if err := st.Load(ctx); err != nil {
		return err
	}
	contacts, err := st.Contacts(ctx)
	if err != nil {
		return err
	}
	for _, d := range contacts {
		tracker.Restore(d)
	}
	return nil
}

func (c *Client) now() time.Time {
	return crypto.Millis(c.timeProvider.Now())
}

func (c *Client) checkOpen() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// LocalAddress returns the address of this client's session.
func (c *Client) LocalAddress() address.Address { return c.local }

// Compose creates an outbound message with the client's metadata limit and
// clock. Nothing is stored until Send.
func (c *Client) Compose(to address.Address, body []byte) (*messaging.Message, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if to.IsZero() {
		return nil, errors.Wrap(ErrInvalidAddressFormat, "zero address")
	}
	return messaging.Compose(to, body,
		messaging.WithMetadataLimit(c.options.MetadataLimit),
		messaging.WithTimeProvider(c.timeProvider),
	)
}

// Send stores msg in its conversation and transmits it. msg is sealed on
// success and on transport failure; a transport failure returns a *SendError
// and the stored entry is kept. A message whose encoding exceeds
// limits.MaxPayloadSize is rejected with ErrBodyTooLarge before it is stored.
func (c *Client) Send(ctx context.Context, msg *messaging.Message) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if msg == nil {
		return ErrNilMessage
	}
	if msg.Sealed() {
		return errors.Wrapf(ErrAlreadySent, "message %s", msg.ID())
	}

	sent := msg.Clone()
	sent.Seal()
	payload := messaging.EncodeMessage(&sent)
	if err := limits.ValidatePayload(payload); err != nil {
		return errors.Wrapf(ErrBodyTooLarge, "message %s: %v", msg.ID(), err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "wait for send slot")
	}
	if err := c.store.Append(ctx, &sent); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			return errors.Wrapf(ErrAlreadySent, "message %s", msg.ID())
		}
		return err
	}
	msg.Seal()

	if err := c.session.Send(ctx, sent.Address(), payload); err != nil {
		c.metrics.messageSent(false)
		logrus.WithFields(logrus.Fields{
			"function":   "Send",
			"message_id": sent.ID().String(),
			"address":    sent.Address().Short(),
			"error":      err.Error(),
		}).Warn("Message stored but not transmitted")
		return &SendError{MessageID: sent.ID(), Err: err}
	}

	c.metrics.messageSent(true)
	logrus.WithFields(logrus.Fields{
		"function":   "Send",
		"message_id": sent.ID().String(),
		"address":    sent.Address().Short(),
		"metadata":   sent.MetadataLen(),
	}).Debug("Message sent")
	return nil
}

// SendText composes and sends a text message. The message is returned
// whenever it was stored, including on *SendError.
func (c *Client) SendText(ctx context.Context, to address.Address, text string) (*messaging.Message, error) {
	msg, err := c.Compose(to, []byte(text))
	if err != nil {
		return nil, err
	}
	if err := c.Send(ctx, msg); err != nil {
		if errors.Is(err, ErrSendFailed) {
			return msg, err
		}
		return nil, err
	}
	return msg, nil
}

// SendReadConfirmation records that the local party read msg and tells the
// sender. Repeating it retransmits the recorded read time.
func (c *Client) SendReadConfirmation(ctx context.Context, msg *messaging.Message) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if msg == nil {
		return ErrNilMessage
	}
	if msg.Direction() != messaging.Inbound {
		return errors.Wrapf(ErrNotAnInboundMessage, "message %s", msg.ID())
	}

	stored, ok := c.store.Get(msg.ID())
	if !ok || stored.Direction() != messaging.Inbound {
		return errors.Wrapf(ErrUnknownMessageReference, "message %s", msg.ID())
	}

	updated, _, err := c.store.ApplyConfirmation(ctx, messaging.Confirmation{
		MessageID: msg.ID(),
		Timestamp: c.now(),
	}, messaging.ConfirmationRead)
	if err != nil {
		return err
	}
	readAt, _ := updated.ReadAt()

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "wait for send slot")
	}
	conf := messaging.Confirmation{MessageID: msg.ID(), Timestamp: readAt}
	payload, err := messaging.EncodeConfirmation(messaging.ConfirmationRead, conf)
	if err != nil {
		return err
	}
	if err := c.session.Send(ctx, updated.Address(), payload); err != nil {
		c.metrics.confirmation(messaging.ConfirmationRead, resultFailed)
		return &SendError{MessageID: msg.ID(), Err: err}
	}
	c.metrics.confirmation(messaging.ConfirmationRead, resultSent)

	logrus.WithFields(logrus.Fields{
		"function":   "SendReadConfirmation",
		"message_id": msg.ID().String(),
		"address":    updated.Address().Short(),
	}).Debug("Read confirmation sent")
	return nil
}

// GetMessages returns up to limit messages exchanged with addr, newest first,
// skipping page*limit newer ones. A zero limit uses the default page size.
func (c *Client) GetMessages(addr address.Address, limit, page int) ([]messaging.Message, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.store.Page(addr, limit, page), nil
}

// GetMessage returns a snapshot of one stored message.
func (c *Client) GetMessage(id messaging.MessageID) (messaging.Message, error) {
	if err := c.checkOpen(); err != nil {
		return messaging.Message{}, err
	}
	msg, ok := c.store.Get(id)
	if !ok {
		return messaging.Message{}, errors.Wrapf(ErrUnknownMessageReference, "message %s", id)
	}
	return msg, nil
}

// GetConversationalists lists every address with a message or a contact
// record, most recently active first. Ties are ordered by address bytes.
func (c *Client) GetConversationalists() ([]address.Address, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	activity := make(map[address.Address]time.Time)
	for _, conv := range c.store.Conversations() {
		activity[conv.Address] = conv.LastActivity
	}
	for _, d := range c.tracker.All() {
		if last := d.LastActive(); last.After(activity[d.Address]) {
			activity[d.Address] = last
		}
	}

	out := make([]address.Address, 0, len(activity))
	for addr := range activity {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := activity[out[i]], activity[out[j]]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].Compare(out[j]) < 0
	})
	return out, nil
}

// Close stops event processing, closes the session and releases the
// backend. Undispatched notifications are dropped. It must not be called from
// a callback.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()

		var errs []error
		if err := c.session.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close session"))
		}
		if err := c.group.Wait(); err != nil {
			errs = append(errs, err)
		}
		if err := c.store.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close store"))
		}
		if len(errs) > 0 {
			c.closeErr = errs[0]
		}

		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"address":  c.local.Short(),
		}).Info("Chat client closed")
	})
	return c.closeErr
}

func logWatchFailure(function string, addr address.Address, err error) {
	logrus.WithFields(logrus.Fields{
		"function": function,
		"address":  addr.Short(),
		"error":    err.Error(),
	}).Warn("Session could not update liveness probing")
}

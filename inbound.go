package walletchat

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/interfaces"
	"github.com/opd-ai/walletchat/liveness"
	"github.com/opd-ai/walletchat/messaging"
)

// inboundLoop handles session events until ctx ends or the stream closes.
func (c *Client) inboundLoop(ctx context.Context) error {
	events := c.session.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				logrus.WithFields(logrus.Fields{
					"function": "inboundLoop",
					"address":  c.local.Short(),
				}).Debug("Session event stream closed")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, ev interfaces.InboundEvent) {
	switch ev.Kind {
	case interfaces.EventProbe:
		c.handleProbe(ctx, ev.From, ev.Probe)
	case interfaces.EventPayload:
		c.handlePayload(ctx, ev.From, ev.Payload)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "handleEvent",
			"kind":     ev.Kind,
			"address":  ev.From.Short(),
		}).Warn("Ignoring unknown session event")
	}
}

func (c *Client) handleProbe(ctx context.Context, from address.Address, probe liveness.Probe) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	change, ok := c.tracker.Observe(from, probe)
	if !ok {
		return
	}
	if err := c.store.SaveContact(ctx, change.Data); err != nil {
		c.diagnose(Diagnostic{Kind: DiagnosticStoreFailure, Err: err, Address: from})
	}
	c.notifyStatusChange(change)
}

func (c *Client) handlePayload(ctx context.Context, from address.Address, payload []byte) {
	env, err := messaging.DecodePayload(payload)
	if err != nil {
		c.diagnose(Diagnostic{Kind: DiagnosticMalformedPayload, Err: err, Address: from})
		return
	}

	if env.Kind == messaging.PayloadMessage {
		c.handleMessage(ctx, from, env)
		return
	}
	kind, _ := env.Kind.ConfirmationKind()
	c.handleConfirmation(ctx, from, kind, env.Confirmation())
}

// handleMessage stores a received message and acknowledges it. A redelivered
// id is acknowledged again but stored and reported only once.
func (c *Client) handleMessage(ctx context.Context, from address.Address, env messaging.Envelope) {
	if c.tracker.Status(from) == liveness.StatusBanned {
		logrus.WithFields(logrus.Fields{
			"function":   "handleMessage",
			"address":    from.Short(),
			"message_id": env.MessageID.String(),
		}).Debug("Dropping message from banned contact")
		return
	}

	now := c.now()
	msg, err := messaging.NewInbound(env.MessageID, from, env.Body, env.Metadata, now)
	if err != nil {
		c.diagnose(Diagnostic{Kind: DiagnosticMalformedPayload, Err: err, MessageID: env.MessageID, Address: from})
		return
	}
	msg.ApplyConfirmation(messaging.ConfirmationDelivery, now)

	deliveredAt := now
	err = c.store.Append(ctx, msg)
	switch {
	case err == nil:
		c.metrics.messageReceived()
		c.notifyMessageReceived(msg.Clone())
		logrus.WithFields(logrus.Fields{
			"function":   "handleMessage",
			"address":    from.Short(),
			"message_id": env.MessageID.String(),
			"body_size":  len(env.Body),
		}).Debug("Message received")

	case errors.Is(err, ErrDuplicateMessage):
		existing, ok := c.store.Get(env.MessageID)
		if !ok || existing.Direction() != messaging.Inbound || existing.Address() != from {
			c.diagnose(Diagnostic{Kind: DiagnosticUnknownMessageReference, Err: err, MessageID: env.MessageID, Address: from})
			return
		}
		if t, ok := existing.DeliveredAt(); ok {
			deliveredAt = t
		}
		logrus.WithFields(logrus.Fields{
			"function":   "handleMessage",
			"address":    from.Short(),
			"message_id": env.MessageID.String(),
		}).Debug("Duplicate message, acknowledging again")

	default:
		c.diagnose(Diagnostic{Kind: DiagnosticStoreFailure, Err: err, MessageID: env.MessageID, Address: from})
		return
	}

	c.acknowledge(ctx, from, messaging.Confirmation{MessageID: env.MessageID, Timestamp: deliveredAt})
}

func (c *Client) acknowledge(ctx context.Context, to address.Address, conf messaging.Confirmation) {
	payload, err := messaging.EncodeConfirmation(messaging.ConfirmationDelivery, conf)
	if err == nil {
		err = c.session.Send(ctx, to, payload)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.metrics.confirmation(messaging.ConfirmationDelivery, resultFailed)
		c.diagnose(Diagnostic{Kind: DiagnosticAcknowledgementFailed, Err: err, MessageID: conf.MessageID, Address: to})
		return
	}
	c.metrics.confirmation(messaging.ConfirmationDelivery, resultSent)
}

// handleConfirmation applies a peer's acknowledgement to one of our messages.
// Only the conversation partner may confirm an outbound message.
func (c *Client) handleConfirmation(ctx context.Context, from address.Address, kind messaging.ConfirmationKind, conf messaging.Confirmation) {
	stored, ok := c.store.Get(conf.MessageID)
	if !ok || stored.Direction() != messaging.Outbound || stored.Address() != from {
		c.metrics.confirmation(kind, resultUnknown)
		c.diagnose(Diagnostic{
			Kind:      DiagnosticUnknownMessageReference,
			Err:       errors.Wrapf(ErrUnknownMessageReference, "%s confirmation for %s", kind, conf.MessageID),
			MessageID: conf.MessageID,
			Address:   from,
		})
		return
	}

	updated, applied, err := c.store.ApplyConfirmation(ctx, conf, kind)
	switch {
	case errors.Is(err, ErrUnknownMessageReference):
		c.metrics.confirmation(kind, resultUnknown)
		c.diagnose(Diagnostic{Kind: DiagnosticUnknownMessageReference, Err: err, MessageID: conf.MessageID, Address: from})
		return
	case err != nil:
		c.diagnose(Diagnostic{Kind: DiagnosticStoreFailure, Err: err, MessageID: conf.MessageID, Address: from})
		return
	case !applied:
		c.metrics.confirmation(kind, resultDuplicate)
		return
	}

	c.metrics.confirmation(kind, resultApplied)
	logrus.WithFields(logrus.Fields{
		"function":   "handleConfirmation",
		"address":    from.Short(),
		"message_id": conf.MessageID.String(),
		"kind":       kind.String(),
		"status":     updated.Status().String(),
	}).Debug("Confirmation applied")
	c.notifyConfirmation(kind, updated, conf)
}

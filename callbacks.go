package walletchat

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/liveness"
	"github.com/opd-ai/walletchat/messaging"
)

// ContactStatusCallback is called once per contact status transition.
type ContactStatusCallback func(change liveness.Change)

// MessageReceivedCallback is called once per newly stored inbound message.
type MessageReceivedCallback func(msg messaging.Message)

// ConfirmationCallback is called when a peer confirms one of our messages.
// msg is the updated snapshot.
type ConfirmationCallback func(msg messaging.Message, c messaging.Confirmation)

// DiagnosticCallback receives inbound failures that have no caller to return
// to.
type DiagnosticCallback func(d Diagnostic)

// DiagnosticKind classifies a Diagnostic.
type DiagnosticKind uint8

const (
	// DiagnosticUnknownMessageReference is a confirmation for an id that is
	// not an outbound message in the sender's conversation.
	DiagnosticUnknownMessageReference DiagnosticKind = iota + 1
	// DiagnosticMalformedPayload is a payload that could not be decoded.
	DiagnosticMalformedPayload
	// DiagnosticAcknowledgementFailed is an automatic delivery acknowledgement
	// the session could not send.
	DiagnosticAcknowledgementFailed
	// DiagnosticStoreFailure is an inbound change the backend rejected.
	DiagnosticStoreFailure
)

// String returns the kind name.
func (k DiagnosticKind) String() string {
	switch k {
	case DiagnosticUnknownMessageReference:
		return "unknown_message_reference"
	case DiagnosticMalformedPayload:
		return "malformed_payload"
	case DiagnosticAcknowledgementFailed:
		return "acknowledgement_failed"
	case DiagnosticStoreFailure:
		return "store_failure"
	default:
		return "unknown"
	}
}

// Diagnostic describes one dropped or partially handled inbound event.
type Diagnostic struct {
	Kind      DiagnosticKind
	Err       error
	MessageID messaging.MessageID
	Address   address.Address
	At        time.Time
}

// OnContactStatusChanged sets the callback for contact status changes.
func (c *Client) OnContactStatusChanged(callback ContactStatusCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.contactStatusCallback = callback
}

// OnMessageReceived sets the callback for received messages.
func (c *Client) OnMessageReceived(callback MessageReceivedCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.messageReceivedCallback = callback
}

// OnDeliveryConfirmation sets the callback for delivery confirmations.
func (c *Client) OnDeliveryConfirmation(callback ConfirmationCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.deliveryCallback = callback
}

// OnReadConfirmation sets the callback for read confirmations.
func (c *Client) OnReadConfirmation(callback ConfirmationCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.readCallback = callback
}

// OnDiagnostic sets the diagnostic sink.
func (c *Client) OnDiagnostic(callback DiagnosticCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.diagnosticCallback = callback
}

func (c *Client) notifyStatusChange(change liveness.Change) {
	c.metrics.statusChange(change.New)
	c.dispatcher.enqueue(func() {
		c.callbackMu.RLock()
		cb := c.contactStatusCallback
		c.callbackMu.RUnlock()
		if cb != nil {
			cb(change)
		}
	})
}

func (c *Client) notifyMessageReceived(msg messaging.Message) {
	c.dispatcher.enqueue(func() {
		c.callbackMu.RLock()
		cb := c.messageReceivedCallback
		c.callbackMu.RUnlock()
		if cb != nil {
			cb(msg)
		}
	})
}

func (c *Client) notifyConfirmation(kind messaging.ConfirmationKind, msg messaging.Message, conf messaging.Confirmation) {
	c.dispatcher.enqueue(func() {
		c.callbackMu.RLock()
		cb := c.deliveryCallback
		if kind == messaging.ConfirmationRead {
			cb = c.readCallback
		}
		c.callbackMu.RUnlock()
		if cb != nil {
			cb(msg, conf)
		}
	})
}

// diagnose logs d and hands it to the diagnostic sink.
func (c *Client) diagnose(d Diagnostic) {
	d.At = c.now()
	c.metrics.diagnostic(d.Kind)

	fields := logrus.Fields{
		"function": "diagnose",
		"kind":     d.Kind.String(),
		"address":  d.Address.Short(),
	}
	if !d.MessageID.IsZero() {
		fields["message_id"] = d.MessageID.String()
	}
	if d.Err != nil {
		fields["error"] = d.Err.Error()
	}
	logrus.WithFields(fields).Warn("Inbound event not fully handled")

	c.dispatcher.enqueue(func() {
		c.callbackMu.RLock()
		cb := c.diagnosticCallback
		c.callbackMu.RUnlock()
		if cb != nil {
			cb(d)
		}
	})
}

package interfaces

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/liveness"
)

var (
	// ErrInvalidTimeout is returned when NetworkTimeout is not positive.
	ErrInvalidTimeout = errors.New("network timeout must be positive")

	// ErrInvalidRetryAttempts is returned when RetryAttempts is negative.
	ErrInvalidRetryAttempts = errors.New("retry attempts cannot be negative")

	// ErrSessionClosed is returned by sessions used after Close.
	ErrSessionClosed = errors.New("session closed")

	// ErrPeerUnreachable is returned when a payload cannot be handed to the
	// peer's route.
	ErrPeerUnreachable = errors.New("peer unreachable")
)

// Session is the wallet-identity network layer the chat client runs on.
//
// Start blocks until the session can carry traffic. Send hands one payload to
// the network for the given address; it returns once the payload has left the
// local node, not when the peer has received it. Events delivers inbound
// payloads and liveness probe results in arrival order and is closed when the
// session closes.
type Session interface {
	Start(ctx context.Context, cfg *TransportConfig) error
	Send(ctx context.Context, to address.Address, payload []byte) error
	Events() <-chan InboundEvent
	LocalAddress() address.Address
	Close() error
}

// ContactWatcher is implemented by sessions that probe contacts for liveness.
// The client calls Watch when a contact is added and Unwatch when it is
// removed.
type ContactWatcher interface {
	Watch(addr address.Address) error
	Unwatch(addr address.Address) error
}

// EventKind distinguishes inbound events.
type EventKind uint8

const (
	// EventPayload carries bytes sent by a peer.
	EventPayload EventKind = iota + 1
	// EventProbe carries a liveness probe result.
	EventProbe
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventPayload:
		return "payload"
	case EventProbe:
		return "probe"
	default:
		return "unknown"
	}
}

// InboundEvent is one item read from Session.Events.
type InboundEvent struct {
	Kind    EventKind
	From    address.Address
	Payload []byte
	Probe   liveness.Probe
}

// PayloadEvent builds an EventPayload event.
func PayloadEvent(from address.Address, payload []byte) InboundEvent {
	return InboundEvent{Kind: EventPayload, From: from, Payload: payload}
}

// ProbeEvent builds an EventProbe event.
func ProbeEvent(from address.Address, probe liveness.Probe) InboundEvent {
	return InboundEvent{Kind: EventProbe, From: from, Probe: probe}
}

// TransportConfig holds the relay settings passed through to Session.Start.
// The client never interprets them.
type TransportConfig struct {
	ControlServerAddress string
	ControlServerCookie  []byte
	Port                 uint16
	SOCKSUsername        string
	SOCKSPassword        string
	// TorProxyBypassForOutbound lets outbound connections skip the relay.
	TorProxyBypassForOutbound bool
	// TorProxyBypassAddresses lists peers reached directly.
	TorProxyBypassAddresses []string
}

// SessionConfig selects and tunes the session implementation.
type SessionConfig struct {
	// UseSimulation selects the in-memory network instead of the real one.
	UseSimulation bool `env:"WALLETCHAT_USE_SIMULATION"`

	// NetworkTimeout bounds a single send attempt, in milliseconds.
	NetworkTimeout int `env:"WALLETCHAT_NETWORK_TIMEOUT_MS"`

	// RetryAttempts is the number of retries after a failed send.
	RetryAttempts int `env:"WALLETCHAT_RETRY_ATTEMPTS"`
}

// Validate checks the configuration bounds.
func (c *SessionConfig) Validate() error {
	if c.NetworkTimeout <= 0 {
		return errors.Wrapf(ErrInvalidTimeout, "got %d", c.NetworkTimeout)
	}
	if c.RetryAttempts < 0 {
		return errors.Wrapf(ErrInvalidRetryAttempts, "got %d", c.RetryAttempts)
	}
	return nil
}

// Timeout returns NetworkTimeout as a duration.
func (c *SessionConfig) Timeout() time.Duration {
	return time.Duration(c.NetworkTimeout) * time.Millisecond
}

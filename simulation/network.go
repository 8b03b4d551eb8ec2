package simulation

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/crypto"
	"github.com/opd-ai/walletchat/interfaces"
	"github.com/opd-ai/walletchat/liveness"
)

// DeliveryRecord is one send attempt observed by the network.
type DeliveryRecord struct {
	From        address.Address
	To          address.Address
	PayloadSize int
	Timestamp   time.Time
	Success     bool
	Error       error
}

// Stats summarizes the delivery log.
type Stats struct {
	Sessions             int
	TotalDeliveries      int
	SuccessfulDeliveries int
	FailedDeliveries     int
}

// Network is an in-memory hub connecting simulated sessions.
type Network struct {
	mu           sync.RWMutex
	sessions     map[address.Address]*Session
	offline      map[address.Address]bool
	failSends    map[address.Address]int
	deliveryLog  []DeliveryRecord
	timeProvider crypto.TimeProvider
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return NewNetworkWithTimeProvider(nil)
}

// NewNetworkWithTimeProvider creates an empty network whose delivery log uses
// tp.
func NewNetworkWithTimeProvider(tp crypto.TimeProvider) *Network {
	logrus.WithFields(logrus.Fields{
		"function": "NewNetwork",
	}).Info("Creating simulated chat network")

	return &Network{
		sessions:     make(map[address.Address]*Session),
		offline:      make(map[address.Address]bool),
		failSends:    make(map[address.Address]int),
		timeProvider: crypto.OrDefault(tp),
	}
}

// Join returns the session for addr, creating it on first use.
func (n *Network) Join(addr address.Address) *Session {
	n.mu.Lock()
	defer n.mu.Unlock()

	if s, ok := n.sessions[addr]; ok {
		return s
	}
	s := newSession(n, addr)
	n.sessions[addr] = s

	logrus.WithFields(logrus.Fields{
		"function": "Network.Join",
		"address":  addr.Short(),
		"sessions": len(n.sessions),
	}).Debug("Session joined simulated network")
	return s
}

// SetOffline toggles whether addr can receive payloads. Sessions watching
// addr receive a Timeout when it goes offline and a Pong when it returns.
func (n *Network) SetOffline(addr address.Address, offline bool) {
	n.mu.Lock()
	n.offline[addr] = offline
	watchers := n.watchersLocked(addr)
	n.mu.Unlock()

	probe := liveness.ProbePong
	if offline {
		probe = liveness.ProbeTimeout
	}
	for _, w := range watchers {
		w.enqueue(interfaces.ProbeEvent(addr, probe))
	}

	logrus.WithFields(logrus.Fields{
		"function": "Network.SetOffline",
		"address":  addr.Short(),
		"offline":  offline,
		"watchers": len(watchers),
	}).Info("Simulated reachability changed")
}

// FailSends makes the next count sends from addr fail with
// interfaces.ErrPeerUnreachable.
func (n *Network) FailSends(from address.Address, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failSends[from] = count
}

// InjectProbe delivers a probe result about subject to the session at to.
func (n *Network) InjectProbe(to, subject address.Address, probe liveness.Probe) error {
	s, ok := n.session(to)
	if !ok {
		return errors.Wrapf(interfaces.ErrPeerUnreachable, "no session for %s", to.Short())
	}
	if !s.enqueue(interfaces.ProbeEvent(subject, probe)) {
		return interfaces.ErrSessionClosed
	}
	return nil
}

// Inject places payload on the event stream of the session at to as if from
// had sent it. It bypasses reachability and the delivery log.
func (n *Network) Inject(to, from address.Address, payload []byte) error {
	s, ok := n.session(to)
	if !ok {
		return errors.Wrapf(interfaces.ErrPeerUnreachable, "no session for %s", to.Short())
	}
	if !s.enqueue(interfaces.PayloadEvent(from, bytes.Clone(payload))) {
		return interfaces.ErrSessionClosed
	}
	return nil
}

func (n *Network) session(addr address.Address) (*Session, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.sessions[addr]
	return s, ok
}

func (n *Network) watchersLocked(addr address.Address) []*Session {
	var out []*Session
	for _, s := range n.sessions {
		if s.watching(addr) {
			out = append(out, s)
		}
	}
	return out
}

func (n *Network) reachableLocked(addr address.Address) bool {
	s, ok := n.sessions[addr]
	return ok && !n.offline[addr] && s.running()
}

// Reachable reports whether payloads sent to addr would be delivered.
func (n *Network) Reachable(addr address.Address) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.reachableLocked(addr)
}

func (n *Network) deliver(from, to address.Address, payload []byte) error {
	n.mu.Lock()
	record := DeliveryRecord{
		From:        from,
		To:          to,
		PayloadSize: len(payload),
		Timestamp:   n.timeProvider.Now(),
	}

	var err error
	switch {
	case n.failSends[from] > 0:
		n.failSends[from]--
		err = errors.Wrap(interfaces.ErrPeerUnreachable, "injected failure")
	case !n.reachableLocked(to):
		err = errors.Wrapf(interfaces.ErrPeerUnreachable, "%s is not reachable", to.Short())
	}
	recipient := n.sessions[to]
	if err == nil && !recipient.enqueue(interfaces.PayloadEvent(from, bytes.Clone(payload))) {
		err = errors.Wrapf(interfaces.ErrPeerUnreachable, "%s closed", to.Short())
	}

	record.Success = err == nil
	record.Error = err
	n.deliveryLog = append(n.deliveryLog, record)
	total := len(n.deliveryLog)
	n.mu.Unlock()

	fields := logrus.Fields{
		"function":         "Network.deliver",
		"from":             from.Short(),
		"to":               to.Short(),
		"payload_size":     len(payload),
		"total_deliveries": total,
	}
	if err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Debug("Simulated delivery failed")
		return err
	}
	logrus.WithFields(fields).Debug("Payload delivery simulated")
	return nil
}

// GetDeliveryLog returns a copy of the delivery log.
func (n *Network) GetDeliveryLog() []DeliveryRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()

	log := make([]DeliveryRecord, len(n.deliveryLog))
	copy(log, n.deliveryLog)
	return log
}

// ClearDeliveryLog empties the delivery log.
func (n *Network) ClearDeliveryLog() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveryLog = nil
}

// GetStats summarizes the network.
func (n *Network) GetStats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	stats := Stats{Sessions: len(n.sessions), TotalDeliveries: len(n.deliveryLog)}
	for _, r := range n.deliveryLog {
		if r.Success {
			stats.SuccessfulDeliveries++
		} else {
			stats.FailedDeliveries++
		}
	}
	return stats
}

// Session is one simulated participant. It implements interfaces.Session and
// interfaces.ContactWatcher.
type Session struct {
	network *Network
	addr    address.Address

	mu      sync.Mutex
	queue   []interfaces.InboundEvent
	watched map[address.Address]bool
	started bool
	closed  bool

	events    chan interfaces.InboundEvent
	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ interfaces.Session        = (*Session)(nil)
	_ interfaces.ContactWatcher = (*Session)(nil)
)

func newSession(n *Network, addr address.Address) *Session {
	return &Session{
		network: n,
		addr:    addr,
		watched: make(map[address.Address]bool),
		events:  make(chan interfaces.InboundEvent),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start marks the session reachable and begins draining its event queue.
// The transport configuration is ignored.
func (s *Session) Start(ctx context.Context, _ *interfaces.TransportConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return interfaces.ErrSessionClosed
	}
	if s.started {
		return nil
	}
	s.started = true
	go s.pump()

	logrus.WithFields(logrus.Fields{
		"function": "Session.Start",
		"address":  s.addr.Short(),
	}).Info("Simulated session started")
	return nil
}

// Send delivers payload to the session at to.
func (s *Session) Send(ctx context.Context, to address.Address, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.running() {
		return interfaces.ErrSessionClosed
	}
	return s.network.deliver(s.addr, to, payload)
}

// Events returns the inbound event stream. It is closed by Close.
func (s *Session) Events() <-chan interfaces.InboundEvent { return s.events }

// LocalAddress returns the session's address.
func (s *Session) LocalAddress() address.Address { return s.addr }

// Watch starts probing addr. The current reachability is reported at once.
func (s *Session) Watch(addr address.Address) error {
	s.mu.Lock()
	s.watched[addr] = true
	s.mu.Unlock()

	probe := liveness.ProbeTimeout
	if s.network.Reachable(addr) {
		probe = liveness.ProbePong
	}
	s.enqueue(interfaces.ProbeEvent(addr, probe))
	return nil
}

// Unwatch stops probing addr.
func (s *Session) Unwatch(addr address.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watched, addr)
	return nil
}

// Close stops the session and closes the event stream. Queued events are
// dropped.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		started := s.started
		s.queue = nil
		s.mu.Unlock()

		close(s.done)
		if !started {
			close(s.events)
		}

		logrus.WithFields(logrus.Fields{
			"function": "Session.Close",
			"address":  s.addr.Short(),
		}).Info("Simulated session closed")
	})
	return nil
}

func (s *Session) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

func (s *Session) watching(addr address.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watched[addr]
}

func (s *Session) enqueue(ev interfaces.InboundEvent) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return true
}

func (s *Session) pump() {
	defer close(s.events)
	for {
		s.mu.Lock()
		queue := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range queue {
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.signal:
		case <-s.done:
			return
		}
	}
}

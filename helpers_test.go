package walletchat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/crypto"
	"github.com/opd-ai/walletchat/interfaces"
	"github.com/opd-ai/walletchat/liveness"
	"github.com/opd-ai/walletchat/messaging"
	"github.com/opd-ai/walletchat/simulation"
)

const (
	testEventTimeout = 2 * time.Second
	testQuietPeriod  = 100 * time.Millisecond
)

var testBaseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testAddress(seed byte) address.Address {
	var key [address.KeySize]byte
	key[0] = seed
	key[31] = seed
	addr, err := address.FromPublicKey(address.MainNet, key)
	if err != nil {
		panic(err)
	}
	return addr
}

// stepClock returns base, base+step, base+2*step, ... on successive calls.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: testBaseTime, step: time.Millisecond}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *stepClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// recorder captures every callback a client fires.
type recorder struct {
	received    chan messaging.Message
	delivered   chan messaging.Message
	read        chan messaging.Message
	status      chan liveness.Change
	diagnostics chan Diagnostic
}

func newRecorder(c *Client) *recorder {
	r := &recorder{
		received:    make(chan messaging.Message, 256),
		delivered:   make(chan messaging.Message, 256),
		read:        make(chan messaging.Message, 256),
		status:      make(chan liveness.Change, 256),
		diagnostics: make(chan Diagnostic, 256),
	}
	c.OnMessageReceived(func(msg messaging.Message) { r.received <- msg })
	c.OnDeliveryConfirmation(func(msg messaging.Message, _ messaging.Confirmation) { r.delivered <- msg })
	c.OnReadConfirmation(func(msg messaging.Message, _ messaging.Confirmation) { r.read <- msg })
	c.OnContactStatusChanged(func(change liveness.Change) { r.status <- change })
	c.OnDiagnostic(func(d Diagnostic) { r.diagnostics <- d })
	return r
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testEventTimeout):
		t.Fatal("timed out waiting for callback")
	}
	var zero T
	return zero
}

func expectNone[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected callback: %+v", v)
	case <-time.After(testQuietPeriod):
	}
}

type testPeer struct {
	addr    address.Address
	client  *Client
	session *simulation.Session
	events  *recorder
}

func startPeer(t *testing.T, network *simulation.Network, seed byte, opts *Options) *testPeer {
	t.Helper()
	if opts == nil {
		opts = NewOptions()
	}
	if _, ok := opts.TimeProvider.(crypto.DefaultTimeProvider); ok || opts.TimeProvider == nil {
		opts.TimeProvider = newStepClock()
	}

	addr := testAddress(seed)
	session := network.Join(addr)
	client, err := New(context.Background(), opts, session)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &testPeer{
		addr:    addr,
		client:  client,
		session: session,
		events:  newRecorder(client),
	}
}

// rawPeer joins the network without a client so tests can speak the wire
// protocol directly.
func rawPeer(t *testing.T, network *simulation.Network, seed byte) *simulation.Session {
	t.Helper()
	s := network.Join(testAddress(seed))
	require.NoError(t, s.Start(context.Background(), nil))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func nextEnvelope(t *testing.T, s *simulation.Session) (address.Address, messaging.Envelope) {
	t.Helper()
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "event stream closed")
			if ev.Kind != interfaces.EventPayload {
				continue
			}
			env, err := messaging.DecodePayload(ev.Payload)
			require.NoError(t, err)
			return ev.From, env
		case <-time.After(testEventTimeout):
			t.Fatal("timed out waiting for payload")
		}
		return address.Address{}, messaging.Envelope{}
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// memoryBackend is a store.Backend that keeps records in maps and can be told
// to fail writes.
type memoryBackend struct {
	mu       sync.Mutex
	messages []messaging.Record
	contacts map[address.Address]liveness.Data
	failSave error
	closed   bool
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{contacts: make(map[address.Address]liveness.Data)}
}

func (b *memoryBackend) SaveMessage(_ context.Context, rec messaging.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSave != nil {
		return b.failSave
	}
	b.messages = append(b.messages, rec)
	return nil
}

func (b *memoryBackend) UpdateConfirmations(_ context.Context, id messaging.MessageID, deliveredAt, readAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.messages {
		if b.messages[i].ID == id {
			b.messages[i].DeliveredAt = deliveredAt
			b.messages[i].ReadAt = readAt
		}
	}
	return nil
}

func (b *memoryBackend) LoadMessages(context.Context) ([]messaging.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]messaging.Record(nil), b.messages...), nil
}

func (b *memoryBackend) SaveContact(_ context.Context, contact liveness.Data) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contacts[contact.Address] = contact
	return nil
}

func (b *memoryBackend) RemoveContact(_ context.Context, addr address.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.contacts, addr)
	return nil
}

func (b *memoryBackend) LoadContacts(context.Context) ([]liveness.Data, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]liveness.Data, 0, len(b.contacts))
	for _, d := range b.contacts {
		out = append(out, d)
	}
	return out, nil
}

func (b *memoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

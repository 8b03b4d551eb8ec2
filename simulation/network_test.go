package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/interfaces"
	"github.com/opd-ai/walletchat/liveness"
)

const testEventTimeout = 2 * time.Second

func testAddress(seed byte) address.Address {
	var key [address.KeySize]byte
	key[0] = seed
	addr, err := address.FromPublicKey(address.LocalNet, key)
	if err != nil {
		panic(err)
	}
	return addr
}

func startedPair(t *testing.T) (*Network, *Session, *Session) {
	t.Helper()
	ctx := context.Background()
	n := NewNetwork()
	a := n.Join(testAddress(1))
	b := n.Join(testAddress(2))
	require.NoError(t, a.Start(ctx, nil))
	require.NoError(t, b.Start(ctx, &interfaces.TransportConfig{Port: 18189}))
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return n, a, b
}

func nextEvent(t *testing.T, s *Session) interfaces.InboundEvent {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(testEventTimeout):
		t.Fatal("timed out waiting for event")
	}
	return interfaces.InboundEvent{}
}

func TestNetwork_SendDelivers(t *testing.T) {
	n, a, b := startedPair(t)
	ctx := context.Background()

	payload := []byte("hello")
	require.NoError(t, a.Send(ctx, b.LocalAddress(), payload))
	payload[0] = 'j'

	ev := nextEvent(t, b)
	assert.Equal(t, interfaces.EventPayload, ev.Kind)
	assert.Equal(t, a.LocalAddress(), ev.From)
	assert.Equal(t, []byte("hello"), ev.Payload, "payload must be copied")

	log := n.GetDeliveryLog()
	require.Len(t, log, 1)
	assert.True(t, log[0].Success)
	assert.Equal(t, 5, log[0].PayloadSize)
}

func TestNetwork_OrderPreserved(t *testing.T) {
	_, a, b := startedPair(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, a.Send(ctx, b.LocalAddress(), []byte{byte(i)}))
	}
	for i := 0; i < 50; i++ {
		ev := nextEvent(t, b)
		assert.Equal(t, []byte{byte(i)}, ev.Payload)
	}
}

func TestNetwork_Unreachable(t *testing.T) {
	n, a, b := startedPair(t)
	ctx := context.Background()

	err := a.Send(ctx, testAddress(9), []byte("x"))
	assert.ErrorIs(t, err, interfaces.ErrPeerUnreachable)

	n.SetOffline(b.LocalAddress(), true)
	err = a.Send(ctx, b.LocalAddress(), []byte("x"))
	assert.ErrorIs(t, err, interfaces.ErrPeerUnreachable)

	n.SetOffline(b.LocalAddress(), false)
	assert.NoError(t, a.Send(ctx, b.LocalAddress(), []byte("x")))

	stats := n.GetStats()
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 3, stats.TotalDeliveries)
	assert.Equal(t, 2, stats.FailedDeliveries)
	assert.Equal(t, 1, stats.SuccessfulDeliveries)

	n.ClearDeliveryLog()
	assert.Empty(t, n.GetDeliveryLog())
}

func TestNetwork_FailSends(t *testing.T) {
	n, a, b := startedPair(t)
	ctx := context.Background()

	n.FailSends(a.LocalAddress(), 2)
	assert.ErrorIs(t, a.Send(ctx, b.LocalAddress(), []byte("1")), interfaces.ErrPeerUnreachable)
	assert.ErrorIs(t, a.Send(ctx, b.LocalAddress(), []byte("2")), interfaces.ErrPeerUnreachable)
	assert.NoError(t, a.Send(ctx, b.LocalAddress(), []byte("3")))
}

func TestSession_WatchReportsReachability(t *testing.T) {
	n, a, b := startedPair(t)

	require.NoError(t, a.Watch(b.LocalAddress()))
	ev := nextEvent(t, a)
	assert.Equal(t, interfaces.EventProbe, ev.Kind)
	assert.Equal(t, liveness.ProbePong, ev.Probe)
	assert.Equal(t, b.LocalAddress(), ev.From)

	n.SetOffline(b.LocalAddress(), true)
	assert.Equal(t, liveness.ProbeTimeout, nextEvent(t, a).Probe)

	n.SetOffline(b.LocalAddress(), false)
	assert.Equal(t, liveness.ProbePong, nextEvent(t, a).Probe)

	require.NoError(t, a.Unwatch(b.LocalAddress()))
	n.SetOffline(b.LocalAddress(), true)
	require.NoError(t, n.InjectProbe(a.LocalAddress(), testAddress(7), liveness.ProbePing))
	ev = nextEvent(t, a)
	assert.Equal(t, testAddress(7), ev.From, "unwatched address produces no probe")

	require.NoError(t, a.Watch(testAddress(8)))
	assert.Equal(t, liveness.ProbeTimeout, nextEvent(t, a).Probe)
}

func TestNetwork_Inject(t *testing.T) {
	n, a, _ := startedPair(t)

	require.NoError(t, n.Inject(a.LocalAddress(), testAddress(5), []byte{0xff}))
	ev := nextEvent(t, a)
	assert.Equal(t, testAddress(5), ev.From)
	assert.Equal(t, []byte{0xff}, ev.Payload)

	assert.ErrorIs(t, n.Inject(testAddress(42), testAddress(5), nil), interfaces.ErrPeerUnreachable)
	assert.ErrorIs(t, n.InjectProbe(testAddress(42), testAddress(5), liveness.ProbePing), interfaces.ErrPeerUnreachable)
}

func TestSession_Close(t *testing.T) {
	n, a, b := startedPair(t)
	ctx := context.Background()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	select {
	case _, ok := <-b.Events():
		assert.False(t, ok)
	case <-time.After(testEventTimeout):
		t.Fatal("event stream not closed")
	}

	assert.ErrorIs(t, b.Send(ctx, a.LocalAddress(), []byte("x")), interfaces.ErrSessionClosed)
	assert.ErrorIs(t, a.Send(ctx, b.LocalAddress(), []byte("x")), interfaces.ErrPeerUnreachable)
	assert.ErrorIs(t, b.Start(ctx, nil), interfaces.ErrSessionClosed)
	assert.ErrorIs(t, n.Inject(b.LocalAddress(), a.LocalAddress(), []byte("x")), interfaces.ErrSessionClosed)
}

func TestSession_CloseBeforeStart(t *testing.T) {
	n := NewNetwork()
	s := n.Join(testAddress(1))
	assert.Same(t, s, n.Join(testAddress(1)))

	require.NoError(t, s.Close())
	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestSession_StartCancelled(t *testing.T) {
	n := NewNetwork()
	s := n.Join(testAddress(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Start(ctx, nil), context.Canceled)
	assert.False(t, n.Reachable(testAddress(1)))
}

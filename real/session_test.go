package real

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/walletchat/address"
	"github.com/opd-ai/walletchat/interfaces"
)

// mockSleeper implements Sleeper for testing without actual delays
type mockSleeper struct {
	mu         sync.Mutex
	sleepCalls []time.Duration
}

func (m *mockSleeper) Sleep(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleepCalls = append(m.sleepCalls, d)
}

func (m *mockSleeper) getSleepCalls() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]time.Duration, len(m.sleepCalls))
	copy(result, m.sleepCalls)
	return result
}

// mockSession fails the first failures sends with sendErr.
type mockSession struct {
	mu          sync.Mutex
	failures    int
	sendErr     error
	sendCount   int
	deadlines   []bool
	watched     []address.Address
	closeCalled bool
	events      chan interfaces.InboundEvent
	local       address.Address
}

func newMockSession(failures int, sendErr error) *mockSession {
	return &mockSession{failures: failures, sendErr: sendErr, events: make(chan interfaces.InboundEvent)}
}

func (m *mockSession) Start(context.Context, *interfaces.TransportConfig) error { return nil }

func (m *mockSession) Send(ctx context.Context, _ address.Address, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCount++
	_, hasDeadline := ctx.Deadline()
	m.deadlines = append(m.deadlines, hasDeadline)
	if m.failures > 0 {
		m.failures--
		return m.sendErr
	}
	return nil
}

func (m *mockSession) Events() <-chan interfaces.InboundEvent { return m.events }
func (m *mockSession) LocalAddress() address.Address          { return m.local }

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

type watchingSession struct {
	*mockSession
}

func (w watchingSession) Watch(addr address.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched = append(w.watched, addr)
	return nil
}

func (w watchingSession) Unwatch(address.Address) error { return nil }

func testConfig(retries int) *interfaces.SessionConfig {
	return &interfaces.SessionConfig{NetworkTimeout: 5000, RetryAttempts: retries}
}

func testAddress() address.Address {
	var key [address.KeySize]byte
	key[0] = 1
	addr, err := address.FromPublicKey(address.MainNet, key)
	if err != nil {
		panic(err)
	}
	return addr
}

var errFlaky = errors.New("flaky network")

func TestRetryingSession_SucceedsAfterRetries(t *testing.T) {
	inner := newMockSession(2, errFlaky)
	sleeper := &mockSleeper{}
	s := NewRetryingSession(inner, testConfig(3))
	s.SetSleeper(sleeper)

	require.NoError(t, s.Send(context.Background(), testAddress(), []byte("x")))
	assert.Equal(t, 3, inner.sendCount)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeper.getSleepCalls())
	for _, hasDeadline := range inner.deadlines {
		assert.True(t, hasDeadline, "every attempt is bounded by the network timeout")
	}
}

func TestRetryingSession_AllAttemptsFail(t *testing.T) {
	inner := newMockSession(10, errFlaky)
	sleeper := &mockSleeper{}
	s := NewRetryingSession(inner, testConfig(2))
	s.SetSleeper(sleeper)

	err := s.Send(context.Background(), testAddress(), []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, inner.sendCount)
	assert.Len(t, sleeper.getSleepCalls(), 2, "no sleep after the last attempt")
}

func TestRetryingSession_ZeroRetries(t *testing.T) {
	inner := newMockSession(1, errFlaky)
	sleeper := &mockSleeper{}
	s := NewRetryingSession(inner, testConfig(0))
	s.SetSleeper(sleeper)

	assert.Error(t, s.Send(context.Background(), testAddress(), []byte("x")))
	assert.Equal(t, 1, inner.sendCount)
	assert.Empty(t, sleeper.getSleepCalls())
}

func TestRetryingSession_StopsOnClosedSession(t *testing.T) {
	inner := newMockSession(10, interfaces.ErrSessionClosed)
	s := NewRetryingSession(inner, testConfig(5))
	s.SetSleeper(&mockSleeper{})

	err := s.Send(context.Background(), testAddress(), []byte("x"))
	assert.ErrorIs(t, err, interfaces.ErrSessionClosed)
	assert.Equal(t, 1, inner.sendCount)
}

func TestRetryingSession_StopsOnCancelledContext(t *testing.T) {
	inner := newMockSession(10, errFlaky)
	s := NewRetryingSession(inner, testConfig(5))
	s.SetSleeper(&mockSleeper{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Send(ctx, testAddress(), []byte("x")))
	assert.Equal(t, 1, inner.sendCount)
}

// blockingSleeper reports each Sleep on started and returns once release is
// closed.
type blockingSleeper struct {
	started chan time.Duration
	release chan struct{}
}

func (b *blockingSleeper) Sleep(d time.Duration) {
	b.started <- d
	<-b.release
}

func TestRetryingSession_CancelDuringBackoff(t *testing.T) {
	inner := newMockSession(10, errFlaky)
	sleeper := &blockingSleeper{started: make(chan time.Duration, 1), release: make(chan struct{})}
	defer close(sleeper.release)
	s := NewRetryingSession(inner, testConfig(5))
	s.SetSleeper(sleeper)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- s.Send(ctx, testAddress(), []byte("x")) }()

	select {
	case d := <-sleeper.started:
		assert.Equal(t, RetryBackoffStep, d)
	case <-time.After(time.Second):
		t.Fatal("backoff never started")
	}
	cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Send did not return after cancellation")
	}
	inner.mu.Lock()
	assert.Equal(t, 1, inner.sendCount)
	inner.mu.Unlock()
}

func TestRetryingSession_Delegation(t *testing.T) {
	inner := newMockSession(0, nil)
	inner.local = testAddress()
	s := NewRetryingSession(inner, testConfig(1))

	assert.Equal(t, testAddress(), s.LocalAddress())
	assert.NoError(t, s.Start(context.Background(), nil))
	assert.NoError(t, s.Watch(testAddress()), "watch is a no-op for non-watching sessions")
	assert.NoError(t, s.Close())
	assert.True(t, inner.closeCalled)

	w := watchingSession{newMockSession(0, nil)}
	ws := NewRetryingSession(w, testConfig(1))
	require.NoError(t, ws.Watch(testAddress()))
	assert.Equal(t, []address.Address{testAddress()}, w.watched)
	assert.NoError(t, ws.Unwatch(testAddress()))
}

func TestDefaultSleeper(t *testing.T) {
	start := time.Now()
	DefaultSleeper{}.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), time.Millisecond)
}

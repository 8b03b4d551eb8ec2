package liveness

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/walletchat/address"
)

type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration { return m.Now().Sub(t) }

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func newTestTracker() (*Tracker, *mockTimeProvider) {
	tp := &mockTimeProvider{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewTracker(tp), tp
}

func testAddress(seed byte) address.Address {
	var key [address.KeySize]byte
	key[0] = seed
	addr, err := address.FromPublicKey(address.MainNet, key)
	if err != nil {
		panic(err)
	}
	return addr
}

func TestTracker_UnknownContact(t *testing.T) {
	tr, _ := newTestTracker()
	assert.Equal(t, StatusNeverSeen, tr.Status(testAddress(1)))
	_, ok := tr.Get(testAddress(1))
	assert.False(t, ok)
}

func TestTracker_AddIsNotAChange(t *testing.T) {
	tr, tp := newTestTracker()
	addr := testAddress(1)

	d, created := tr.Add(addr)
	require.True(t, created)
	assert.Equal(t, StatusNeverSeen, d.Status)
	assert.False(t, d.Seen())
	assert.Equal(t, tp.Now(), d.CreatedAt)

	_, created = tr.Add(addr)
	assert.False(t, created)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_TimeoutWithoutRecord(t *testing.T) {
	tr, _ := newTestTracker()
	addr := testAddress(1)

	_, changed := tr.Observe(addr, ProbeTimeout)
	assert.False(t, changed)

	d, ok := tr.Get(addr)
	require.True(t, ok)
	assert.Equal(t, StatusNeverSeen, d.Status)
	assert.True(t, d.LastSeen.IsZero())
}

func TestTracker_PingWithoutRecord(t *testing.T) {
	tr, tp := newTestTracker()
	addr := testAddress(1)

	change, changed := tr.Observe(addr, ProbePing)
	require.True(t, changed)
	assert.Equal(t, StatusNeverSeen, change.Old)
	assert.Equal(t, StatusOnline, change.New)
	assert.Equal(t, tp.Now(), change.Data.LastSeen)
}

func TestTracker_InvalidResultCreatesNoRecord(t *testing.T) {
	tr, _ := newTestTracker()
	addr := testAddress(1)

	_, changed := tr.Observe(addr, Probe(99))
	assert.False(t, changed)
	assert.Equal(t, 0, tr.Len())
	_, ok := tr.Get(addr)
	assert.False(t, ok)

	_, created := tr.Add(addr)
	require.True(t, created)
	_, changed = tr.Observe(addr, Probe(99))
	assert.False(t, changed)
	assert.Equal(t, StatusNeverSeen, tr.Status(addr))
}

func TestTracker_TimeoutThenPong(t *testing.T) {
	tr, tp := newTestTracker()
	addr := testAddress(1)
	tr.Add(addr)

	var changes []Change
	observe := func(p Probe) {
		if c, ok := tr.Observe(addr, p); ok {
			changes = append(changes, c)
		}
	}

	observe(ProbeTimeout)
	assert.Empty(t, changes, "NeverSeen stays NeverSeen on timeout")

	tp.Advance(time.Second)
	observe(ProbePong)
	require.Len(t, changes, 1)
	assert.Equal(t, StatusOnline, changes[0].New)
	seenAt := tp.Now()

	tp.Advance(time.Second)
	observe(ProbePong)
	assert.Len(t, changes, 1, "unchanged status fires no notification")

	tp.Advance(time.Second)
	observe(ProbeTimeout)
	require.Len(t, changes, 2)
	assert.Equal(t, StatusOnline, changes[1].Old)
	assert.Equal(t, StatusOffline, changes[1].New)
	assert.Equal(t, seenAt.Add(time.Second), changes[1].Data.LastSeen, "timeout keeps last_seen")

	observe(ProbeTimeout)
	assert.Len(t, changes, 2)
}

func TestTracker_Ban(t *testing.T) {
	tr, tp := newTestTracker()
	addr := testAddress(1)

	_, _ = tr.Observe(addr, ProbePing)
	change, ok := tr.Ban(addr)
	require.True(t, ok)
	assert.Equal(t, StatusOnline, change.Old)
	assert.Equal(t, StatusBanned, change.New)

	_, ok = tr.Ban(addr)
	assert.False(t, ok)

	tp.Advance(time.Minute)
	_, ok = tr.Observe(addr, ProbePong)
	assert.False(t, ok, "probes never clear a ban")
	d, _ := tr.Get(addr)
	assert.Equal(t, StatusBanned, d.Status)
	assert.Equal(t, tp.Now(), d.LastSeen, "probes still refresh last_seen")

	_, ok = tr.Observe(addr, ProbeTimeout)
	assert.False(t, ok)

	change, ok = tr.Unban(addr)
	require.True(t, ok)
	assert.Equal(t, StatusOffline, change.New)

	_, ok = tr.Unban(addr)
	assert.False(t, ok)
}

func TestTracker_UnbanNeverSeen(t *testing.T) {
	tr, _ := newTestTracker()
	addr := testAddress(1)

	change, ok := tr.Ban(addr)
	require.True(t, ok)
	assert.Equal(t, StatusNeverSeen, change.Old)

	change, ok = tr.Unban(addr)
	require.True(t, ok)
	assert.Equal(t, StatusNeverSeen, change.New)
}

func TestTracker_Remove(t *testing.T) {
	tr, _ := newTestTracker()
	addr := testAddress(1)
	tr.Add(addr)

	assert.True(t, tr.Remove(addr))
	assert.False(t, tr.Remove(addr))
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_RestoreDemotesOnline(t *testing.T) {
	tr, tp := newTestTracker()
	addr := testAddress(1)

	tr.Restore(Data{Address: addr, Status: StatusOnline, LastSeen: tp.Now(), CreatedAt: tp.Now()})
	assert.Equal(t, StatusOffline, tr.Status(addr))

	tr.Restore(Data{Address: testAddress(2), Status: StatusBanned})
	assert.Equal(t, StatusBanned, tr.Status(testAddress(2)))
}

func TestTracker_AllOrdered(t *testing.T) {
	tr, _ := newTestTracker()
	for _, seed := range []byte{5, 1, 3} {
		tr.Add(testAddress(seed))
	}
	all := tr.All()
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.Negative(t, all[i-1].Address.Compare(all[i].Address))
	}
}

func TestData_LastActive(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := Data{CreatedAt: created}
	assert.Equal(t, created, d.LastActive())

	d.LastSeen = created.Add(time.Hour)
	assert.Equal(t, created.Add(time.Hour), d.LastActive())
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr, _ := newTestTracker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			addr := testAddress(seed)
			for j := 0; j < 100; j++ {
				tr.Observe(addr, ProbePing)
				tr.Observe(addr, ProbeTimeout)
				_ = tr.Status(addr)
			}
		}(byte(i))
	}
	wg.Wait()
	assert.Equal(t, 8, tr.Len())
	for _, d := range tr.All() {
		assert.Equal(t, StatusOffline, d.Status)
	}
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "never_seen", StatusNeverSeen.String())
	assert.Equal(t, "banned", StatusBanned.String())
	assert.Equal(t, "pong", ProbePong.String())
	assert.Equal(t, "unknown", Probe(0).String())
}

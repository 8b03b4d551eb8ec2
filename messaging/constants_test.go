package messaging

import (
	"time"

	"github.com/opd-ai/walletchat/address"
)

// Test clock values.
var (
	testBaseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testLater    = testBaseTime.Add(5 * time.Second)
	testEarlier  = testBaseTime.Add(-5 * time.Second)
)

type fixedTimeProvider struct {
	now time.Time
}

func (f fixedTimeProvider) Now() time.Time                 { return f.now }
func (f fixedTimeProvider) Since(t time.Time) time.Duration { return f.now.Sub(t) }

func testAddress(seed byte) address.Address {
	var key [address.KeySize]byte
	for i := range key {
		key[i] = seed
	}
	addr, err := address.FromPublicKey(address.MainNet, key)
	if err != nil {
		panic(err)
	}
	return addr
}

func composeAt(t time.Time, body string, opts ...ComposeOption) *Message {
	opts = append(opts, WithTimeProvider(fixedTimeProvider{now: t}))
	m, err := Compose(testAddress(1), []byte(body), opts...)
	if err != nil {
		panic(err)
	}
	return m
}

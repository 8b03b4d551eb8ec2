package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyConfirmation_Delivery(t *testing.T) {
	t.Parallel()

	m := composeAt(testBaseTime, "hi")
	m.Seal()

	require.True(t, m.ApplyConfirmation(ConfirmationDelivery, testLater))
	at, ok := m.DeliveredAt()
	require.True(t, ok)
	assert.Equal(t, testLater, at)
	assert.Equal(t, StatusDelivered, m.Status())

	assert.False(t, m.ApplyConfirmation(ConfirmationDelivery, testLater.Add(time.Minute)), "duplicate delivery is a no-op")
	at, _ = m.DeliveredAt()
	assert.Equal(t, testLater, at)
}

func TestApplyConfirmation_ReadBeforeDelivery(t *testing.T) {
	t.Parallel()

	m := composeAt(testBaseTime, "hi")
	m.Seal()

	require.True(t, m.ApplyConfirmation(ConfirmationRead, testLater))
	delivered, ok := m.DeliveredAt()
	require.True(t, ok)
	read, ok := m.ReadAt()
	require.True(t, ok)
	assert.Equal(t, testLater, delivered)
	assert.Equal(t, testLater, read)
	assert.Equal(t, StatusRead, m.Status())

	assert.False(t, m.ApplyConfirmation(ConfirmationDelivery, testLater.Add(time.Second)))
	assert.False(t, m.ApplyConfirmation(ConfirmationRead, testLater.Add(time.Second)))
}

func TestApplyConfirmation_Clamping(t *testing.T) {
	t.Parallel()

	m := composeAt(testBaseTime, "hi")
	m.Seal()

	require.True(t, m.ApplyConfirmation(ConfirmationDelivery, testEarlier))
	delivered, _ := m.DeliveredAt()
	assert.Equal(t, testBaseTime, delivered, "delivery clamps to stored time")

	m2 := composeAt(testBaseTime, "hi")
	m2.Seal()
	require.True(t, m2.ApplyConfirmation(ConfirmationDelivery, testLater))
	require.True(t, m2.ApplyConfirmation(ConfirmationRead, testBaseTime.Add(time.Second)))
	read, _ := m2.ReadAt()
	assert.Equal(t, testLater, read, "read clamps to delivery time")
}

func TestApplyConfirmation_MillisecondPrecision(t *testing.T) {
	t.Parallel()

	m := composeAt(testBaseTime, "hi")
	require.True(t, m.ApplyConfirmation(ConfirmationDelivery, testLater.Add(123456*time.Nanosecond)))
	delivered, _ := m.DeliveredAt()
	assert.Equal(t, testLater, delivered)
}

func TestApplyConfirmation_UnknownKind(t *testing.T) {
	t.Parallel()

	m := composeAt(testBaseTime, "hi")
	assert.False(t, m.ApplyConfirmation(ConfirmationKind(0), testLater))
}

func TestApplyConfirmation_InvariantHolds(t *testing.T) {
	t.Parallel()

	offsets := []time.Duration{-time.Hour, 0, time.Second, time.Hour}
	for _, d := range offsets {
		for _, r := range offsets {
			m := composeAt(testBaseTime, "hi")
			m.ApplyConfirmation(ConfirmationDelivery, testBaseTime.Add(d))
			m.ApplyConfirmation(ConfirmationRead, testBaseTime.Add(r))

			delivered, _ := m.DeliveredAt()
			read, _ := m.ReadAt()
			assert.False(t, delivered.Before(m.StoredAt()), "d=%v r=%v", d, r)
			assert.False(t, read.Before(delivered), "d=%v r=%v", d, r)
		}
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	m := composeAt(testBaseTime, "hi")
	require.NoError(t, m.AttachMetadata(MetadataReply, []byte("parent")))
	m.Seal()
	m.ApplyConfirmation(ConfirmationDelivery, testLater)

	back, err := FromRecord(m.Record())
	require.NoError(t, err)
	assert.Equal(t, m.Record(), back.Record())

	_, err = FromRecord(Record{})
	assert.ErrorIs(t, err, ErrInvalidMessageID)

	rec := m.Record()
	rec.Direction = 0
	_, err = FromRecord(rec)
	assert.Error(t, err)
}

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderRecordConversion(t *testing.T) {
	sent := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reminded := sent.Add(24 * time.Hour)
	order := PendingOrder{
		TrackingID:     "-100_42_1704067200000_abcd1234",
		ChatID:         -100,
		UserID:         42,
		MessageID:      7,
		EmailSentTo:    "ops@example.com",
		EmailSubject:   "Water Delivery Order",
		SentAt:         sent,
		EmailMessageID: "gmail-1",
		LastReminderAt: &reminded,
	}

	rec := NewOrderRecord(order)
	assert.Equal(t, "42", rec.PartitionKey)
	assert.Equal(t, order.TrackingID, rec.RowKey)
	assert.Equal(t, "2024-01-01T00:00:00.000000000Z", rec.SentAt)
	require.NotNil(t, rec.LastReminderAt)
	assert.Equal(t, "2024-01-02T00:00:00.000000000Z", *rec.LastReminderAt)

	back, err := rec.ToPendingOrder()
	require.NoError(t, err)
	assert.True(t, back.SentAt.Equal(sent))
	require.NotNil(t, back.LastReminderAt)
	assert.True(t, back.LastReminderAt.Equal(reminded))
	assert.Equal(t, "gmail-1", back.EmailMessageID)
}

func TestOrderRecordOptionalFieldsAbsent(t *testing.T) {
	rec := NewOrderRecord(PendingOrder{TrackingID: "1_2_3_x", UserID: 2, SentAt: time.Now()})
	assert.Nil(t, rec.EmailMessageID)
	assert.Nil(t, rec.LastReminderAt)

	back, err := rec.ToPendingOrder()
	require.NoError(t, err)
	assert.Nil(t, back.LastReminderAt)
	assert.Empty(t, back.EmailMessageID)
}

func TestToPendingOrderRejectsBadTimestamp(t *testing.T) {
	_, err := OrderRecord{RowKey: "x", SentAt: "yesterday"}.ToPendingOrder()
	assert.Error(t, err)
}

func TestTimestampsSortLexicographically(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := FormatTimestamp(base)
	later := FormatTimestamp(base.Add(500 * time.Millisecond))
	assert.Less(t, earlier, later)
}

func TestReminderReference(t *testing.T) {
	sent := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	o := PendingOrder{SentAt: sent}
	assert.Equal(t, sent, o.ReminderReference())

	reminded := sent.Add(30 * time.Hour)
	o.LastReminderAt = &reminded
	assert.Equal(t, reminded, o.ReminderReference())
}

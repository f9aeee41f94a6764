package model

import (
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout is the layout of every persisted timestamp. It is fixed
// width so that stored values sort lexicographically in time order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// PendingOrder is an order email that is waiting for a reply.
type PendingOrder struct {
	TrackingID     string     `json:"tracking_id"`
	ChatID         int64      `json:"chat_id"`
	UserID         int64      `json:"user_id"`
	MessageID      int        `json:"message_id"`
	EmailSentTo    string     `json:"email_sent_to"`
	EmailSubject   string     `json:"email_subject"`
	SentAt         time.Time  `json:"sent_at"`
	EmailMessageID string     `json:"email_message_id,omitempty"`
	LastReminderAt *time.Time `json:"last_reminder_at,omitempty"`
}

// ReminderReference returns the instant the reminder window is measured from:
// the last reminder if one was sent, otherwise the time the email went out.
func (o PendingOrder) ReminderReference() time.Time {
	if o.LastReminderAt != nil {
		return *o.LastReminderAt
	}
	return o.SentAt
}

// OrderRecord is the persisted row for a PendingOrder. Rows are partitioned
// by user and keyed by tracking id; timestamps are stored as strings.
type OrderRecord struct {
	PartitionKey   string  `json:"partition_key" gorm:"column:partition_key;type:varchar(32);not null;index"`
	RowKey         string  `json:"row_key" gorm:"column:row_key;type:varchar(128);primaryKey"`
	ChatID         int64   `json:"chat_id" gorm:"not null"`
	UserID         int64   `json:"user_id" gorm:"not null"`
	MessageID      int     `json:"message_id"`
	EmailSentTo    string  `json:"email_sent_to" gorm:"type:varchar(255);not null"`
	EmailSubject   string  `json:"email_subject" gorm:"type:varchar(255);not null"`
	SentAt         string  `json:"sent_at" gorm:"type:varchar(40);not null;index"`
	EmailMessageID *string `json:"email_message_id,omitempty" gorm:"type:varchar(255)"`
	LastReminderAt *string `json:"last_reminder_at,omitempty" gorm:"type:varchar(40)"`
}

// TableName specifies the table name for OrderRecord
func (OrderRecord) TableName() string {
	return "pending_orders"
}

// PartitionKeyFor returns the partition key of a user's orders.
func PartitionKeyFor(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// FormatTimestamp renders t in the persisted layout, always in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a persisted timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// NewOrderRecord converts an order into its persisted form.
func NewOrderRecord(o PendingOrder) OrderRecord {
	rec := OrderRecord{
		PartitionKey: PartitionKeyFor(o.UserID),
		RowKey:       o.TrackingID,
		ChatID:       o.ChatID,
		UserID:       o.UserID,
		MessageID:    o.MessageID,
		EmailSentTo:  o.EmailSentTo,
		EmailSubject: o.EmailSubject,
		SentAt:       FormatTimestamp(o.SentAt),
	}
	if o.EmailMessageID != "" {
		id := o.EmailMessageID
		rec.EmailMessageID = &id
	}
	if o.LastReminderAt != nil {
		ts := FormatTimestamp(*o.LastReminderAt)
		rec.LastReminderAt = &ts
	}
	return rec
}

// ToPendingOrder converts a persisted row back into an order.
func (r OrderRecord) ToPendingOrder() (PendingOrder, error) {
	sentAt, err := ParseTimestamp(r.SentAt)
	if err != nil {
		return PendingOrder{}, fmt.Errorf("order %s sent_at: %w", r.RowKey, err)
	}

	o := PendingOrder{
		TrackingID:   r.RowKey,
		ChatID:       r.ChatID,
		UserID:       r.UserID,
		MessageID:    r.MessageID,
		EmailSentTo:  r.EmailSentTo,
		EmailSubject: r.EmailSubject,
		SentAt:       sentAt,
	}
	if r.EmailMessageID != nil {
		o.EmailMessageID = *r.EmailMessageID
	}
	if r.LastReminderAt != nil && *r.LastReminderAt != "" {
		at, err := ParseTimestamp(*r.LastReminderAt)
		if err != nil {
			return PendingOrder{}, fmt.Errorf("order %s last_reminder_at: %w", r.RowKey, err)
		}
		o.LastReminderAt = &at
	}
	return o, nil
}

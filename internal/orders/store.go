// Package orders tracks order emails that are waiting for a reply.
//
// Three Store backends share one contract: GormStore (SQL, durable),
// RedisStore (durable) and MemoryStore (process lifetime only). A durable
// store whose backing resource is unavailable at construction runs degraded:
// the condition is logged once and every operation then returns empty
// results without an error, so the chat path keeps working.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"water-order-bot/internal/model"
)

// ErrNotFound is returned by Get when no order has the tracking id.
var ErrNotFound = errors.New("order not found")

// Store persists pending orders.
type Store interface {
	// Create assigns a tracking id, persists the order and returns the id.
	Create(ctx context.Context, order model.PendingOrder) (string, error)
	// ListPending returns a snapshot ordered by SentAt, then tracking id.
	ListPending(ctx context.Context) ([]model.PendingOrder, error)
	Get(ctx context.Context, trackingID string) (*model.PendingOrder, error)
	// Complete deletes the order. Deleting an absent order is not an error.
	Complete(ctx context.Context, trackingID string) error
	// UpdateReminder sets LastReminderAt. A missing order is not an error.
	UpdateReminder(ctx context.Context, trackingID string, at time.Time) error
	Count(ctx context.Context) (int, error)
	// PurgeOlderThan deletes orders sent before cutoff.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	// Degraded reports whether the store runs without persistence.
	Degraded() bool
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp new orders.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewTrackingID builds a tracking id from the chat, the user and the
// creation instant. The random suffix keeps ids distinct when the same user
// orders twice within one millisecond. Underscores separate the parts so
// negative group chat ids stay unambiguous.
func NewTrackingID(chatID, userID int64, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d_%d_%d_%s", chatID, userID, at.UnixMilli(), suffix)
}

// PartitionKeyOf extracts the user partition from a tracking id.
func PartitionKeyOf(trackingID string) (string, error) {
	parts := strings.Split(trackingID, "_")
	if len(parts) < 3 {
		return "", fmt.Errorf("malformed tracking id %q", trackingID)
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return "", fmt.Errorf("malformed tracking id %q: %w", trackingID, err)
	}
	return parts[1], nil
}

// prepare stamps a new order with its creation time and tracking id.
func prepare(order model.PendingOrder, now time.Time) model.PendingOrder {
	if order.SentAt.IsZero() {
		order.SentAt = now
	}
	order.SentAt = order.SentAt.UTC()
	order.LastReminderAt = nil
	order.TrackingID = NewTrackingID(order.ChatID, order.UserID, now)
	return order
}

func sortOrders(list []model.PendingOrder) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].SentAt.Equal(list[j].SentAt) {
			return list[i].SentAt.Before(list[j].SentAt)
		}
		return list[i].TrackingID < list[j].TrackingID
	})
}

func copyOrder(o model.PendingOrder) model.PendingOrder {
	if o.LastReminderAt != nil {
		at := *o.LastReminderAt
		o.LastReminderAt = &at
	}
	return o
}

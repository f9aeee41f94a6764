// Package monitor reconciles pending orders against the mailbox: it notifies
// users about replies and reminds them about orders nobody answered.
package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"water-order-bot/internal/mailbox"
	"water-order-bot/internal/metrics"
	"water-order-bot/internal/model"
	"water-order-bot/internal/notifier"
	"water-order-bot/internal/orders"
)

// ReminderInterval is the minimum spacing between reminders for one order.
const ReminderInterval = 24 * time.Hour

// MaxReplyLength is the number of characters of a reply shown to the user.
const MaxReplyLength = 500

// PassResult summarises one reconciliation pass.
type PassResult struct {
	Skipped   bool          `json:"skipped"`
	Pending   int           `json:"pending"`
	Replies   int           `json:"replies"`
	Reminders int           `json:"reminders"`
	Failures  int           `json:"failures"`
	Duration  time.Duration `json:"duration"`
}

// Engine runs reconciliation passes. At most one pass runs at a time.
type Engine struct {
	store    orders.Store
	mailbox  mailbox.Mailbox
	notifier notifier.Notifier
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	now      func() time.Time
	running  atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for reminder decisions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records pass outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over its collaborators.
func NewEngine(store orders.Store, mb mailbox.Mailbox, n notifier.Notifier, log logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		mailbox:  mb,
		notifier: n,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Running reports whether a pass is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeReply
	outcomeReminder
)

// RunOnce runs one reconciliation pass. If another pass is in progress it
// returns immediately with Skipped set. Orders are processed one at a time
// and a failure on one order never stops the others; only a failure to list
// the pending orders is returned.
func (e *Engine) RunOnce(ctx context.Context) (PassResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.log.Info("Skipping reconciliation pass, previous pass still running")
		if e.metrics != nil {
			e.metrics.SkippedPasses.Inc()
		}
		return PassResult{Skipped: true}, nil
	}
	defer e.running.Store(false)

	start := time.Now()
	log := e.log.WithField("pass", uuid.NewString()[:8])

	var result PassResult
	defer func() {
		result.Duration = time.Since(start)
		if e.metrics != nil {
			e.metrics.Passes.Inc()
			e.metrics.PassDuration.Observe(result.Duration.Seconds())
		}
	}()

	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list pending orders: %w", err)
	}
	result.Pending = len(pending)
	if e.metrics != nil {
		e.metrics.PendingOrders.Set(float64(len(pending)))
	}
	if len(pending) == 0 {
		log.Debug("No pending orders to check")
		return result, nil
	}

	log.WithField("pending", len(pending)).Info("Checking pending orders for replies")
	now := e.now()

	for _, order := range pending {
		orderLog := log.WithFields(logrus.Fields{
			"tracking_id": order.TrackingID,
			"chat_id":     order.ChatID,
		})

		out, err := e.processOrder(ctx, orderLog, order, now)
		switch out {
		case outcomeReply:
			result.Replies++
		case outcomeReminder:
			result.Reminders++
		}
		if err != nil {
			result.Failures++
			orderLog.WithError(err).Error("Failed to process pending order")
		}
	}

	log.WithFields(logrus.Fields{
		"replies":   result.Replies,
		"reminders": result.Reminders,
		"failures":  result.Failures,
	}).Info("Reconciliation pass completed")
	return result, nil
}

func (e *Engine) processOrder(ctx context.Context, log logrus.FieldLogger, order model.PendingOrder, now time.Time) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing order: %v", r)
		}
	}()

	replies, err := e.mailbox.Search(ctx, model.SearchQuery{
		From:            order.EmailSentTo,
		SubjectContains: order.EmailSubject,
		After:           order.SentAt,
		Limit:           mailbox.MaxSearchResults,
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.MailboxErrors.Inc()
		}
		return outcomeNone, fmt.Errorf("failed to search for reply: %w", err)
	}

	if len(replies) > 0 {
		// The newest candidate is the reply; older ones are ignored.
		reply := replies[0]
		log.WithField("email_id", reply.ID).Info("Reply received")
		if e.metrics != nil {
			e.metrics.RepliesFound.Inc()
		}

		if err := e.notifier.Notify(ctx, ReplyMessage(order.ChatID, reply.Body)); err != nil {
			// The reply did arrive; completing keeps the order out of the
			// reminder loop even though the user was not told.
			log.WithError(err).Warn("Failed to deliver reply notification, completing order anyway")
			if e.metrics != nil {
				e.metrics.NotificationFailures.Inc()
			}
		}

		if err := e.store.Complete(ctx, order.TrackingID); err != nil {
			return outcomeReply, fmt.Errorf("failed to complete order: %w", err)
		}
		return outcomeReply, nil
	}

	if !ReminderDue(order, now) {
		return outcomeNone, nil
	}

	if err := e.notifier.Notify(ctx, ReminderMessage(order, now)); err != nil {
		if e.metrics != nil {
			e.metrics.NotificationFailures.Inc()
		}
		return outcomeNone, fmt.Errorf("failed to send reminder: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RemindersSent.Inc()
	}
	if err := e.store.UpdateReminder(ctx, order.TrackingID, now); err != nil {
		return outcomeReminder, fmt.Errorf("failed to record reminder: %w", err)
	}
	log.WithField("hours", hoursSince(order.SentAt, now)).Info("Reminder sent")
	return outcomeReminder, nil
}

// ReminderDue reports whether a reminder may be sent at now: a full
// ReminderInterval has passed since the last reminder, or since the email
// was sent when there has been none.
func ReminderDue(order model.PendingOrder, now time.Time) bool {
	return now.Sub(order.ReminderReference()) >= ReminderInterval
}

// ReplyMessage is the notification for a received reply.
func ReplyMessage(chatID int64, body string) notifier.Message {
	return notifier.Message{
		ChatID: chatID,
		Text: "📨 *Reply Received!*\n\n" +
			"You have a new reply to your water delivery order:\n\n" +
			Truncate(body, MaxReplyLength),
		Markdown: true,
		Buttons: []notifier.Button{
			{Text: "💧 Order water", Data: notifier.ActionOrderWater},
			{Text: "📧 Read latest email", Data: notifier.ActionReadEmail},
		},
	}
}

// ReminderMessage is the notification for an order without a reply.
func ReminderMessage(order model.PendingOrder, now time.Time) notifier.Message {
	return notifier.Message{
		ChatID: order.ChatID,
		Text: "⏰ *No answer yet*\n\n" +
			fmt.Sprintf("Your water delivery order sent %d hours ago has not been answered yet.\n\n", hoursSince(order.SentAt, now)) +
			"I'll keep checking and notify you when a reply arrives.",
		Markdown: true,
	}
}

// Truncate shortens s to max characters, marking the cut with "...".
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func hoursSince(t, now time.Time) int {
	return int(now.Sub(t) / time.Hour)
}

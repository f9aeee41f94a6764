package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"water-order-bot/internal/config"
	"water-order-bot/internal/mailbox"
	"water-order-bot/internal/metrics"
	"water-order-bot/internal/model"
	"water-order-bot/internal/monitor"
	"water-order-bot/internal/orders"
)

// MaxPreviewLength is the number of body characters shown for the latest email.
const MaxPreviewLength = 100

var (
	// ErrRecipientNotConfigured is returned when no order recipient is set.
	ErrRecipientNotConfigured = errors.New("order recipient not configured")
	// ErrNotTracked is returned when the order email went out but the order
	// could not be stored, so no reply will be reported for it.
	ErrNotTracked = errors.New("order sent but not tracked")
)

// OrderRequest identifies who placed an order and from which message.
type OrderRequest struct {
	ChatID    int64
	UserID    int64
	MessageID int
}

// OrderService sends order emails and tracks them until they are answered
type OrderService struct {
	mailbox mailbox.Mailbox
	store   orders.Store
	config  config.OrderConfig
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

// NewOrderService creates an order service. m may be nil.
func NewOrderService(mb mailbox.Mailbox, store orders.Store, cfg config.OrderConfig, m *metrics.Metrics, log logrus.FieldLogger) *OrderService {
	return &OrderService{mailbox: mb, store: store, config: cfg, metrics: m, log: log}
}

// Recipient returns the configured order recipient.
func (s *OrderService) Recipient() string {
	return s.config.Recipient
}

// PlaceOrder sends the order email and starts tracking it. Nothing is
// tracked when sending fails.
func (s *OrderService) PlaceOrder(ctx context.Context, req OrderRequest) (*model.PendingOrder, error) {
	if s.config.Recipient == "" {
		return nil, ErrRecipientNotConfigured
	}

	log := s.log.WithFields(logrus.Fields{
		"chat_id": req.ChatID,
		"user_id": req.UserID,
		"to":      s.config.Recipient,
		"subject": s.config.Subject,
	})
	log.Info("Sending order email")

	messageID, err := s.mailbox.Send(ctx, s.config.Recipient, s.config.Subject, s.config.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to send order email: %w", err)
	}

	order := model.PendingOrder{
		ChatID:         req.ChatID,
		UserID:         req.UserID,
		MessageID:      req.MessageID,
		EmailSentTo:    s.config.Recipient,
		EmailSubject:   s.config.Subject,
		EmailMessageID: messageID,
	}
	trackingID, err := s.store.Create(ctx, order)
	if err != nil {
		log.WithError(err).Error("Order email sent but order could not be tracked")
		return &order, fmt.Errorf("%w: %v", ErrNotTracked, err)
	}
	order.TrackingID = trackingID

	if s.metrics != nil {
		s.metrics.OrdersCreated.Inc()
	}
	log.WithField("tracking_id", trackingID).Info("Order email sent and tracked")
	return &order, nil
}

// LatestEmail returns the newest email from the order recipient, or nil
// when there is none.
func (s *OrderService) LatestEmail(ctx context.Context) (*model.Email, error) {
	if s.config.Recipient == "" {
		return nil, ErrRecipientNotConfigured
	}

	emails, err := s.mailbox.Search(ctx, model.SearchQuery{From: s.config.Recipient, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest email: %w", err)
	}
	if len(emails) == 0 {
		return nil, nil
	}
	return &emails[0], nil
}

// FormatLatestEmail renders e for the chat with its body shortened.
func FormatLatestEmail(e model.Email) string {
	date := e.DateHeader
	if date == "" && !e.Date.IsZero() {
		date = e.Date.Format("Mon, 2 Jan 2006 15:04:05 -0700")
	}
	return "📧 *Latest Email*\n\n" +
		fmt.Sprintf("📅 *Date:* %s\n", date) +
		fmt.Sprintf("👤 *From:* %s\n", e.From) +
		fmt.Sprintf("📝 *Subject:* %s\n\n", e.Subject) +
		"*Body:*\n" + monitor.Truncate(e.Body, MaxPreviewLength)
}

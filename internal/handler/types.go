package handler

import (
	"time"

	"water-order-bot/internal/model"
)

// OrderResponse represents a pending order in API responses
type OrderResponse struct {
	TrackingID     string     `json:"tracking_id"`
	ChatID         int64      `json:"chat_id"`
	UserID         int64      `json:"user_id"`
	EmailSentTo    string     `json:"email_sent_to"`
	EmailSubject   string     `json:"email_subject"`
	SentAt         time.Time  `json:"sent_at"`
	LastReminderAt *time.Time `json:"last_reminder_at,omitempty"`
}

func newOrderResponse(o model.PendingOrder) OrderResponse {
	return OrderResponse{
		TrackingID:     o.TrackingID,
		ChatID:         o.ChatID,
		UserID:         o.UserID,
		EmailSentTo:    o.EmailSentTo,
		EmailSubject:   o.EmailSubject,
		SentAt:         o.SentAt,
		LastReminderAt: o.LastReminderAt,
	}
}

// OrderListResponse represents the pending order list
type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
	Count  int             `json:"count"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	Store         string            `json:"store"`
	PendingOrders int               `json:"pending_orders"`
	Scheduler     map[string]string `json:"scheduler,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

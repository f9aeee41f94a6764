// Package notifier delivers messages to chat recipients.
package notifier

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Callback data of the buttons attached to reply notifications.
const (
	ActionOrderWater = "action_order_water"
	ActionReadEmail  = "action_read_email"
)

// Button is an inline button sending Data back when pressed. Each button
// is rendered on its own row.
type Button struct {
	Text string
	Data string
}

// Message is one chat message.
type Message struct {
	ChatID   int64
	Text     string
	Markdown bool
	Buttons  []Button
}

// Notifier delivers messages to a chat.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// API is the subset of the Telegram client used here. *tgbotapi.BotAPI
// satisfies it.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TelegramNotifier sends messages through the Telegram Bot API
type TelegramNotifier struct {
	api API
	log logrus.FieldLogger
}

// NewTelegramNotifier creates a notifier for api
func NewTelegramNotifier(api API, log logrus.FieldLogger) *TelegramNotifier {
	return &TelegramNotifier{api: api, log: log}
}

// Notify sends msg. When Telegram rejects the Markdown the message is sent
// again as plain text.
func (n *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := MessageConfig(msg)
	_, err := n.api.Send(cfg)
	if err != nil && msg.Markdown && isEntityParseError(err) {
		n.log.WithError(err).WithField("chat_id", msg.ChatID).Warn("Markdown rejected, resending as plain text")
		cfg.ParseMode = ""
		_, err = n.api.Send(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to send message to chat %d: %w", msg.ChatID, err)
	}
	return nil
}

// MessageConfig converts msg into a Telegram send request.
func MessageConfig(msg Message) tgbotapi.MessageConfig {
	cfg := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	if msg.Markdown {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if len(msg.Buttons) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data)))
		}
		cfg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	return cfg
}

func isEntityParseError(err error) bool {
	return strings.Contains(err.Error(), "can't parse entities")
}

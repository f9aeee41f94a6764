// Package bot implements the chat commands: ordering water and reading the
// latest email from the supplier.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"water-order-bot/internal/model"
	"water-order-bot/internal/notifier"
	"water-order-bot/internal/service"
)

// Keyboard labels and inline callback data.
const (
	ButtonOrderWater = "Order water"
	ButtonReadEmail  = "Read latest email"

	CallbackConfirmOrder = "confirm_order"
	CallbackCancelOrder  = "cancel_order"
)

// Texts shown to the user.
const (
	TextWelcome         = "This bot can order water delivery for you"
	TextNotRecognized   = "User not recognized"
	TextConfirmPrompt   = "Do you want to order water now?"
	TextNotConfirmed    = "Delivery not confirmed"
	TextSending         = "Sending email..."
	TextOrderSent       = "✅ Email sent! Your water delivery order has been submitted.\n\n💡 I'll notify you when you receive a reply."
	TextOrderFailed     = "❌ Failed to send email. Please try again or contact support."
	TextFetching        = "Fetching latest email..."
	TextFetchFailed     = "Failed to fetch email. Please check the logs for details."
	TextNoRecipient     = "Error: EMAIL_SENDER_FILTER not configured"
	TextNoRecipientEdit = "Error: Email recipient not configured"
)

// Orders places orders and reads the supplier's mail.
type Orders interface {
	Recipient() string
	PlaceOrder(ctx context.Context, req service.OrderRequest) (*model.PendingOrder, error)
	LatestEmail(ctx context.Context) (*model.Email, error)
}

// Bot handles Telegram updates for whitelisted users
type Bot struct {
	api       notifier.API
	notifier  *notifier.TelegramNotifier
	orders    Orders
	whitelist map[int64]struct{}
	log       logrus.FieldLogger
}

// New creates a bot. An empty whitelist denies every user.
func New(api notifier.API, orders Orders, whitelist []int64, log logrus.FieldLogger) *Bot {
	allowed := make(map[int64]struct{}, len(whitelist))
	for _, id := range whitelist {
		allowed[id] = struct{}{}
	}
	if len(allowed) == 0 {
		log.Warn("No whitelisted users configured; all users are denied")
	}
	return &Bot{
		api:       api,
		notifier:  notifier.NewTelegramNotifier(api, log),
		orders:    orders,
		whitelist: allowed,
		log:       log,
	}
}

// Run handles updates until ctx is done or the channel is closed.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate processes one update. Failures are logged; the update is
// never redelivered.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	user := update.SentFrom()
	chat := update.FromChat()
	if user == nil || chat == nil {
		return
	}

	log := b.log.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.UserName,
		"chat_id":  chat.ID,
	})

	if !b.authorized(user.ID) {
		log.WithField("name", strings.TrimSpace(user.FirstName+" "+user.LastName)).Warn("Unauthorized access attempt")
		if update.CallbackQuery != nil {
			b.answer(log, update.CallbackQuery.ID, "")
		}
		b.send(log, tgbotapi.NewMessage(chat.ID, TextNotRecognized))
		return
	}

	switch {
	case update.Message != nil:
		b.handleMessage(ctx, log, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, log, update.CallbackQuery)
	}
}

func (b *Bot) authorized(userID int64) bool {
	_, ok := b.whitelist[userID]
	return ok
}

func (b *Bot) handleMessage(ctx context.Context, log logrus.FieldLogger, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		if msg.Command() == "start" {
			log.Info("User interaction: /start command")
			reply := tgbotapi.NewMessage(chatID, TextWelcome)
			keyboard := tgbotapi.NewReplyKeyboard(
				tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(ButtonOrderWater)),
				tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(ButtonReadEmail)),
			)
			keyboard.ResizeKeyboard = true
			reply.ReplyMarkup = keyboard
			b.send(log, reply)
		}
		return
	}

	switch strings.TrimSpace(msg.Text) {
	case ButtonOrderWater:
		log.Info("User interaction: Order water button")
		b.askConfirmation(log, chatID)
	case ButtonReadEmail:
		log.Info("User interaction: Read latest email button")
		b.readLatestEmail(ctx, log, chatID)
	}
}

func (b *Bot) handleCallback(ctx context.Context, log logrus.FieldLogger, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		b.answer(log, cb.ID, "")
		return
	}
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID

	switch cb.Data {
	case CallbackCancelOrder:
		log.Info("User interaction: Cancel order button")
		b.send(log, tgbotapi.NewEditMessageText(chatID, messageID, TextNotConfirmed))
		b.answer(log, cb.ID, "")

	case CallbackConfirmOrder:
		log.Info("User interaction: Confirm order button")
		b.confirmOrder(ctx, log, cb)

	case notifier.ActionOrderWater:
		b.answer(log, cb.ID, "")
		b.askConfirmation(log, chatID)

	case notifier.ActionReadEmail:
		b.answer(log, cb.ID, "")
		b.readLatestEmail(ctx, log, chatID)

	default:
		b.answer(log, cb.ID, "")
	}
}

func (b *Bot) askConfirmation(log logrus.FieldLogger, chatID int64) {
	msg := tgbotapi.NewMessage(chatID, TextConfirmPrompt)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Yes, send email", CallbackConfirmOrder),
		tgbotapi.NewInlineKeyboardButtonData("Cancel", CallbackCancelOrder),
	))
	b.send(log, msg)
}

func (b *Bot) confirmOrder(ctx context.Context, log logrus.FieldLogger, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID

	if b.orders.Recipient() == "" {
		b.answer(log, cb.ID, TextNoRecipient)
		b.send(log, tgbotapi.NewEditMessageText(chatID, messageID, TextNoRecipientEdit))
		return
	}

	b.send(log, tgbotapi.NewEditMessageText(chatID, messageID, TextSending))

	order, err := b.orders.PlaceOrder(ctx, service.OrderRequest{
		ChatID:    chatID,
		UserID:    cb.From.ID,
		MessageID: messageID,
	})
	if err != nil && !errors.Is(err, service.ErrNotTracked) {
		log.WithError(err).Error("Error sending order email")
		b.send(log, tgbotapi.NewEditMessageText(chatID, messageID, TextOrderFailed))
		b.answer(log, cb.ID, "Failed to send email")
		return
	}
	if order != nil {
		log = log.WithField("tracking_id", order.TrackingID)
	}
	log.Info("Order placed")

	b.send(log, tgbotapi.NewEditMessageText(chatID, messageID, TextOrderSent))
	b.answer(log, cb.ID, "Email sent successfully")
}

func (b *Bot) readLatestEmail(ctx context.Context, log logrus.FieldLogger, chatID int64) {
	recipient := b.orders.Recipient()
	if recipient == "" {
		b.send(log, tgbotapi.NewMessage(chatID, TextNoRecipient))
		return
	}

	log.WithField("from", recipient).Info("Querying latest email")
	b.send(log, tgbotapi.NewMessage(chatID, TextFetching))

	email, err := b.orders.LatestEmail(ctx)
	if err != nil {
		log.WithError(err).Error("Error reading email")
		b.send(log, tgbotapi.NewMessage(chatID, TextFetchFailed))
		return
	}
	if email == nil {
		b.send(log, tgbotapi.NewMessage(chatID, fmt.Sprintf("No emails found from %s", recipient)))
		return
	}

	msg := notifier.Message{
		ChatID:   chatID,
		Text:     service.FormatLatestEmail(*email),
		Markdown: true,
	}
	if err := b.notifier.Notify(ctx, msg); err != nil {
		log.WithError(err).Warn("Failed to send latest email")
	}
}

func (b *Bot) send(log logrus.FieldLogger, c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		log.WithError(err).Warn("Failed to send chat message")
	}
}

func (b *Bot) answer(log logrus.FieldLogger, callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		log.WithError(err).Warn("Failed to answer callback query")
	}
}

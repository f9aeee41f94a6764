package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"water-order-bot/internal/model"
	"water-order-bot/internal/notifier"
	"water-order-bot/internal/service"
)

type mockAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	answered []tgbotapi.CallbackConfig
	// rejectMarkdown fails Markdown messages the way Telegram does for
	// unbalanced entities.
	rejectMarkdown bool
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mc, ok := c.(tgbotapi.MessageConfig); ok && m.rejectMarkdown && mc.ParseMode != "" {
		return tgbotapi.Message{}, errors.New("Bad Request: can't parse entities: Can't find end of the entity starting at byte offset 42")
	}
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		m.answered = append(m.answered, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// texts returns the text of every message and edit, in order.
func (m *mockAPI) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.sent {
		switch v := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, v.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, v.Text)
		}
	}
	return out
}

type mockOrders struct {
	recipient string
	placeErr  error
	placed    []service.OrderRequest
	latest    *model.Email
	latestErr error
}

func (m *mockOrders) Recipient() string { return m.recipient }

func (m *mockOrders) PlaceOrder(_ context.Context, req service.OrderRequest) (*model.PendingOrder, error) {
	m.placed = append(m.placed, req)
	if m.placeErr != nil && !errors.Is(m.placeErr, service.ErrNotTracked) {
		return nil, m.placeErr
	}
	return &model.PendingOrder{TrackingID: "1_2_3_abc"}, m.placeErr
}

func (m *mockOrders) LatestEmail(context.Context) (*model.Email, error) {
	return m.latest, m.latestErr
}

const allowedUser = int64(42)

func newTestBot(orders *mockOrders, whitelist ...int64) (*Bot, *mockAPI) {
	api := &mockAPI{}
	log, _ := test.NewNullLogger()
	return New(api, orders, whitelist, log), api
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: -100},
		Text:      text,
		Date:      int(time.Now().Unix()),
	}
	if len(text) > 0 && text[0] == '/' {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 2,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-1",
			From: &tgbotapi.User{ID: userID},
			Data: data,
			Message: &tgbotapi.Message{
				MessageID: 55,
				Chat:      &tgbotapi.Chat{ID: -100},
			},
		},
	}
}

func TestEmptyWhitelistDeniesEveryone(t *testing.T) {
	b, api := newTestBot(&mockOrders{recipient: "ops@example.com"})

	b.HandleUpdate(context.Background(), textUpdate(allowedUser, "/start"))
	assert.Equal(t, []string{TextNotRecognized}, api.texts())
}

func TestUnlistedUserDenied(t *testing.T) {
	orders := &mockOrders{recipient: "ops@example.com"}
	b, api := newTestBot(orders, allowedUser)

	b.HandleUpdate(context.Background(), callbackUpdate(7, CallbackConfirmOrder))
	assert.Equal(t, []string{TextNotRecognized}, api.texts())
	assert.Len(t, api.answered, 1)
	assert.Empty(t, orders.placed)
}

func TestStartShowsKeyboard(t *testing.T) {
	b, api := newTestBot(&mockOrders{}, allowedUser)

	b.HandleUpdate(context.Background(), textUpdate(allowedUser, "/start"))
	require.Len(t, api.sent, 1)
	msg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, TextWelcome, msg.Text)

	keyboard, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, keyboard.Keyboard, 2)
	assert.Equal(t, ButtonOrderWater, keyboard.Keyboard[0][0].Text)
	assert.Equal(t, ButtonReadEmail, keyboard.Keyboard[1][0].Text)
}

func TestOrderWaterAsksForConfirmation(t *testing.T) {
	b, api := newTestBot(&mockOrders{}, allowedUser)

	b.HandleUpdate(context.Background(), textUpdate(allowedUser, ButtonOrderWater))
	require.Len(t, api.sent, 1)
	msg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, TextConfirmPrompt, msg.Text)

	markup := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.Equal(t, CallbackConfirmOrder, *markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, CallbackCancelOrder, *markup.InlineKeyboard[0][1].CallbackData)
}

func TestCancelOrder(t *testing.T) {
	orders := &mockOrders{recipient: "ops@example.com"}
	b, api := newTestBot(orders, allowedUser)

	b.HandleUpdate(context.Background(), callbackUpdate(allowedUser, CallbackCancelOrder))
	assert.Equal(t, []string{TextNotConfirmed}, api.texts())
	assert.Len(t, api.answered, 1)
	assert.Empty(t, orders.placed)
}

func TestConfirmOrder(t *testing.T) {
	orders := &mockOrders{recipient: "ops@example.com"}
	b, api := newTestBot(orders, allowedUser)

	b.HandleUpdate(context.Background(), callbackUpdate(allowedUser, CallbackConfirmOrder))
	assert.Equal(t, []string{TextSending, TextOrderSent}, api.texts())
	require.Len(t, orders.placed, 1)
	assert.Equal(t, service.OrderRequest{ChatID: -100, UserID: allowedUser, MessageID: 55}, orders.placed[0])
	require.Len(t, api.answered, 1)
	assert.Equal(t, "Email sent successfully", api.answered[0].Text)
}

func TestConfirmOrderSendFailure(t *testing.T) {
	orders := &mockOrders{recipient: "ops@example.com", placeErr: errors.New("smtp down")}
	b, api := newTestBot(orders, allowedUser)

	b.HandleUpdate(context.Background(), callbackUpdate(allowedUser, CallbackConfirmOrder))
	assert.Equal(t, []string{TextSending, TextOrderFailed}, api.texts())
	assert.Equal(t, "Failed to send email", api.answered[0].Text)
}

func TestConfirmOrderUntrackedStillReportsSent(t *testing.T) {
	orders := &mockOrders{recipient: "ops@example.com", placeErr: service.ErrNotTracked}
	b, api := newTestBot(orders, allowedUser)

	b.HandleUpdate(context.Background(), callbackUpdate(allowedUser, CallbackConfirmOrder))
	assert.Equal(t, []string{TextSending, TextOrderSent}, api.texts())
}

func TestConfirmOrderWithoutRecipient(t *testing.T) {
	orders := &mockOrders{}
	b, api := newTestBot(orders, allowedUser)

	b.HandleUpdate(context.Background(), callbackUpdate(allowedUser, CallbackConfirmOrder))
	assert.Equal(t, []string{TextNoRecipientEdit}, api.texts())
	assert.Equal(t, TextNoRecipient, api.answered[0].Text)
	assert.Empty(t, orders.placed)
}

func TestReadLatestEmail(t *testing.T) {
	orders := &mockOrders{
		recipient: "ops@example.com",
		latest:    &model.Email{DateHeader: "today", From: "ops@example.com", Subject: "Hi", Body: "Body"},
	}
	b, api := newTestBot(orders, allowedUser)

	b.HandleUpdate(context.Background(), textUpdate(allowedUser, ButtonReadEmail))
	texts := api.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, TextFetching, texts[0])
	assert.Contains(t, texts[1], "📧 *Latest Email*")
	assert.Equal(t, tgbotapi.ModeMarkdown, api.sent[1].(tgbotapi.MessageConfig).ParseMode)
}

func TestReadLatestEmailFallsBackToPlainText(t *testing.T) {
	orders := &mockOrders{
		recipient: "ops@example.com",
		latest:    &model.Email{DateHeader: "today", From: "john_doe@example.com", Subject: "Hi", Body: "Body *bold"},
	}
	b, api := newTestBot(orders, allowedUser)
	api.rejectMarkdown = true

	b.HandleUpdate(context.Background(), textUpdate(allowedUser, ButtonReadEmail))
	texts := api.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, TextFetching, texts[0])
	assert.Contains(t, texts[1], "john_doe@example.com")
	assert.Empty(t, api.sent[1].(tgbotapi.MessageConfig).ParseMode)
}

func TestReadLatestEmailNone(t *testing.T) {
	b, api := newTestBot(&mockOrders{recipient: "ops@example.com"}, allowedUser)

	b.HandleUpdate(context.Background(), textUpdate(allowedUser, ButtonReadEmail))
	assert.Equal(t, []string{TextFetching, "No emails found from ops@example.com"}, api.texts())
}

func TestReadLatestEmailFailure(t *testing.T) {
	b, api := newTestBot(&mockOrders{recipient: "ops@example.com", latestErr: errors.New("quota")}, allowedUser)

	b.HandleUpdate(context.Background(), textUpdate(allowedUser, ButtonReadEmail))
	assert.Equal(t, []string{TextFetching, TextFetchFailed}, api.texts())
}

func TestReadLatestEmailWithoutRecipient(t *testing.T) {
	b, api := newTestBot(&mockOrders{}, allowedUser)

	b.HandleUpdate(context.Background(), textUpdate(allowedUser, ButtonReadEmail))
	assert.Equal(t, []string{TextNoRecipient}, api.texts())
}

func TestReplyNotificationButtons(t *testing.T) {
	orders := &mockOrders{recipient: "ops@example.com"}
	b, api := newTestBot(orders, allowedUser)

	b.HandleUpdate(context.Background(), callbackUpdate(allowedUser, notifier.ActionOrderWater))
	assert.Equal(t, []string{TextConfirmPrompt}, api.texts())

	b.HandleUpdate(context.Background(), callbackUpdate(allowedUser, notifier.ActionReadEmail))
	assert.Equal(t, []string{TextConfirmPrompt, TextFetching, "No emails found from ops@example.com"}, api.texts())
	assert.Len(t, api.answered, 2)
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	b, api := newTestBot(&mockOrders{}, allowedUser)
	updates := make(chan tgbotapi.Update, 1)
	updates <- textUpdate(allowedUser, "/start")
	close(updates)

	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), updates)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{TextWelcome}, api.texts())
}

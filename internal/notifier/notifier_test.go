package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	errs []error
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := c.(tgbotapi.MessageConfig); ok {
		m.sent = append(m.sent, cfg)
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{MessageID: len(m.sent)}, nil
}

func (m *mockAPI) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func TestNotifySendsMarkdownWithButtons(t *testing.T) {
	api := &mockAPI{}
	log, _ := test.NewNullLogger()
	n := NewTelegramNotifier(api, log)

	err := n.Notify(context.Background(), Message{
		ChatID:   -100,
		Text:     "*hi*",
		Markdown: true,
		Buttons:  []Button{{Text: "Order water", Data: ActionOrderWater}},
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 1)

	sent := api.sent[0]
	assert.Equal(t, int64(-100), sent.ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, sent.ParseMode)
	markup, ok := sent.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, ActionOrderWater, *markup.InlineKeyboard[0][0].CallbackData)
}

func TestNotifyFallsBackToPlainText(t *testing.T) {
	api := &mockAPI{errs: []error{errors.New("Bad Request: can't parse entities: unexpected end")}}
	log, hook := test.NewNullLogger()
	n := NewTelegramNotifier(api, log)

	require.NoError(t, n.Notify(context.Background(), Message{ChatID: 1, Text: "a_b", Markdown: true}))
	require.Len(t, api.sent, 2)
	assert.Empty(t, api.sent[1].ParseMode)
	assert.Len(t, hook.Entries, 1)
}

func TestNotifyReturnsError(t *testing.T) {
	api := &mockAPI{errs: []error{errors.New("Forbidden: bot was blocked by the user")}}
	log, _ := test.NewNullLogger()
	n := NewTelegramNotifier(api, log)

	err := n.Notify(context.Background(), Message{ChatID: 1, Text: "x"})
	assert.Error(t, err)
	assert.Len(t, api.sent, 1)
}

func TestNotifyCancelledContext(t *testing.T) {
	api := &mockAPI{}
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, NewTelegramNotifier(api, log).Notify(ctx, Message{ChatID: 1, Text: "x"}), context.Canceled)
	assert.Empty(t, api.sent)
}

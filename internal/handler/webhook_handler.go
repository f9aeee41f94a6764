package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// WebhookPath is where Telegram delivers updates.
const WebhookPath = "/telegram-webhook"

// SecretTokenHeader carries the secret registered with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramWebhook accepts one update from Telegram
func (h *Handlers) TelegramWebhook(c *gin.Context) {
	if h.webhookSecret != "" {
		got := c.GetHeader(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid webhook secret",
				Code:    http.StatusUnauthorized,
			})
			return
		}
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid update body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	// An order email that went out must still be tracked if Telegram hangs
	// up before the handler finishes.
	ctx := context.WithoutCancel(c.Request.Context())
	h.bot.HandleUpdate(ctx, update)

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

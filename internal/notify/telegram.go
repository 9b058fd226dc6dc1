package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Telegram accepts about one message per second in a single chat.
const chatMessageInterval = time.Second

// Telegram posts critical escalations to an operator chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	pace   *rate.Limiter
	logger *slog.Logger
}

// NewTelegram authorizes the bot token against the Telegram API.
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	return NewTelegramWithClient(token, tgbotapi.APIEndpoint, chatID, http.DefaultClient, logger)
}

// NewTelegramWithClient is NewTelegram against a custom endpoint, in the
// "https://host/bot%s/%s" form the client library expects.
func NewTelegramWithClient(token, endpoint string, chatID int64, client *http.Client, logger *slog.Logger) (*Telegram, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram alerts enabled", "account", api.Self.UserName, "chat_id", chatID)
	return &Telegram{api: api, chatID: chatID, pace: rate.NewLimiter(rate.Every(chatMessageInterval), 1), logger: logger}, nil
}

// Alert posts title and body to the operator chat, waiting for the chat's
// send pace. It gives up when ctx ends before its turn.
func (t *Telegram) Alert(ctx context.Context, title, body string) error {
	if err := t.pace.Wait(ctx); err != nil {
		return fmt.Errorf("telegram alert throttled: %w", err)
	}
	msg := tgbotapi.NewMessage(t.chatID, strings.TrimSpace(title+"\n\n"+body))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

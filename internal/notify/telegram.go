package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramConfig configures a TelegramSink.
type TelegramConfig struct {
	Token    string
	ChatID   string
	ThreadID int
	// Endpoint is a bot API format string; empty means tgbotapi.APIEndpoint.
	Endpoint string
	Client   *http.Client
}

// TelegramSink posts events to a chat or forum thread.
type TelegramSink struct {
	cfg    TelegramConfig
	logger *zap.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTelegramSink creates a sink. The bot is authorized on first delivery.
func NewTelegramSink(cfg TelegramConfig, logger *zap.Logger) (*TelegramSink, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram: bot token and chat_id are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultTimeout}
	}
	return &TelegramSink{cfg: cfg, logger: logger}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) botAPI() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.cfg.Token, t.cfg.Endpoint, t.cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("authorize bot: %w", err)
	}
	t.logger.Debug("telegram bot authorized", zap.String("user", bot.Self.UserName))
	t.bot = bot
	return bot, nil
}

// Deliver sends the rendered event. The bot API client has no context
// support, so cancellation is bounded by the HTTP client timeout.
func (t *TelegramSink) Deliver(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := t.botAPI()
	if err != nil {
		return err
	}

	params := tgbotapi.Params{}
	params["chat_id"] = t.cfg.ChatID
	params["text"] = ev.Text()
	params.AddNonZero("message_thread_id", t.cfg.ThreadID)

	if _, err := bot.MakeRequest("sendMessage", params); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

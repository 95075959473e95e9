package notify

import (
	"context"
	"net/http"

	"github.com/eqho10/eqho-aios/internal/config"
	"go.uber.org/zap"
)

// FromConfig builds a dispatcher with every enabled integration. A sink
// that cannot be set up is logged and left out.
func FromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) *Dispatcher {
	in := cfg.Integrations
	d := NewDispatcher(in.Timeout, logger)
	client := &http.Client{Timeout: d.timeout}

	skip := func(name string, err error) {
		logger.Warn("notification sink disabled", zap.String("sink", name), zap.Error(err))
	}

	if in.Telegram.Enabled {
		if token, err := cfg.Secret(in.Telegram.BotTokenEnv); err != nil {
			skip("telegram", err)
		} else if s, err := NewTelegramSink(TelegramConfig{
			Token:    token,
			ChatID:   in.Telegram.ChatID,
			ThreadID: in.Telegram.ThreadID,
			Client:   client,
		}, logger); err != nil {
			skip("telegram", err)
		} else {
			d.Register(s)
		}
	}

	if in.Slack.Enabled {
		if token, err := cfg.Secret(in.Slack.BotTokenEnv); err != nil {
			skip("slack", err)
		} else if s, err := NewSlackSink(token, in.Slack.Channel, "", logger); err != nil {
			skip("slack", err)
		} else {
			d.Register(s)
		}
	}

	if in.Discord.Enabled {
		if token, err := cfg.Secret(in.Discord.BotTokenEnv); err != nil {
			skip("discord", err)
		} else if s, err := NewDiscordSink(token, in.Discord.ChannelID, logger); err != nil {
			skip("discord", err)
		} else {
			d.Register(s)
		}
	}

	if in.N8n.Enabled {
		if s, err := NewWebhookSink(in.N8n.WebhookURL, client); err != nil {
			skip("webhook", err)
		} else {
			d.Register(s)
		}
	}

	if in.Redis.Enabled {
		rctx, cancel := context.WithTimeout(ctx, d.timeout)
		s, err := NewRedisSink(rctx, in.Redis.URL, in.Redis.Stream, logger)
		cancel()
		if err != nil {
			skip("redis", err)
		} else {
			d.Register(s)
		}
	}

	return d
}

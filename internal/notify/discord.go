package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// discordLimit is the maximum message length Discord accepts.
const discordLimit = 2000

// DiscordSink posts events to a channel through the REST API. No gateway
// websocket is opened.
type DiscordSink struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordSink creates a sink authenticated as a bot.
func NewDiscordSink(token, channelID string, logger *zap.Logger) (*DiscordSink, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("discord: bot token and channel_id are required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordSink{session: session, channelID: channelID, logger: logger}, nil
}

func (d *DiscordSink) Name() string { return "discord" }

func (d *DiscordSink) Deliver(ctx context.Context, ev Event) error {
	text := truncate(ev.Text(), discordLimit-3)
	msg, err := d.session.ChannelMessageSend(d.channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	d.logger.Debug("discord message sent", zap.String("channel", d.channelID), zap.String("id", msg.ID))
	return nil
}

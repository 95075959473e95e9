package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackSink posts events to a Slack channel with a bot token.
type SlackSink struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackSink creates a sink. apiURL overrides the Slack API base and
// must end with a slash; empty uses the public API.
func NewSlackSink(token, channel, apiURL string, logger *zap.Logger) (*SlackSink, error) {
	if token == "" || channel == "" {
		return nil, fmt.Errorf("slack: bot token and channel are required")
	}
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &SlackSink{
		client:  slack.New(token, opts...),
		channel: channel,
		logger:  logger,
	}, nil
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(ctx context.Context, ev Event) error {
	_, ts, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(ev.Text(), false),
	)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	s.logger.Debug("slack message posted", zap.String("channel", s.channel), zap.String("ts", ts))
	return nil
}

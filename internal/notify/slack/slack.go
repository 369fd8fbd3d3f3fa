// Package slack mirrors notifications into a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	slackgo "github.com/slack-go/slack"

	"reglament/internal/notify/broadcast"
	logx "reglament/pkg/logx"
)

type Config struct {
	// WebhookURL posts through an incoming webhook.
	WebhookURL string
	// BotToken posts with chat.postMessage to Channel instead of the webhook.
	BotToken string
	Channel  string
	// APIURL overrides the Slack Web API base URL.
	APIURL string
}

// Sink is a broadcast sink writing one Slack message per notification.
type Sink struct {
	cfg    Config
	client *slackgo.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sink{cfg: cfg, log: log}
	switch {
	case cfg.BotToken != "":
		if strings.TrimSpace(cfg.Channel) == "" {
			return nil, errors.New("slack: bot token needs a channel")
		}
		var opts []slackgo.Option
		if cfg.APIURL != "" {
			opts = append(opts, slackgo.OptionAPIURL(cfg.APIURL))
		}
		s.client = slackgo.New(cfg.BotToken, opts...)
	case cfg.WebhookURL != "":
	default:
		return nil, errors.New("slack: webhook url or bot token required")
	}
	return s, nil
}

func format(n broadcast.Notification) string {
	return fmt.Sprintf("[owner %d] %s", n.OwnerID, n.Message)
}

func (s *Sink) Deliver(ctx context.Context, n broadcast.Notification) error {
	text := format(n)
	if s.client != nil {
		_, _, err := s.client.PostMessageContext(ctx, s.cfg.Channel, slackgo.MsgOptionText(text, false))
		if err != nil {
			return fmt.Errorf("slack post: %w", err)
		}
		return nil
	}
	msg := &slackgo.WebhookMessage{Text: text, Channel: s.cfg.Channel}
	if err := slackgo.PostWebhookContext(ctx, s.cfg.WebhookURL, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

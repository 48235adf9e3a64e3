// Package notify delivers operational alerts to the operator.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/logging"
)

// discordMessageLimit is Discord's maximum message length.
const discordMessageLimit = 2000

// Notifier sends a short alert.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Log writes alerts to the logger. It is the fallback when no chat channel
// is configured.
type Log struct {
	logger *logrus.Logger
}

// NewLog creates a log notifier
func NewLog(logger *logrus.Logger) *Log {
	return &Log{logger: logging.OrDiscard(logger)}
}

// Notify logs the alert at error level
func (l *Log) Notify(_ context.Context, subject, body string) error {
	l.logger.WithField("subject", subject).Error(body)
	return nil
}

// messageSender is the part of *discordgo.Session used here.
type messageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts to a channel through a bot token.
type Discord struct {
	session   messageSender
	logger    *logrus.Logger
	channelID string
}

// NewDiscord creates a Discord notifier. No gateway websocket is opened; REST
// calls are enough to post messages.
func NewDiscord(token, channelID string, logger *logrus.Logger) (*Discord, error) {
	if token == "" || channelID == "" {
		return nil, errors.New("discord token and channel ID are required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return &Discord{session: s, logger: logging.OrDiscard(logger), channelID: channelID}, nil
}

// Notify posts the alert
func (d *Discord) Notify(ctx context.Context, subject, body string) error {
	msg := FormatAlert(subject, body)
	if _, err := d.session.ChannelMessageSend(d.channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	d.logger.WithField("subject", subject).Debug("Discord alert sent")
	return nil
}

// FormatAlert renders an alert for chat, truncated to Discord's limit.
func FormatAlert(subject, body string) string {
	var sb strings.Builder
	sb.WriteString("🚨 **")
	sb.WriteString(subject)
	sb.WriteString("**\n")
	sb.WriteString(body)
	out := sb.String()
	if r := []rune(out); len(r) > discordMessageLimit {
		out = string(r[:discordMessageLimit-1]) + "…"
	}
	return out
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

// Notify calls every notifier even when one fails
func (m Multi) Notify(ctx context.Context, subject, body string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

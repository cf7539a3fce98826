package chat

import (
	"context"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/Halunen/GiveawayTracker/telemetry"
)

// maxMessageLen is Twitch's PRIVMSG length limit in characters.
const maxMessageLen = 500

// TwitchNotifier posts announcements into a channel.
type TwitchNotifier struct {
	client  *twitch.Client
	channel string
}

// NewTwitchNotifier returns a notifier sending through client, usually the
// listener's so both share one connection.
func NewTwitchNotifier(client *twitch.Client, channel string) *TwitchNotifier {
	return &TwitchNotifier{client: client, channel: strings.TrimPrefix(strings.ToLower(channel), "#")}
}

// Send queues text for the channel. Delivery is best effort.
func (n *TwitchNotifier) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = truncate(text)
	n.client.Say(n.channel, text)
	telemetry.LoggerWithCorr(ctx).Debug("chat announcement sent", slog.String("channel", n.channel), slog.String("component", "notifier"))
	return nil
}

// LogNotifier writes announcements to the log. Used when chat credentials for
// sending are absent.
type LogNotifier struct{}

// Send logs text.
func (LogNotifier) Send(ctx context.Context, text string) error {
	telemetry.LoggerWithCorr(ctx).Info("chat announcement (not sent)", slog.String("text", text), slog.String("component", "notifier"))
	return nil
}

func truncate(text string) string {
	r := []rune(text)
	if len(r) <= maxMessageLen {
		return text
	}
	return string(r[:maxMessageLen-1]) + "…"
}

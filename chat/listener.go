package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Observer receives chat lines.
type Observer interface {
	Observe(user, text string, at time.Time)
}

// Listener feeds one channel's chat into an Observer.
type Listener struct {
	channel string
	client  *twitch.Client
	obs     Observer
	now     func() time.Time

	connected atomic.Bool
}

// NewClient returns an IRC client. With empty username or token the client is
// anonymous and can only read.
func NewClient(username, oauthToken string) *twitch.Client {
	if username == "" || oauthToken == "" {
		return twitch.NewAnonymousClient()
	}
	if !strings.HasPrefix(oauthToken, "oauth:") {
		oauthToken = "oauth:" + oauthToken
	}
	return twitch.NewClient(username, oauthToken)
}

// NewListener joins channel on client and forwards its chat lines to obs.
func NewListener(client *twitch.Client, channel string, obs Observer) *Listener {
	l := &Listener{
		channel: strings.TrimPrefix(strings.ToLower(channel), "#"),
		client:  client,
		obs:     obs,
		now:     time.Now,
	}
	client.OnPrivateMessage(l.handle)
	client.OnConnect(func() {
		l.connected.Store(true)
		slog.Info("twitch chat connected", slog.String("channel", l.channel), slog.String("component", "chat"))
	})
	client.Join(l.channel)
	return l
}

// Client exposes the IRC client so a notifier can share the connection.
func (l *Listener) Client() *twitch.Client { return l.client }

// Channel is the joined channel, lower-cased and without '#'.
func (l *Listener) Channel() string { return l.channel }

// Connected reports whether the IRC connection is currently up.
func (l *Listener) Connected() bool { return l.connected.Load() }

func (l *Listener) handle(msg twitch.PrivateMessage) {
	user := msg.User.DisplayName
	if user == "" {
		user = msg.User.Name
	}
	if user == "" {
		return
	}
	at := msg.Time
	if at.IsZero() {
		at = l.now()
	}
	l.obs.Observe(user, msg.Message, at)
}

// Run connects and blocks until ctx is cancelled, reconnecting with
// exponential backoff (capped at one minute) whenever the connection drops.
func (l *Listener) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = time.Minute

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.client.Disconnect()
		case <-done:
		}
	}()

	for ctx.Err() == nil {
		err := l.client.Connect()
		wasConnected := l.connected.Swap(false)
		if ctx.Err() != nil {
			slog.Info("twitch chat listener stopped", slog.String("channel", l.channel), slog.String("component", "chat"))
			return
		}
		if wasConnected {
			b.Reset()
		}
		wait := b.NextBackOff()
		if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
			slog.Warn("twitch chat connection lost", slog.Any("err", err), slog.Duration("retry_in", wait), slog.String("component", "chat"))
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

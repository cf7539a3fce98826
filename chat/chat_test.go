package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

type line struct {
	user, text string
	at         time.Time
}

type recordingObserver struct {
	mu    sync.Mutex
	lines []line
}

func (r *recordingObserver) Observe(user, text string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line{user, text, at})
}

func TestListenerHandle(t *testing.T) {
	fixed := time.Date(2024, 10, 15, 14, 30, 0, 0, time.UTC)
	sent := fixed.Add(-time.Second)

	tests := []struct {
		name     string
		msg      twitch.PrivateMessage
		wantUser string
		wantAt   time.Time
		skip     bool
	}{
		{
			name:     "display name preferred",
			msg:      twitch.PrivateMessage{User: twitch.User{Name: "alice", DisplayName: "Alice"}, Message: "!enter", Time: sent},
			wantUser: "Alice",
			wantAt:   sent,
		},
		{
			name:     "falls back to login",
			msg:      twitch.PrivateMessage{User: twitch.User{Name: "bob"}, Message: "!enter", Time: sent},
			wantUser: "bob",
			wantAt:   sent,
		},
		{
			name:     "missing timestamp uses clock",
			msg:      twitch.PrivateMessage{User: twitch.User{DisplayName: "Carol"}, Message: "hi"},
			wantUser: "Carol",
			wantAt:   fixed,
		},
		{
			name: "anonymous line dropped",
			msg:  twitch.PrivateMessage{Message: "ghost"},
			skip: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			l := NewListener(NewClient("", ""), "#SomeChannel", obs)
			l.now = func() time.Time { return fixed }

			l.handle(tt.msg)

			if tt.skip {
				if len(obs.lines) != 0 {
					t.Fatalf("observed %+v, want nothing", obs.lines)
				}
				return
			}
			if len(obs.lines) != 1 {
				t.Fatalf("observed %d lines, want 1", len(obs.lines))
			}
			got := obs.lines[0]
			if got.user != tt.wantUser || got.text != tt.msg.Message || !got.at.Equal(tt.wantAt) {
				t.Errorf("observed %+v, want user %s at %s", got, tt.wantUser, tt.wantAt)
			}
		})
	}
}

func TestListenerChannelNormalized(t *testing.T) {
	l := NewListener(NewClient("bot", "token"), "#SomeChannel", &recordingObserver{})
	if l.Channel() != "somechannel" {
		t.Errorf("Channel() = %q", l.Channel())
	}
	if l.Client() == nil {
		t.Error("Client() = nil")
	}
	if l.Connected() {
		t.Error("Connected() before Run")
	}
}

func TestListenerRunStopsOnCancel(t *testing.T) {
	l := NewListener(NewClient("", ""), "somechannel", &recordingObserver{})
	// unreachable server so Connect fails fast and Run sits in backoff
	l.Client().IrcAddress = "127.0.0.1:1"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTruncate(t *testing.T) {
	short := "Giveaway started!"
	if got := truncate(short); got != short {
		t.Errorf("truncate(short) = %q", got)
	}
	long := strings.Repeat("é", maxMessageLen+20)
	got := truncate(long)
	if n := utf8.RuneCountInString(got); n != maxMessageLen {
		t.Errorf("truncated length = %d runes, want %d", n, maxMessageLen)
	}
}

func TestTwitchNotifierCancelledContext(t *testing.T) {
	n := NewTwitchNotifier(twitch.NewAnonymousClient(), "#Chan")
	if n.channel != "chan" {
		t.Errorf("channel = %q", n.channel)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Send(ctx, "hello"); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestLogNotifier(t *testing.T) {
	if err := (LogNotifier{}).Send(context.Background(), "hello"); err != nil {
		t.Errorf("Send() = %v", err)
	}
}

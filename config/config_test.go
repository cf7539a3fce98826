package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"GIVEAWAY_MAX_ENTRANTS", "CHAT_MAX_PER_USER", "CHAT_KEEP_WINDOW", "CHAT_PRUNE_INTERVAL",
		"WINNER_MESSAGE_LIMIT", "LEDGER_RETRY_ATTEMPTS", "LEDGER_RETRY_BASE", "LEDGER_DB_ENABLED",
		"DISPATCH_MAX_INFLIGHT", "HTTP_ADDR", "ENV", "CORS_PERMISSIVE", "OTEL_TRACES_SAMPLER_ARG",
	} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MaxEntrants != 1000 || cfg.ChatMaxPerUser != 50 || cfg.WinnerMessageLimit != 10 {
		t.Errorf("unexpected caps: %+v", cfg)
	}
	if cfg.ChatKeepWindow != 10*time.Minute || cfg.ChatPruneInterval != time.Minute {
		t.Errorf("unexpected windows: keep=%s prune=%s", cfg.ChatKeepWindow, cfg.ChatPruneInterval)
	}
	if cfg.LedgerRetryAttempts != 3 || cfg.LedgerRetryBase != time.Second || cfg.LedgerDBEnabled {
		t.Errorf("unexpected ledger defaults: %+v", cfg)
	}
	if cfg.DispatchMaxInflight != 8 || cfg.HTTPAddr != ":8080" {
		t.Errorf("unexpected runtime defaults: inflight=%d addr=%s", cfg.DispatchMaxInflight, cfg.HTTPAddr)
	}
	if !cfg.CORSPermissive {
		t.Errorf("expected permissive CORS in dev")
	}
	if cfg.TraceSampleRatio != 1.0 {
		t.Errorf("TraceSampleRatio = %v, want 1", cfg.TraceSampleRatio)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "#SomeStreamer")
	t.Setenv("GIVEAWAY_MAX_ENTRANTS", "2")
	t.Setenv("CHAT_KEEP_WINDOW", "30s")
	t.Setenv("LEDGER_DB_ENABLED", "1")
	t.Setenv("ENV", "production")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TwitchChannel != "somestreamer" {
		t.Errorf("TwitchChannel = %q", cfg.TwitchChannel)
	}
	if cfg.MaxEntrants != 2 || cfg.ChatKeepWindow != 30*time.Second || !cfg.LedgerDBEnabled {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.CORSPermissive {
		t.Errorf("expected restricted CORS in production")
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"GIVEAWAY_MAX_ENTRANTS", "lots"},
		{"CHAT_KEEP_WINDOW", "10"},
		{"LEDGER_RETRY_BASE", "soon"},
		{"OTEL_TRACES_SAMPLER_ARG", "half"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Load() err = %v, want mention of %s", err, tt.key)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("GIVEAWAY_MAX_ENTRANTS", "0")
	t.Setenv("CHAT_MAX_PER_USER", "-1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"GIVEAWAY_MAX_ENTRANTS", "CHAT_MAX_PER_USER"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %s", err, want)
		}
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	t.Setenv("TWITCH_OAUTH_TOKEN", "")
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestAuthEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"none", Config{}, false},
		{"username only", Config{AdminUsername: "admin"}, false},
		{"basic", Config{AdminUsername: "admin", AdminPassword: "pw"}, true},
		{"token", Config{AdminToken: "tok"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.AuthEnabled(); got != tt.want {
				t.Errorf("AuthEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

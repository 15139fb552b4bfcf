package config

import (
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chatcaptions/caption"
)

// clearEnv blanks every variable Load reads so host settings do not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TWITCH_CHANNEL", "TWITCH_BOT_USERNAME", "TWITCH_OAUTH_TOKEN", "TWITCH_CLIENT_ID", "TWITCH_CLIENT_SECRET",
		"TWITCH_VOD_ID", "TWITCH_VOD_START", "DB_DSN", "HTTP_ADDR", "YT_CLIENT_ID", "YT_CLIENT_SECRET", "YT_SCOPES",
		"CAPTION_DURATION", "CAPTION_COLOR", "CAPTION_POSITION", "CAPTION_EMOTES", "CAPTION_LANGUAGE", "CAPTION_TRACK_NAME",
		"CAPTION_JOB_INTERVAL", "MAX_CONCURRENT_JOBS", "CAPTION_MAX_ATTEMPTS", "COMMENTS_PAGE_DELAY",
		"RETENTION_KEEP_DAYS", "RETENTION_DRY_RUN", "RETENTION_INTERVAL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if time.Since(cfg.TwitchVODStart) > time.Minute {
		t.Errorf("unexpected default vod start too old: %v", cfg.TwitchVODStart)
	}
	if cfg.HTTPAddr != ":8080" || cfg.MaxConcurrentJobs != 1 || cfg.MaxAttempts != 5 || cfg.JobInterval != time.Minute {
		t.Errorf("defaults = %+v", cfg)
	}
	if got, want := cfg.CaptionOptions(), caption.DefaultOptions(); got != want {
		t.Errorf("CaptionOptions() = %+v, want %+v", got, want)
	}
	if cfg.HelixEnabled() || cfg.YouTubeEnabled() {
		t.Error("integrations enabled without credentials")
	}
}

func TestLoadCaptionOptions(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		want     caption.Options
		errMatch string
	}{
		{
			name: "seconds",
			env:  map[string]string{"CAPTION_DURATION": "30", "CAPTION_COLOR": "false", "CAPTION_EMOTES": "1"},
			want: caption.Options{Duration: 30 * time.Second, EmoteText: true, Position: true},
		},
		{
			name: "fractional seconds",
			env:  map[string]string{"CAPTION_DURATION": "2.5", "CAPTION_POSITION": "false"},
			want: caption.Options{Duration: 2500 * time.Millisecond, Color: true},
		},
		{
			name: "go duration",
			env:  map[string]string{"CAPTION_DURATION": "1m30s"},
			want: caption.Options{Duration: 90 * time.Second, Color: true, Position: true},
		},
		{name: "zero duration", env: map[string]string{"CAPTION_DURATION": "0"}, errMatch: "CAPTION_DURATION"},
		{name: "negative duration", env: map[string]string{"CAPTION_DURATION": "-5"}, errMatch: "must be positive"},
		{name: "garbage duration", env: map[string]string{"CAPTION_DURATION": "soon"}, errMatch: "CAPTION_DURATION"},
		{name: "bad bool", env: map[string]string{"CAPTION_COLOR": "maybe"}, errMatch: "CAPTION_COLOR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if tt.errMatch != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errMatch) {
					t.Fatalf("Load() error = %v, want %q", err, tt.errMatch)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got := cfg.CaptionOptions(); got != tt.want {
				t.Errorf("CaptionOptions() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadJobSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_CONCURRENT_JOBS", "4")
	t.Setenv("RETENTION_KEEP_DAYS", "30")
	t.Setenv("RETENTION_DRY_RUN", "true")
	t.Setenv("COMMENTS_PAGE_DELAY", "250ms")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxConcurrentJobs != 4 || cfg.RetentionKeepDays != 30 || !cfg.RetentionDryRun || cfg.CommentPageDelay != 250*time.Millisecond {
		t.Errorf("job settings = %+v", cfg)
	}

	t.Setenv("MAX_CONCURRENT_JOBS", "0")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted MAX_CONCURRENT_JOBS=0")
	}
	t.Setenv("MAX_CONCURRENT_JOBS", "")
	t.Setenv("TWITCH_VOD_START", "yesterday")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted a non-RFC3339 TWITCH_VOD_START")
	}
}

func TestValidateChatReady(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	t.Setenv("TWITCH_VOD_ID", "123")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	t.Setenv("TWITCH_VOD_ID", "")
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Error("expected error without TWITCH_VOD_ID")
	}
	t.Setenv("TWITCH_VOD_ID", "123")
	t.Setenv("TWITCH_CHANNEL", "")
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Error("expected error when missing twitch envs")
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthBaseURL == "" || cfg.ChatBaseURL == "" {
		t.Fatalf("base URLs empty: %+v", cfg)
	}
	if cfg.ResendCooldown != 300 {
		t.Fatalf("ResendCooldown = %d, want 300", cfg.ResendCooldown)
	}
	if cfg.AudioInterval != 2*time.Second {
		t.Fatalf("AudioInterval = %v", cfg.AudioInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GEMTUTOR_CHAT_URL", "https://chat.example.com")
	t.Setenv("GEMTUTOR_RESEND_COOLDOWN", "60")
	t.Setenv("GEMTUTOR_AUDIO", "off")
	t.Setenv("GEMTUTOR_REVEAL_INTERVAL", "25ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChatBaseURL != "https://chat.example.com" {
		t.Fatalf("ChatBaseURL = %q", cfg.ChatBaseURL)
	}
	if cfg.ResendCooldown != 60 {
		t.Fatalf("ResendCooldown = %d", cfg.ResendCooldown)
	}
	if cfg.AudioEnabled {
		t.Fatalf("AudioEnabled = true, want off")
	}
	if cfg.RevealInterval != 25*time.Millisecond {
		t.Fatalf("RevealInterval = %v", cfg.RevealInterval)
	}
}

func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("GEMTUTOR_RESEND_COOLDOWN", "soon")
	t.Setenv("GEMTUTOR_AUDIO_TIMEOUT", "forever")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ResendCooldown != 300 {
		t.Fatalf("ResendCooldown = %d, want default", cfg.ResendCooldown)
	}
	if cfg.AudioTimeout != 2*time.Minute {
		t.Fatalf("AudioTimeout = %v, want default", cfg.AudioTimeout)
	}
}

func TestValidateRejectsEmptyURL(t *testing.T) {
	t.Setenv("GEMTUTOR_AUTH_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for empty auth URL")
	}
}

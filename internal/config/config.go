// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	AuthBaseURL string
	ChatBaseURL string

	RequestTimeout time.Duration
	ResendCooldown int // seconds between passcode requests
	RevealInterval time.Duration
	AudioEnabled   bool
	AudioInterval  time.Duration
	AudioTimeout   time.Duration
	PlayerCommand  string
	LogFile        string
	DefaultSubject string
}

// Load reads configuration from the environment, first merging a .env file
// from the working directory when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := &Config{
		AuthBaseURL:    getEnv("GEMTUTOR_AUTH_URL", "http://localhost:8000"),
		ChatBaseURL:    getEnv("GEMTUTOR_CHAT_URL", "http://localhost:8000"),
		RequestTimeout: getEnvDuration("GEMTUTOR_REQUEST_TIMEOUT", 90*time.Second),
		ResendCooldown: getEnvInt("GEMTUTOR_RESEND_COOLDOWN", 300),
		RevealInterval: getEnvDuration("GEMTUTOR_REVEAL_INTERVAL", 15*time.Millisecond),
		AudioEnabled:   getEnvBool("GEMTUTOR_AUDIO", true),
		AudioInterval:  getEnvDuration("GEMTUTOR_AUDIO_INTERVAL", 2*time.Second),
		AudioTimeout:   getEnvDuration("GEMTUTOR_AUDIO_TIMEOUT", 2*time.Minute),
		PlayerCommand:  getEnv("GEMTUTOR_PLAYER", "mpg123 -q"),
		LogFile:        getEnv("GEMTUTOR_LOG_FILE", ""),
		DefaultSubject: getEnv("GEMTUTOR_SUBJECT", "sociology"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are sane.
func (c *Config) Validate() error {
	if c.AuthBaseURL == "" {
		return fmt.Errorf("GEMTUTOR_AUTH_URL cannot be empty")
	}
	if c.ChatBaseURL == "" {
		return fmt.Errorf("GEMTUTOR_CHAT_URL cannot be empty")
	}
	if c.ResendCooldown <= 0 {
		return fmt.Errorf("GEMTUTOR_RESEND_COOLDOWN must be > 0")
	}
	if c.RevealInterval <= 0 {
		return fmt.Errorf("GEMTUTOR_REVEAL_INTERVAL must be > 0")
	}
	if c.AudioInterval <= 0 || c.AudioTimeout <= 0 {
		return fmt.Errorf("audio interval and timeout must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

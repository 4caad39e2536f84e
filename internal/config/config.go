// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderConfig holds connection settings for one external HTTP provider.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	SessionTTL         time.Duration
	MaxAudioBytes      int64
	MaxTranscriptChars int
	DefaultTimezone    string
	DefaultDuration    int // minutes, applied when a create has no duration
	Transcription      ProviderConfig
	Intent             ProviderConfig
	Language           string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Both providers default to the same OpenAI-compatible credential; each
	// can be pointed elsewhere independently.
	sharedKey := getEnv("OPENAI_API_KEY", "")

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/voicesched.db"),
		SessionTTL:         getEnvDuration("CAPTURE_SESSION_TTL", 10*time.Minute),
		MaxAudioBytes:      int64(getEnvInt("MAX_AUDIO_BYTES", 10<<20)),
		MaxTranscriptChars: getEnvInt("MAX_TRANSCRIPT_CHARS", 2000),
		DefaultTimezone:    getEnv("DEFAULT_TIMEZONE", "UTC"),
		DefaultDuration:    getEnvInt("DEFAULT_BLOCK_MINUTES", 60),
		Language:           getEnv("TRANSCRIBE_LANGUAGE", ""),
		Transcription: ProviderConfig{
			BaseURL: getEnv("TRANSCRIBE_BASE_URL", ""),
			APIKey:  getEnv("TRANSCRIBE_API_KEY", sharedKey),
			Model:   getEnv("TRANSCRIBE_MODEL", "whisper-1"),
			Timeout: getEnvDuration("TRANSCRIBE_TIMEOUT", 8*time.Second),
		},
		Intent: ProviderConfig{
			BaseURL: getEnv("INTENT_BASE_URL", ""),
			APIKey:  getEnv("INTENT_API_KEY", sharedKey),
			Model:   getEnv("INTENT_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("INTENT_TIMEOUT", 8*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("CAPTURE_SESSION_TTL must be > 0")
	}
	if c.MaxAudioBytes <= 0 {
		return fmt.Errorf("MAX_AUDIO_BYTES must be > 0")
	}
	if c.MaxTranscriptChars <= 0 {
		return fmt.Errorf("MAX_TRANSCRIPT_CHARS must be > 0")
	}
	if c.DefaultDuration <= 0 {
		return fmt.Errorf("DEFAULT_BLOCK_MINUTES must be > 0")
	}
	if !c.IsDevelopment() {
		if c.Transcription.APIKey == "" {
			return fmt.Errorf("TRANSCRIBE_API_KEY or OPENAI_API_KEY required outside development")
		}
		if c.Intent.APIKey == "" {
			return fmt.Errorf("INTENT_API_KEY or OPENAI_API_KEY required outside development")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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

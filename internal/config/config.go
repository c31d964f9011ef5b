package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	LinkedInClientID     string `env:"LINKEDIN_CLIENT_ID"`
	LinkedInClientSecret string `env:"LINKEDIN_CLIENT_SECRET"`
	LinkedInRedirectURI  string `env:"LINKEDIN_REDIRECT_URI"`
	LinkedInScopes       string `env:"LINKEDIN_OAUTH_SCOPE" default:"openid profile email w_member_social"`

	SessionSecret string `env:"SESSION_SECRET"`
	// EncryptionKey is the process-wide AES-256 key, 64 hex chars. Empty is
	// tolerated only in development; tokens are then stored in plaintext.
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	RefreshBuffer time.Duration `env:"TOKEN_REFRESH_BUFFER" default:"60s"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsDevelopment reports whether the process runs in development mode, the
// only mode allowed to operate without an encryption key.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL":           cfg.DatabaseURL,
		"LINKEDIN_CLIENT_ID":     cfg.LinkedInClientID,
		"LINKEDIN_CLIENT_SECRET": cfg.LinkedInClientSecret,
		"LINKEDIN_REDIRECT_URI":  cfg.LinkedInRedirectURI,
		"SESSION_SECRET":         cfg.SessionSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.EncryptionKey == "" {
		// Plaintext token storage is a deployment defect everywhere except
		// a developer laptop.
		if !cfg.IsDevelopment() {
			return fmt.Errorf("ENCRYPTION_KEY is required when APP_ENV is %q", cfg.AppEnv)
		}
		return nil
	}

	keyBytes, err := hex.DecodeString(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("ENCRYPTION_KEY must be valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
	}

	return nil
}

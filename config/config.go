// Package config loads environment variables and the preset file, and
// provides typed Config/Presets used across the tool. It applies sensible
// defaults so the binary can run locally with minimal setup. For required
// Twitch credentials, use Validate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	// DefaultScopes covers channel metadata updates plus the go-live chat
	// announcement.
	DefaultScopes = "channel:manage:broadcast chat:read chat:edit"

	// TokenFileName is the credential file inside the app dir.
	TokenFileName = "tokens.json"
)

type Config struct {
	// Twitch app credentials
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string

	// Channel for the optional go-live chat announcement. Empty disables it.
	TwitchChannel string

	// OBS WebSocket
	OBSHost     string
	OBSPort     int
	OBSPassword string

	// App dir (~/.twitch-go by default) holding config.yaml, .env, tokens.json
	AppDir string

	// Optional base64 32-byte key for token-file encryption at rest.
	EncryptionKey string

	// Optional address exposing /metrics (empty disables the listener).
	MetricsAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail if
// Twitch creds are missing; use Validate() before any operation that talks
// to Twitch. Missing optional variables disable features (e.g. encryption,
// chat announcement).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	if cfg.TwitchRedirectURI == "" {
		cfg.TwitchRedirectURI = "http://localhost:17563/callback"
	}
	cfg.TwitchScopes = os.Getenv("TWITCH_SCOPES")
	if cfg.TwitchScopes == "" {
		cfg.TwitchScopes = DefaultScopes
	}
	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")

	cfg.OBSHost = os.Getenv("OBS_WS_HOST")
	if cfg.OBSHost == "" {
		cfg.OBSHost = "localhost"
	}
	cfg.OBSPort = 4455
	if v := os.Getenv("OBS_WS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid OBS_WS_PORT: %q", v)
		}
		cfg.OBSPort = p
	}
	cfg.OBSPassword = os.Getenv("OBS_WS_PASSWORD")

	cfg.AppDir = os.Getenv("TWITCH_GO_DIR")
	if cfg.AppDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.AppDir = filepath.Join(home, ".twitch-go")
	}

	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	return cfg, nil
}

// Validate checks required fields for any Twitch-facing operation.
func (c *Config) Validate() error {
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET")
	}
	return nil
}

// ValidateOBSReady checks required fields for OBS control.
func (c *Config) ValidateOBSReady() error {
	if c.OBSPassword == "" {
		return fmt.Errorf("missing OBS env: require OBS_WS_PASSWORD")
	}
	return nil
}

// TokenPath returns the credential file location inside the app dir.
func (c *Config) TokenPath() string {
	return filepath.Join(c.AppDir, TokenFileName)
}

// ConfigPath returns the preset file location inside the app dir.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.AppDir, "config.yaml")
}

// EnvPath returns the secrets file location inside the app dir.
func (c *Config) EnvPath() string {
	return filepath.Join(c.AppDir, ".env")
}

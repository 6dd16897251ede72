// Package config loads client and dev-server settings.
//
// Values come from an optional YAML file, then from a .env file, then from
// APP_* environment variables. Later sources win.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API         APIConfig         `yaml:"api"`
	Socket      SocketConfig      `yaml:"socket"`
	Typing      TypingConfig      `yaml:"typing"`
	Voice       VoiceConfig       `yaml:"voice"`
	Messages    MessagesConfig    `yaml:"messages"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Log         LogConfig         `yaml:"log"`
	Server      ServerConfig      `yaml:"server"`
}

type APIConfig struct {
	// BaseURL is the REST root, e.g. http://localhost:9876.
	BaseURL string `yaml:"base_url"`
	// WSURL is the socket root, e.g. ws://localhost:9876.
	WSURL string `yaml:"ws_url"`
}

type SocketConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Heartbeat      time.Duration `yaml:"heartbeat"`
}

type TypingConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	SendInterval time.Duration `yaml:"send_interval"`
}

type VoiceConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	SilenceSamples int           `yaml:"silence_samples"`
	Threshold      float64       `yaml:"threshold"`
}

type MessagesConfig struct {
	PageSize int `yaml:"page_size"`
}

type CredentialsConfig struct {
	// Path is the sqlite file holding the access/refresh pair. Empty keeps
	// credentials in memory only.
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig is only read by the development server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	DBPath          string        `yaml:"db_path"`
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// Default returns the settings used when nothing else is configured.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:9876",
			WSURL:   "ws://localhost:9876",
		},
		Socket: SocketConfig{
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			Heartbeat:      30 * time.Second,
		},
		Typing: TypingConfig{
			TTL:          4 * time.Second,
			SendInterval: 3 * time.Second,
		},
		Voice: VoiceConfig{
			SampleInterval: 80 * time.Millisecond,
			SilenceSamples: 3,
			Threshold:      10,
		},
		Messages: MessagesConfig{PageSize: 50},
		Log:      LogConfig{Level: "info", Format: "console"},
		Server: ServerConfig{
			Addr:            ":9876",
			DBPath:          "chatsync-dev.db",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies .env and
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("APP_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("APP_WS_URL"); v != "" {
		c.API.WSURL = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("APP_CREDENTIALS"); v != "" {
		c.Credentials.Path = v
	}
	if v := os.Getenv("APP_SECRET"); v != "" {
		c.Server.Secret = v
	}
}

// Validate rejects settings the sync layer cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Socket.InitialBackoff <= 0:
		return errors.New("socket.initial_backoff must be positive")
	case c.Socket.MaxBackoff < c.Socket.InitialBackoff:
		return errors.New("socket.max_backoff must not be below socket.initial_backoff")
	case c.Typing.TTL <= 0:
		return errors.New("typing.ttl must be positive")
	case c.Voice.SampleInterval <= 0:
		return errors.New("voice.sample_interval must be positive")
	case c.Voice.SilenceSamples < 1:
		return errors.New("voice.silence_samples must be at least 1")
	case c.Messages.PageSize < 1:
		return errors.New("messages.page_size must be at least 1")
	}
	return nil
}

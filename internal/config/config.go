package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PANELCHAT_"

// Config is the full server configuration.
type Config struct {
	HTTP struct {
		Addr string `koanf:"addr"`
	} `koanf:"http"`

	Database struct {
		DSN string `koanf:"dsn"`
	} `koanf:"database"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
	} `koanf:"redis"`

	Auth struct {
		JWTSecret string `koanf:"jwt_secret"`
	} `koanf:"auth"`

	Storage Storage `koanf:"storage"`

	Push struct {
		WebhookURL string `koanf:"webhook_url"`
		Workers    int    `koanf:"workers"`
	} `koanf:"push"`

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`

	Presence Presence `koanf:"presence"`

	Typing struct {
		Quiet time.Duration `koanf:"quiet"`
	} `koanf:"typing"`

	Notify struct {
		ToastTTL time.Duration `koanf:"toast_ttl"`
	} `koanf:"notify"`

	Chat struct {
		HistoryLimit  int   `koanf:"history_limit"`
		MaxImageBytes int64 `koanf:"max_image_bytes"`
	} `koanf:"chat"`
}

// Storage configures the S3-compatible bucket holding chat images and avatars.
type Storage struct {
	Bucket    string `koanf:"bucket"`
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	PublicURL string `koanf:"public_url"`
}

// Presence holds the liveness timings shared by every tracker.
type Presence struct {
	Heartbeat   time.Duration `koanf:"heartbeat"`
	StaleAfter  time.Duration `koanf:"stale_after"`
	AwayAfter   time.Duration `koanf:"away_after"`
	HiddenGrace time.Duration `koanf:"hidden_grace"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"http.addr":             ":8080",
		"redis.addr":            "localhost:6379",
		"storage.region":        "auto",
		"push.workers":          4,
		"log.level":             "info",
		"log.format":            "json",
		"presence.heartbeat":    "30s",
		"presence.stale_after":  "60s",
		"presence.away_after":   "5m",
		"presence.hidden_grace": "60s",
		"typing.quiet":          "2s",
		"notify.toast_ttl":      "5s",
		"chat.history_limit":    100,
		"chat.max_image_bytes":  5 * 1024 * 1024,
	}
}

// Load builds the configuration from defaults, an optional TOML file and
// PANELCHAT_* environment variables, in that order. A .env file in the
// working directory is loaded into the environment first when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else if _, err := os.Stat("panelchat.toml"); err == nil {
		if err := k.Load(file.Provider("panelchat.toml"), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	// PANELCHAT_PRESENCE_HIDDEN_GRACE -> presence.hidden_grace
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.Replace(key, "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Presence.StaleAfter <= c.Presence.Heartbeat {
		errs = append(errs, fmt.Errorf("presence.stale_after (%s) must exceed presence.heartbeat (%s)",
			c.Presence.StaleAfter, c.Presence.Heartbeat))
	}
	if c.Chat.HistoryLimit <= 0 {
		errs = append(errs, errors.New("chat.history_limit must be positive"))
	}
	return errors.Join(errs...)
}

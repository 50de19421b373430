package config

import (
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

// Config holds all settings for the client and the local simulator.
// Values are layered: built-in defaults, then an optional TOML file,
// then PARLEY_* environment variables.
type Config struct {
	Server struct {
		// URL is the base URL of the chat service API
		URL string `koanf:"url"`

		// APIKey is the long-lived session credential sent on every
		// request. It never appears on the push-channel URL; the
		// short-lived SSE ticket is used there instead.
		APIKey string `koanf:"api_key"`
	} `koanf:"server"`

	Sync struct {
		// PollInterval is the cadence of the fallback message poll
		PollInterval time.Duration `koanf:"poll_interval"`

		// SettleDelay is the pause before the out-of-band poll that
		// follows a send or a finished agent turn
		SettleDelay time.Duration `koanf:"settle_delay"`

		// MaxReconnectAttempts is the push-channel reconnect ceiling;
		// past it the client stays on polling until the room is re-entered
		MaxReconnectAttempts int `koanf:"max_reconnect_attempts"`
	} `koanf:"sync"`

	Sim struct {
		// ListenAddr is the simulator's bind address
		ListenAddr string `koanf:"listen_addr"`

		// APIKey is the credential the simulator expects from clients
		APIKey string `koanf:"api_key"`
	} `koanf:"sim"`

	Log struct {
		Level  string `koanf:"level"`
		Pretty bool   `koanf:"pretty"`
	} `koanf:"log"`
}

// Load reads configuration from defaults, an optional TOML file and the
// environment. An empty configPath searches the default locations.
func Load(configPath string) (*Config, error) {
	// A .env file is a convenience for development; absence is not an error.
	_ = godotenv.Load()

	k := koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"server.url":                  "http://localhost:8880",
		"sync.poll_interval":          "5s",
		"sync.settle_delay":           "100ms",
		"sync.max_reconnect_attempts": 10,
		"sim.listen_addr":             ":8880",
		"log.level":                   "info",
		"log.pretty":                  true,
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, path := range []string{"./parley.toml", "$HOME/.parley.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// PARLEY_SERVER_API_KEY -> server.api_key, and so on. Only the first
	// underscore becomes the section separator; later ones stay part of
	// the key name.
	k.Load(env.Provider("PARLEY_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "PARLEY_")
		return strings.Replace(strings.ToLower(s), "_", ".", 1)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings a client session cannot run without.
func Validate(cfg *Config) error {
	if cfg.Server.URL == "" {
		return fmt.Errorf("server url is required")
	}
	if cfg.Sync.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if cfg.Sync.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max reconnect attempts must be positive")
	}
	return nil
}

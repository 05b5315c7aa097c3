// Package config loads the configuration for the signalr-chat example
// binary: a hub URL, optional bearer token, and protocol/logging knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

// Config is the full configuration surface for the example CLI.
type Config struct {
	Hub      HubConfig      `koanf:"hub"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// HubConfig describes the SignalR endpoint to connect to.
type HubConfig struct {
	URL               string `koanf:"url"`
	AccessToken       string `koanf:"access_token"`
	Protocol          string `koanf:"protocol"` // "json" or "messagepack"
	SkipNegotiation   bool   `koanf:"skip_negotiation"`
	ConnectionTimeout string `koanf:"connection_timeout"` // parsed with time.ParseDuration
	NegotiateRetries  int    `koanf:"negotiate_retries"`
}

// LoggingConfig controls the example binary's zerolog setup.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// Load reads defaults, then an optional config.yaml in the resolved config
// directory, then SIGNALR_CHAT_-prefixed environment overrides.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"hub.url":                "http://localhost:5000/chat",
		"hub.access_token":       "",
		"hub.protocol":           "json",
		"hub.skip_negotiation":   false,
		"hub.connection_timeout": "10s",
		"hub.negotiate_retries":  10,
		"logging.level":          "info",
		"logging.pretty":         true,
	}
	for key, val := range defaults {
		_ = k.Set(key, val)
	}

	configDir := resolveConfigDir()
	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			log.Warn().Err(err).Str("path", configPath).Msg("failed to load config file, using defaults")
		} else {
			log.Info().Str("path", configPath).Msg("loaded config file")
		}
	} else {
		log.Info().Str("path", configPath).Msg("no config file found, using defaults")
	}

	if err := k.Load(env.Provider("SIGNALR_CHAT_", ".", func(s string) string {
		return strings.Replace(
			strings.ToLower(strings.TrimPrefix(s, "SIGNALR_CHAT_")),
			"_", ".", -1,
		)
	}), nil); err != nil {
		log.Warn().Err(err).Msg("failed to load env overrides")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// IsDocker reports whether the binary is running inside the project's
// Docker image.
func IsDocker() bool {
	return os.Getenv("SIGNALR_CHAT_DOCKER") == "true"
}

// ConfigDir returns the resolved configuration directory.
func ConfigDir() string {
	return resolveConfigDir()
}

func resolveConfigDir() string {
	if IsDocker() {
		return "/config"
	}

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData != "" {
			return filepath.Join(localAppData, "SignalRChat")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Local", "SignalRChat")
	default: // linux, darwin
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "signalr-chat")
	}
}

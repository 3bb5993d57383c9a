// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/mixgene-notify/config.yaml",
	"/etc/mixgene-notify/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DotEnvFile is loaded into the process environment when present.
const DotEnvFile = ".env"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             9999,
			PathPrefix:       "",
			ShutdownTimeout:  10 * time.Second,
			UpgradeRateLimit: 60,
		},
		Broker: BrokerConfig{
			Backend:         "nats",
			URL:             "nats://127.0.0.1:4222",
			RedisURL:        "redis://127.0.0.1:6379/0",
			ClientName:      "mixgene-notify",
			ConnectTimeout:  30 * time.Second,
			ReconnectWait:   2 * time.Second,
			Embedded:        false,
			EmbeddedHost:    "127.0.0.1",
			EmbeddedPort:    4222,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Relay: RelayConfig{
			InitTimeout:    5 * time.Minute,
			MaxMessageSize: 64 << 10,
			InboundRate:    20,
			InboundBurst:   40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Default returns the built-in configuration without reading any source.
func Default() *Config {
	return defaultConfig()
}

// LoadWithKoanf loads configuration from defaults, an optional YAML file and
// the environment, in that order of precedence, then validates it.
func LoadWithKoanf() (*Config, error) {
	if err := loadDotEnv(DotEnvFile); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadDotEnv populates the environment from path. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// findConfigFile returns the first existing config file, or "" when none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envMappings maps lower-cased environment variable names to koanf paths.
// Unlisted variables are ignored so unrelated environment does not leak in.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"subscribe_prefix":      "server.path_prefix",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"upgrade_rate_limit":    "server.upgrade_rate_limit",

	// Broker
	"broker_backend":        "broker.backend",
	"nats_url":              "broker.url",
	"redis_url":             "broker.redis_url",
	"nats_user":             "broker.username",
	"nats_password":         "broker.password",
	"nats_token":            "broker.token",
	"nats_client_name":      "broker.client_name",
	"nats_subject_prefix":   "broker.subject_prefix",
	"nats_connect_timeout":  "broker.connect_timeout",
	"nats_reconnect_wait":   "broker.reconnect_wait",
	"nats_embedded":         "broker.embedded",
	"nats_embedded_host":    "broker.embedded_host",
	"nats_embedded_port":    "broker.embedded_port",
	"nats_breaker_failures": "broker.breaker_failures",
	"nats_breaker_timeout":  "broker.breaker_timeout",

	// Relay
	"relay_init_timeout":     "relay.init_timeout",
	"relay_max_message_size": "relay.max_message_size",
	"relay_inbound_rate":     "relay.inbound_rate",
	"relay_inbound_burst":    "relay.inbound_burst",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
	"log_file":   "logging.file",
}

// envTransformFunc maps an environment variable name to its koanf path.
// It returns "" for variables the relay does not read.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

// envNameFor returns the environment variable that sets a koanf path.
func envNameFor(path string) string {
	for name, p := range envMappings {
		if p == path {
			return strings.ToUpper(name)
		}
	}
	return ""
}

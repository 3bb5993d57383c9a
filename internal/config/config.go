// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

/*
Package config provides layered configuration for the notification relay.

Configuration is resolved in three layers, later layers overriding earlier ones:

 1. Defaults: built-in values (see defaultConfig)
 2. Config file: optional YAML file at CONFIG_PATH, ./config.yaml or
    /etc/mixgene-notify/config.yaml
 3. Environment: HTTP_PORT, NATS_URL, LOG_LEVEL, ... (see envMappings)

A .env file in the working directory, when present, is loaded into the
process environment before layer 3 is read. Variables already set in the
environment win over .env entries.

Example:

	cfg, err := config.LoadWithKoanf()
	if err != nil {
	    logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	addr := cfg.Server.Addr()
*/
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all relay configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Broker  BrokerConfig  `koanf:"broker"`
	Relay   RelayConfig   `koanf:"relay"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig holds the HTTP front door settings.
type ServerConfig struct {
	// Host is the bind address.
	// Default: 0.0.0.0
	Host string `koanf:"host" validate:"required"`

	// Port is the listen port.
	// Default: 9999
	Port int `koanf:"port" validate:"gte=1,lte=65535"`

	// PathPrefix is prepended to the subscribe endpoint. It must match the
	// prefix browser clients are configured with. Empty serves /subscribe.
	PathPrefix string `koanf:"path_prefix"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// UpgradeRateLimit is the number of upgrade attempts allowed per client IP
	// per minute. Zero disables the limit.
	// Default: 60
	UpgradeRateLimit int `koanf:"upgrade_rate_limit" validate:"gte=0"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SubscribePath returns the path of the WebSocket upgrade endpoint.
func (s ServerConfig) SubscribePath() string {
	return s.PathPrefix + "/subscribe"
}

// BrokerConfig holds the pub/sub backing store settings.
type BrokerConfig struct {
	// Backend selects the broker implementation: nats, redis or memory.
	// The memory backend only relays messages published inside this process.
	// Default: nats
	Backend string `koanf:"backend" validate:"oneof=nats redis memory"`

	// URL is the NATS server URL (comma-separated for a cluster).
	// Default: nats://127.0.0.1:4222
	URL string `koanf:"url"`

	// RedisURL is the Redis server URL used when Backend is redis, in
	// redis://[user:password@]host:port/db form.
	// Default: redis://127.0.0.1:6379/0
	RedisURL string `koanf:"redis_url"`

	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Token    string `koanf:"token"`

	// ClientName identifies the relay connection on the NATS server.
	// Default: mixgene-notify
	ClientName string `koanf:"client_name"`

	// SubjectPrefix is prepended, dot-separated, to every channel on the wire.
	SubjectPrefix string `koanf:"subject_prefix" validate:"excludesall=*>"`

	// ConnectTimeout bounds the initial connect retry loop. When it elapses
	// without a connection the relay exits.
	// Default: 30s
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`

	// ReconnectWait is the delay between runtime reconnect attempts.
	// Default: 2s
	ReconnectWait time.Duration `koanf:"reconnect_wait" validate:"gt=0"`

	// Embedded starts an in-process NATS server and connects to it.
	Embedded     bool   `koanf:"embedded"`
	EmbeddedHost string `koanf:"embedded_host"`
	EmbeddedPort int    `koanf:"embedded_port" validate:"gte=-1,lte=65535"`

	// BreakerFailures is the number of consecutive subscribe failures that
	// open the subscribe circuit breaker.
	// Default: 5
	BreakerFailures uint32 `koanf:"breaker_failures" validate:"gte=1"`

	// BreakerTimeout is how long the breaker stays open before probing.
	// Default: 30s
	BreakerTimeout time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// RelayConfig holds per-session limits.
type RelayConfig struct {
	// InitTimeout closes sessions that have not sent init within this
	// duration. Zero disables the sweep.
	// Default: 5m
	InitTimeout time.Duration `koanf:"init_timeout" validate:"gte=0"`

	// MaxMessageSize is the largest inbound frame accepted, in bytes.
	// Default: 65536
	MaxMessageSize int64 `koanf:"max_message_size" validate:"gte=128"`

	// InboundRate is the sustained inbound frames per second per session.
	// Default: 20
	InboundRate float64 `koanf:"inbound_rate" validate:"gt=0"`

	// InboundBurst is the inbound token bucket size.
	// Default: 40
	InboundBurst int `koanf:"inbound_burst" validate:"gte=1"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level"`

	// Format is json or console.
	// Default: json
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller includes caller file and line number in logs.
	Caller bool `koanf:"caller"`

	// File, when set, also writes JSON logs to this size-rotated file.
	File string `koanf:"file"`
}

package config

import (
	"github.com/vietddude/relay/internal/core/backoff"
	redisclient "github.com/vietddude/relay/internal/infra/redis"
	"github.com/vietddude/relay/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Streams  []StreamConfig     `yaml:"streams"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StreamConfig holds settings for one tailed server-streaming RPC.
type StreamConfig struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Method   string `yaml:"method"` // full method path, e.g. /pkg.Service/Watch

	// Request is the base64-encoded request frame to send; empty sends an
	// empty frame.
	Request string `yaml:"request"`

	// RetryCodes are the gRPC status codes retried for this stream.
	RetryCodes []int `yaml:"retry_codes"`

	Backoff backoff.Settings `yaml:"backoff"`
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	for i := range cfg.Streams {
		s := &cfg.Streams[i]
		if s.Name == "" {
			s.Name = s.Method
		}
		if len(s.RetryCodes) == 0 {
			s.RetryCodes = []int{14} // UNAVAILABLE
		}
		if s.Backoff.InitialRetryDelay == 0 {
			s.Backoff.InitialRetryDelay = defaultBackoff.InitialRetryDelay
		}
		if s.Backoff.RetryDelayMultiplier == 0 {
			s.Backoff.RetryDelayMultiplier = defaultBackoff.RetryDelayMultiplier
		}
		if s.Backoff.MaxRetryDelay == 0 {
			s.Backoff.MaxRetryDelay = defaultBackoff.MaxRetryDelay
		}
		if s.Backoff.InitialRPCTimeout == 0 {
			s.Backoff.InitialRPCTimeout = defaultBackoff.InitialRPCTimeout
		}
		if s.Backoff.RPCTimeoutMultiplier == 0 {
			s.Backoff.RPCTimeoutMultiplier = defaultBackoff.RPCTimeoutMultiplier
		}
		if s.Backoff.MaxRPCTimeout == 0 {
			s.Backoff.MaxRPCTimeout = defaultBackoff.MaxRPCTimeout
		}
		if err := s.Backoff.Validate(); err != nil {
			return nil, fmt.Errorf("stream %q: %w", s.Name, err)
		}
	}

	return &cfg, nil
}

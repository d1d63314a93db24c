package config

import "github.com/vietddude/relay/internal/core/backoff"

var defaultBackoff = backoff.Default()

// Package backoff holds the pure delay/timeout arithmetic behind the retry
// engine: the exponential schedule, the randomized pause, and the budget
// exhaustion check.
package backoff

import (
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/vietddude/relay/internal/core/rpcerror"
)

// Settings control retry pacing and per-attempt timeouts. TotalTimeout of
// zero means no total deadline; a nil MaxRetries means no attempt cap.
// Zero is a meaningful MaxRetries value, which is why it is a pointer.
type Settings struct {
	InitialRetryDelay    time.Duration `yaml:"initial_retry_delay"`
	RetryDelayMultiplier float64       `yaml:"retry_delay_multiplier"`
	MaxRetryDelay        time.Duration `yaml:"max_retry_delay"`
	InitialRPCTimeout    time.Duration `yaml:"initial_rpc_timeout"`
	RPCTimeoutMultiplier float64       `yaml:"rpc_timeout_multiplier"`
	MaxRPCTimeout        time.Duration `yaml:"max_rpc_timeout"`
	TotalTimeout         time.Duration `yaml:"total_timeout"`
	MaxRetries           *int          `yaml:"max_retries"`
}

// Default returns the stock schedule: 100ms initial delay growing 1.3x up
// to 60s, 30s flat per-attempt timeouts, no retry budget.
func Default() Settings {
	return Settings{
		InitialRetryDelay:    100 * time.Millisecond,
		RetryDelayMultiplier: 1.3,
		MaxRetryDelay:        60 * time.Second,
		InitialRPCTimeout:    30 * time.Second,
		RPCTimeoutMultiplier: 1.0,
		MaxRPCTimeout:        30 * time.Second,
	}
}

// Retries is a convenience for building the MaxRetries field.
func Retries(n int) *int {
	return &n
}

// Validate rejects mutually exclusive budgets. The message is part of the
// public contract and must not change.
func (s Settings) Validate() error {
	if s.MaxRetries != nil && s.TotalTimeout > 0 {
		return rpcerror.New(codes.InvalidArgument,
			"Cannot set both totalTimeoutMillis and maxRetries in backoffSettings.")
	}
	return nil
}

// Clock walks the delay/timeout schedule across attempts. Not safe for
// concurrent use; each logical stream owns one.
type Clock struct {
	settings Settings
	delay    time.Duration
	timeout  time.Duration
}

// NewClock creates a Clock positioned at the first attempt.
func NewClock(s Settings) *Clock {
	return &Clock{settings: s, delay: s.InitialRetryDelay, timeout: s.InitialRPCTimeout}
}

// Pause returns the randomized sleep before the next attempt, uniform over
// [0, delay), and advances the schedule.
func (c *Clock) Pause() time.Duration {
	var sleep time.Duration
	if c.delay > 0 {
		sleep = time.Duration(rand.Int64N(int64(c.delay)))
	}
	c.delay = scale(c.delay, c.settings.RetryDelayMultiplier, c.settings.MaxRetryDelay)
	c.timeout = scale(c.timeout, c.settings.RPCTimeoutMultiplier, c.settings.MaxRPCTimeout)
	return sleep
}

// Delay returns the current upper bound on the pause without advancing.
func (c *Clock) Delay() time.Duration {
	return c.delay
}

// Timeout returns the per-attempt RPC timeout, capped by the remaining
// total budget when a deadline is set.
func (c *Clock) Timeout(now, deadline time.Time) time.Duration {
	t := c.timeout
	if !deadline.IsZero() {
		if remaining := deadline.Sub(now); t > remaining {
			t = remaining
		}
	}
	return t
}

func scale(d time.Duration, mult float64, max time.Duration) time.Duration {
	next := time.Duration(float64(d) * mult)
	if max > 0 && next > max {
		next = max
	}
	return next
}

// Reason says why the retry budget is exhausted.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonMaxRetries
	ReasonDeadline
)

// Exceeded reports whether the given retry count or wall clock has
// exhausted the configured budget. A zero deadline means no total timeout.
func Exceeded(s Settings, retryCount int, now, deadline time.Time) Reason {
	if s.MaxRetries != nil && retryCount >= *s.MaxRetries {
		return ReasonMaxRetries
	}
	if s.TotalTimeout > 0 && !deadline.IsZero() && !now.Before(deadline) {
		return ReasonDeadline
	}
	return ReasonNone
}

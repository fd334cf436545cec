package loom

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines the join poll pacing curve.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// JoinConfig bounds one join poll loop. MaxPolls zero means unbounded.
type JoinConfig struct {
	Backoff  BackoffConfig
	MaxPolls int
}

func DefaultJoinConfig() JoinConfig {
	return JoinConfig{
		Backoff: BackoffConfig{
			InitialDelay: time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     50 * time.Millisecond,
			Jitter:       false,
		},
		MaxPolls: 0,
	}
}

// WithDefaults fills zero pacing fields from DefaultJoinConfig. MaxPolls
// is kept as given; zero is a meaningful value.
func (c JoinConfig) WithDefaults() JoinConfig {
	def := DefaultJoinConfig()
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = def.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier < 1.0 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = def.Backoff.MaxDelay
	}
	return c
}

// NextPollDelay returns the poll delay for attempt N (1-based).
func NextPollDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

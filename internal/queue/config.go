package queue

import (
	"math/rand"
	"time"
)

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Delay is the wait before dial attempt+1. The first retry waits
// InitialDelay, each later one grows by Multiplier, and the result never
// exceeds MaxDelay, jitter included. A nil rng jitters by a fixed half.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	delay := b.InitialDelay
	for i := 1; i < attempt; i++ {
		if b.Multiplier > 1 {
			delay = time.Duration(float64(delay) * b.Multiplier)
		}
		if b.MaxDelay > 0 && delay >= b.MaxDelay {
			delay = b.MaxDelay
			break
		}
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay = time.Duration(float64(delay) * f)
	}
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay
}

// LinkConfig holds socket timeouts shared by the broker and worker links.
type LinkConfig struct {
	DialTimeout      time.Duration
	DialAttempts     int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Backoff          BackoffConfig
}

func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		DialTimeout:      2 * time.Second,
		DialAttempts:     8,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     15 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 50 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultLinkConfig.
func (c LinkConfig) WithDefaults() LinkConfig {
	d := DefaultLinkConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = d.DialAttempts
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}

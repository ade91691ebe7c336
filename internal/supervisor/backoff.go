package supervisor

import (
	"time"
)

// BackoffConfig holds the configuration for exponential restart backoff.
type BackoffConfig struct {
	Base          time.Duration // First restart delay (default: 1s)
	Max           time.Duration // Cap on the exponential part (default: 30s)
	JitterCeiling time.Duration // Jitter is drawn from [0, JitterCeiling) (default: 1s)
}

// DefaultBackoffConfig returns the default restart policy.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:          1 * time.Second,
		Max:           30 * time.Second,
		JitterCeiling: 1 * time.Second,
	}
}

// Normalize floors Base at zero and Max at Base.
func (c BackoffConfig) Normalize() BackoffConfig {
	if c.Base < 0 {
		c.Base = 0
	}
	if c.Max < c.Base {
		c.Max = c.Base
	}
	if c.JitterCeiling < 0 {
		c.JitterCeiling = 0
	}
	return c
}

// Backoff computes restart delays:
//
//	delay(n) = min(Base * 2^n, Max) + jitter,  jitter in [0, JitterCeiling)
//
// where n is the number of restarts since the last confirmed connection.
// Backoff is not safe for concurrent use; the supervisor loop owns it.
type Backoff struct {
	config   BackoffConfig
	attempts int
	jitter   *JitterSource
}

// NewBackoff creates a Backoff drawing jitter from js. A nil js uses a
// time-seeded source.
func NewBackoff(cfg BackoffConfig, js *JitterSource) *Backoff {
	if js == nil {
		js = NewJitterSourceFromTime()
	}
	return &Backoff{
		config: cfg.Normalize(),
		jitter: js,
	}
}

// Next returns the delay for the current attempt and increments the counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the delay for the current attempt without incrementing.
// Jitter is drawn on every call.
func (b *Backoff) Calculate() time.Duration {
	return b.Exponential() + b.jitter.Jitter(b.config.JitterCeiling)
}

// Exponential returns min(Base * 2^attempts, Max) without jitter.
func (b *Backoff) Exponential() time.Duration {
	delay := b.config.Base
	for i := 0; i < b.attempts; i++ {
		if delay >= b.config.Max || delay > b.config.Max/2 {
			return b.config.Max
		}
		delay *= 2
	}
	if delay > b.config.Max {
		delay = b.config.Max
	}
	return delay
}

// Reset resets the attempt counter to zero.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the current attempt count.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// SetAttempts sets the attempt counter.
func (b *Backoff) SetAttempts(n int) {
	if n < 0 {
		n = 0
	}
	b.attempts = n
}

// Config returns the normalized configuration.
func (b *Backoff) Config() BackoffConfig {
	return b.config
}

// IsCleanExit reports whether an exit should be treated as intentional.
// A nil code means the worker was killed by a signal.
func IsCleanExit(code *int) bool {
	return code != nil && *code == 0
}

package coordinator

import (
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
)

// Config tunes retries and timeouts of saga steps.
type Config struct {
	// MaxAttempts bounds the attempts of one step, the first included.
	MaxAttempts int
	// BackoffBase is the delay before the second attempt. Each further delay
	// doubles, up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// StepTimeout is how long a dispatched step may wait for its result
	// before it counts as a TIMEOUT failure.
	StepTimeout time.Duration
	// SweepInterval is the period of Run.
	SweepInterval time.Duration
	// NonRetryable codes fail the step on the first occurrence.
	NonRetryable []contracts.ErrorCode
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		BackoffBase:   2 * time.Second,
		BackoffMax:    30 * time.Second,
		StepTimeout:   10 * time.Second,
		SweepInterval: 500 * time.Millisecond,
		NonRetryable:  []contracts.ErrorCode{contracts.CodeRejected, contracts.CodeInvalidRequest},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = d.StepTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.NonRetryable == nil {
		c.NonRetryable = d.NonRetryable
	}
	return c
}

// retryable reports whether a step that failed with code on attempt may be
// tried again.
func (c Config) retryable(code contracts.ErrorCode, attempt int) bool {
	return attempt < c.MaxAttempts && !slices.Contains(c.NonRetryable, code)
}

// abandonGrace is how long a timed-out attempt is remembered so that a late
// success can still be released.
func (c Config) abandonGrace() time.Duration {
	return 2 * c.StepTimeout
}

// delay is the wait after the given failed attempt: base, 2*base, 4*base...
// capped at BackoffMax.
func (c Config) delay(attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.BackoffBase
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = c.BackoffMax
	eb.MaxElapsedTime = 0
	eb.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	return d
}

// Package backoff schedules reconnect delays: 1s doubling per failed
// attempt, capped at 30s, retrying indefinitely.
package backoff

import (
	"time"

	expbackoff "github.com/cenkalti/backoff/v5"
)

const (
	// BaseDelay is the delay before the first retry.
	BaseDelay = 1 * time.Second
	// MaxDelay caps the delay regardless of attempt count.
	MaxDelay = 30 * time.Second
)

// Scheduler produces the delay before each consecutive retry attempt.
// It is deterministic: no jitter, so delay(n) = min(1s * 2^n, 30s).
type Scheduler struct {
	exp *expbackoff.ExponentialBackOff
}

func NewScheduler() *Scheduler {
	exp := expbackoff.NewExponentialBackOff()
	exp.InitialInterval = BaseDelay
	exp.MaxInterval = MaxDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.Reset()
	return &Scheduler{exp: exp}
}

// Next returns the delay for the next retry attempt and advances the
// schedule. The first call after Reset returns BaseDelay.
func (s *Scheduler) Next() time.Duration {
	d := s.exp.NextBackOff()
	if d < 0 || d > MaxDelay {
		d = MaxDelay
	}
	return d
}

// Reset restarts the schedule, as on a successful connection or a manual
// reconnect.
func (s *Scheduler) Reset() {
	s.exp.Reset()
}

package entityevent

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/MarcGrol/idmevents/lib/myerrors"
)

// RetryPolicy decides if and when a failed asynchronous resumption is tried again.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
	Multiplier   float64       `yaml:"multiplier"`
	// Jitter is the fraction of the delay that is randomised, between 0 and 1.
	Jitter float64 `yaml:"jitter"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 30 * time.Second,
		MaxDelay:     30 * time.Minute,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// NextDelay returns the delay before the next attempt, given the number of attempts done so far.
func (p RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempts-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		jitter := math.Min(p.Jitter, 1.0)
		delay = delay - delay*jitter + rand.Float64()*2*delay*jitter
	}
	return time.Duration(delay)
}

// ShouldRetry is false for business errors: they fail the same way every time.
func (p RetryPolicy) ShouldRetry(attempts int, err error) bool {
	if err == nil || myerrors.IsClientError(err) {
		return false
	}
	return attempts < p.MaxAttempts
}

package httpsession

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Interface checks for the delay strategies RetryPolicy accepts.
var (
	_ backoff.BackOff = (*LinearBackOff)(nil)
	_ backoff.BackOff = (*DecorrelatedJitterBackOff)(nil)
	_ backoff.BackOff = (*ConstantBackOffWithJitter)(nil)
)

// LinearBackOff grows the interval by a fixed increment plus jitter.
//
// Interval calculation: initial + (attempt × increment) ± jitter, capped at
// MaxInterval. Growth is gentler than exponential, which suits short
// interactive retry budgets.
type LinearBackOff struct {
	// InitialInterval is the first interval. Default: 500ms.
	InitialInterval time.Duration
	// Increment is added to each subsequent interval. Default: 500ms.
	Increment time.Duration
	// MaxInterval caps the interval. Default: 30s.
	MaxInterval time.Duration
	// JitterFactor randomizes each interval (0.0-1.0). Default: 0.5.
	JitterFactor float64

	currentInterval time.Duration
	attempt         int
}

// NewLinearBackOff creates a LinearBackOff with the defaults above.
func NewLinearBackOff() *LinearBackOff {
	return &LinearBackOff{
		InitialInterval: 500 * time.Millisecond,
		Increment:       500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		JitterFactor:    0.5,
	}
}

// Reset returns the backoff to its initial state.
func (b *LinearBackOff) Reset() {
	b.currentInterval = b.InitialInterval
	b.attempt = 0
}

// NextBackOff returns the next interval with jitter applied.
func (b *LinearBackOff) NextBackOff() time.Duration {
	if b.currentInterval == 0 {
		b.currentInterval = b.InitialInterval
	}

	interval := applyJitter(b.currentInterval, b.JitterFactor)

	b.attempt++
	b.currentInterval = b.InitialInterval + time.Duration(b.attempt)*b.Increment
	if b.currentInterval > b.MaxInterval {
		b.currentInterval = b.MaxInterval
	}

	return interval
}

// DecorrelatedJitterBackOff implements AWS-style decorrelated jitter:
// each interval is random between Base and the previous interval times
// three, capped at Cap. It spreads simultaneous retriers more evenly than
// plain randomized exponential growth.
//
// See: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type DecorrelatedJitterBackOff struct {
	// Base is the minimum interval. Default: 500ms.
	Base time.Duration
	// Cap is the maximum interval. Default: 30s.
	Cap time.Duration

	sleep time.Duration
}

// NewDecorrelatedJitterBackOff creates a DecorrelatedJitterBackOff with the
// defaults above.
func NewDecorrelatedJitterBackOff() *DecorrelatedJitterBackOff {
	return &DecorrelatedJitterBackOff{
		Base: 500 * time.Millisecond,
		Cap:  30 * time.Second,
	}
}

// Reset returns the backoff to its initial state.
func (b *DecorrelatedJitterBackOff) Reset() {
	b.sleep = b.Base
}

// NextBackOff returns the next decorrelated interval.
func (b *DecorrelatedJitterBackOff) NextBackOff() time.Duration {
	if b.sleep == 0 {
		b.sleep = b.Base
	}

	upperBound := b.sleep * 3
	if upperBound > b.Cap {
		upperBound = b.Cap
	}
	b.sleep = randomBetween(b.Base, upperBound)

	return b.sleep
}

// ConstantBackOffWithJitter waits a fixed interval with randomization.
type ConstantBackOffWithJitter struct {
	// Interval is the base interval. Default: 1s.
	Interval time.Duration
	// JitterFactor randomizes each interval (0.0-1.0). Default: 0.5.
	JitterFactor float64
}

// NewConstantBackOffWithJitter creates a ConstantBackOffWithJitter with the
// defaults above.
func NewConstantBackOffWithJitter() *ConstantBackOffWithJitter {
	return &ConstantBackOffWithJitter{
		Interval:     1 * time.Second,
		JitterFactor: 0.5,
	}
}

// Reset is a no-op; constant backoff carries no state.
func (b *ConstantBackOffWithJitter) Reset() {}

// NextBackOff returns the interval with jitter applied.
func (b *ConstantBackOffWithJitter) NextBackOff() time.Duration {
	return applyJitter(b.Interval, b.JitterFactor)
}

// ExponentialBackOffFromConfig builds a cenkalti/backoff ExponentialBackOff
// from a RetryConfig, forcing a minimum jitter so simultaneous retriers
// never align.
func ExponentialBackOffFromConfig(cfg RetryConfig) *backoff.ExponentialBackOff {
	jitterFactor := cfg.JitterFactor
	if jitterFactor <= 0 {
		jitterFactor = DefaultJitterFactor
	}

	return &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: jitterFactor,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxInterval,
	}
}

// applyJitter randomizes interval into [interval*(1-f), interval*(1+f)].
func applyJitter(interval time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return interval
	}
	if jitterFactor > 1 {
		jitterFactor = 1
	}

	delta := float64(interval) * jitterFactor
	minInterval := float64(interval) - delta
	maxInterval := float64(interval) + delta

	//nolint:gosec // intentional weak rand for jitter (not cryptographic)
	return time.Duration(
		minInterval + rand.Float64()*(maxInterval-minInterval),
	)
}

// randomBetween returns a random duration in [minDur, maxDur].
//
//nolint:gosec // intentional weak rand for jitter (not cryptographic)
func randomBetween(minDur, maxDur time.Duration) time.Duration {
	if minDur >= maxDur {
		return minDur
	}
	return minDur + time.Duration(
		rand.Int64N(int64(maxDur-minDur)),
	)
}

package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CalculateBackoff computes the delay before retry attempt n. The schedule is
// baseDelay*multiplier^attempt capped at maxDelay; a negative attempt is
// treated as attempt zero. With jitter enabled, uniform noise in ±25% of the
// raw delay is added, the result is clamped to never fall below baseDelay and
// truncated to whole seconds.
//
// The function performs no I/O and holds no state; with jitter disabled it is
// fully deterministic.
func CalculateBackoff(attempt int, baseDelay, maxDelay time.Duration, multiplier float64, jitter bool) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	raw := float64(baseDelay) * math.Pow(multiplier, float64(attempt))
	if raw > float64(maxDelay) {
		raw = float64(maxDelay)
	}

	if !jitter {
		return time.Duration(raw)
	}

	noise := (rand.Float64()*0.5 - 0.25) * raw
	delay := time.Duration(raw + noise)
	if delay < baseDelay {
		delay = baseDelay
	}
	return delay.Truncate(time.Second)
}

// BackoffSeconds is CalculateBackoff reported as whole seconds, the unit the
// delivery layer puts into retry_after_seconds hints.
func BackoffSeconds(attempt int, baseDelay, maxDelay time.Duration, multiplier float64, jitter bool) int {
	return int(CalculateBackoff(attempt, baseDelay, maxDelay, multiplier, jitter) / time.Second)
}

func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = 0
	return exp
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}

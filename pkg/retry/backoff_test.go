package retry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBackoffWithoutJitter(t *testing.T) {
	base := 1 * time.Second
	max := 300 * time.Second

	for attempt := 0; attempt < 12; attempt++ {
		expected := time.Duration(math.Min(
			float64(base)*math.Pow(2.0, float64(attempt)),
			float64(max),
		))
		got := CalculateBackoff(attempt, base, max, 2.0, false)
		assert.Equal(t, expected, got, "attempt %d", attempt)
	}
}

func TestCalculateBackoffNegativeAttempt(t *testing.T) {
	got := CalculateBackoff(-5, 2*time.Second, 300*time.Second, 2.0, false)
	assert.Equal(t, 2*time.Second, got)
}

func TestCalculateBackoffCapsAtMax(t *testing.T) {
	got := CalculateBackoff(20, 1*time.Second, 300*time.Second, 2.0, false)
	assert.Equal(t, 300*time.Second, got)
}

func TestCalculateBackoffWithJitterStaysInBounds(t *testing.T) {
	base := 2 * time.Second
	max := 300 * time.Second

	for attempt := 0; attempt < 10; attempt++ {
		expected := math.Min(float64(base)*math.Pow(2.0, float64(attempt)), float64(max))
		lower := time.Duration(math.Max(float64(base), 0.75*expected)).Truncate(time.Second)
		upper := time.Duration(1.25 * expected)

		for i := 0; i < 50; i++ {
			got := CalculateBackoff(attempt, base, max, 2.0, true)
			assert.GreaterOrEqual(t, got, lower, "attempt %d", attempt)
			assert.LessOrEqual(t, got, upper, "attempt %d", attempt)
			assert.Zero(t, got%time.Second, "jittered delay must be whole seconds")
		}
	}
}

func TestCalculateBackoffJitterNeverBelowBase(t *testing.T) {
	base := 5 * time.Second
	for i := 0; i < 100; i++ {
		got := CalculateBackoff(0, base, 300*time.Second, 2.0, true)
		assert.GreaterOrEqual(t, got, base)
	}
}

func TestBackoffSeconds(t *testing.T) {
	assert.Equal(t, 8, BackoffSeconds(3, 1*time.Second, 300*time.Second, 2.0, false))
	assert.Equal(t, 300, BackoffSeconds(30, 1*time.Second, 300*time.Second, 2.0, false))
}

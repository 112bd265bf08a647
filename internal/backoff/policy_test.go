package backoff

import (
	"testing"
	"time"
)

func TestDelayWithRand(t *testing.T) {
	noJitter := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0}

	tests := []struct {
		name        string
		policy      Policy
		attempt     int
		randomValue float64
		expected    time.Duration
	}{
		{"first attempt", noJitter, 1, 0.5, 100 * time.Millisecond},
		{"second attempt doubles", noJitter, 2, 0.5, 200 * time.Millisecond},
		{"third attempt quadruples", noJitter, 3, 0.5, 400 * time.Millisecond},
		{"fifth attempt", noJitter, 5, 0.5, 1600 * time.Millisecond},
		{
			name:        "clamped to max",
			policy:      Policy{Initial: 100 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 2, Jitter: 0},
			attempt:     10,
			randomValue: 0.5,
			expected:    500 * time.Millisecond,
		},
		{
			name:        "full jitter adds fraction of base",
			policy:      Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0.1},
			attempt:     1,
			randomValue: 1.0,
			expected:    110 * time.Millisecond,
		},
		{
			name:        "attempt below one treated as first",
			policy:      noJitter,
			attempt:     0,
			randomValue: 0.5,
			expected:    100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.DelayWithRand(tt.attempt, tt.randomValue)
			if got != tt.expected {
				t.Errorf("DelayWithRand(%d, %v) = %v, want %v", tt.attempt, tt.randomValue, got, tt.expected)
			}
		})
	}
}

func TestDelayJitterBounded(t *testing.T) {
	p := DefaultPolicy()
	for attempt := 1; attempt <= 8; attempt++ {
		d := p.Delay(attempt)
		lo := p.DelayWithRand(attempt, 0)
		hi := p.DelayWithRand(attempt, 1)
		if d < lo || d > hi {
			t.Errorf("Delay(%d) = %v outside [%v, %v]", attempt, d, lo, hi)
		}
	}
}

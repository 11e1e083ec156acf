package backoff_test

import (
	"math"
	"testing"
	"time"

	"github.com/xraph/cuttrack/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.NewConstant(250 * time.Millisecond)
	for _, attempt := range []int{1, 2, 7, 100} {
		if got := c.Delay(attempt); got != 250*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want 250ms", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.NewExponential(500*time.Millisecond, 30*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{6, 16 * time.Second},
		{7, 30 * time.Second},
		{500, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_UncappedDoesNotOverflow(t *testing.T) {
	e := backoff.NewExponential(time.Second, 0)
	for _, attempt := range []int{63, 64, 65, 200, 5000} {
		if got := e.Delay(attempt); got != time.Duration(math.MaxInt64) {
			t.Errorf("Delay(%d) = %v, want the largest duration", attempt, got)
		}
	}

	jittered := backoff.NewExponentialWithJitter(time.Second, 0)
	for range 50 {
		if got := jittered.Delay(200); got < 0 {
			t.Fatalf("jittered Delay(200) = %v, want a non-negative duration", got)
		}
	}
}

func TestExponentialWithJitter(t *testing.T) {
	e := backoff.NewExponentialWithJitter(100*time.Millisecond, 2*time.Second)

	for attempt := 1; attempt <= 8; attempt++ {
		ceiling := min(100*time.Millisecond<<(attempt-1), 2*time.Second)
		for range 50 {
			got := e.Delay(attempt)
			if got < 0 || got > ceiling {
				t.Fatalf("Delay(%d) = %v, want within [0, %v]", attempt, got, ceiling)
			}
		}
	}
}

func TestDefaults(t *testing.T) {
	if got := backoff.DefaultReconnect().Delay(50); got > 30*time.Second {
		t.Errorf("DefaultReconnect exceeds 30s: %v", got)
	}
	if got := backoff.DefaultConflict().Delay(50); got > 200*time.Millisecond {
		t.Errorf("DefaultConflict exceeds 200ms: %v", got)
	}
}

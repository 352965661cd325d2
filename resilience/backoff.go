package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Backoff computes capped exponential delays with full jitter.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  func(time.Duration) time.Duration
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := b.Initial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	maximum := b.Max
	if maximum <= 0 {
		maximum = 10 * time.Second
	}
	next := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
	if next <= 0 || next > maximum {
		next = maximum
	}
	jitter := b.Jitter
	if jitter == nil {
		jitter = fullJitter
	}
	return jitter(next)
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// retryHint reads a retry_after_ms hint from a go-errors envelope.
func retryHint(err error) time.Duration {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil || len(rich.Metadata) == 0 {
		return 0
	}
	switch value := rich.Metadata["retry_after_ms"].(type) {
	case int64:
		return time.Duration(value) * time.Millisecond
	case int:
		return time.Duration(value) * time.Millisecond
	case float64:
		return time.Duration(value) * time.Millisecond
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package clock

import (
	"context"
	"time"
)

type SystemClock struct{}

func (SystemClock) Now(ctx context.Context) time.Time {
	if t, ok := SimulatedTime(ctx); ok {
		return t
	}
	return time.Now().UTC()
}

// Fixed always reports the same instant unless the context carries a
// simulated time.
type Fixed struct {
	At time.Time
}

func (f Fixed) Now(ctx context.Context) time.Time {
	if t, ok := SimulatedTime(ctx); ok {
		return t
	}
	return f.At.UTC()
}

package clock

import (
	"context"
	"time"
)

type simulatedTimeKey struct{}

// WithSimulatedTime pins Now for everything running under ctx.
func WithSimulatedTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, simulatedTimeKey{}, t.UTC())
}

func SimulatedTime(ctx context.Context) (time.Time, bool) {
	if ctx == nil {
		return time.Time{}, false
	}
	t, ok := ctx.Value(simulatedTimeKey{}).(time.Time)
	return t, ok
}

package dedupe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

var meter = otel.Meter("skyassist.lib.dedupe")
var sharedCounter, _ = meter.Int64Counter("dedupe_shared_calls")

// Group collapses concurrent calls for the same key into one in-flight call.
// The registration is dropped as soon as the call completes (with a value or
// an error) so the next call for that key starts fresh.
type Group[T any] struct {
	flight singleflight.Group
}

// Do runs fn for key unless a call for key is already in flight, in which case
// it waits for that call's result. fn is detached from the caller's
// cancellation: a caller that gives up returns ctx.Err() and the in-flight call
// still finishes for everyone else.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	detached := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			sharedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
		}
		if res.Err != nil {
			return zero, res.Err
		}
		value, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("dedupe: unexpected type %T for key %q", res.Val, key)
		}
		return value, nil
	}
}

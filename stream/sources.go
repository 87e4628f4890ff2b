package stream

import (
	"context"
	"time"
)

// Of emits each value in order and then completes.
func Of(values ...any) Stream {
	vs := append([]any(nil), values...)
	return Create(func(ctx context.Context, e Emitter) error {
		for _, v := range vs {
			if err := e.Next(v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Empty completes without emitting.
func Empty() Stream {
	return Create(func(ctx context.Context, e Emitter) error { return nil })
}

// Fail errors immediately with err.
func Fail(err error) Stream {
	return Create(func(ctx context.Context, e Emitter) error { return err })
}

// Never emits nothing and never terminates on its own.
func Never() Stream {
	return Create(func(ctx context.Context, e Emitter) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

// FromChannel emits every value received from ch and completes when ch is
// closed.
func FromChannel[T any](ch <-chan T) Stream {
	return Create(func(ctx context.Context, e Emitter) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case v, ok := <-ch:
				if !ok {
					return nil
				}
				if err := e.Next(v); err != nil {
					return err
				}
			}
		}
	})
}

// Timer emits 0 after delay and then an increasing counter every period. A
// non-positive period emits a single value and completes.
func Timer(delay, period time.Duration) Stream {
	return Create(func(ctx context.Context, e Emitter) error {
		t := time.NewTimer(delay)
		defer t.Stop()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			if err := e.Next(i); err != nil {
				return err
			}
			if period <= 0 {
				return nil
			}
			t.Reset(period)
		}
	})
}

// Interval emits an increasing counter every period, starting after one period.
func Interval(period time.Duration) Stream {
	return Timer(period, period)
}

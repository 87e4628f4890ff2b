package stream

import (
	"context"
	"sync"
)

// Take emits the first n values of s and then completes, cancelling s.
func Take(s Stream, n int) Stream {
	return Create(func(ctx context.Context, e Emitter) error {
		if n <= 0 {
			return nil
		}
		done := make(chan error, 1)
		finish := func(err error) {
			select {
			case done <- err:
			default:
			}
		}
		count := 0
		sub := s.Subscribe(ctx, ObserverFuncs{
			NextFunc: func(v any) {
				if count >= n {
					return
				}
				count++
				if err := e.Next(v); err != nil {
					finish(err)
					return
				}
				if count == n {
					finish(nil)
				}
			},
			ErrorFunc:    finish,
			CompleteFunc: func() { finish(nil) },
		})
		defer sub.Unsubscribe()

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Map transforms each value of s with fn. An error from fn errors the
// resulting stream and cancels s.
func Map(s Stream, fn func(v any) (any, error)) Stream {
	return Create(func(ctx context.Context, e Emitter) error {
		done := make(chan error, 1)
		stopped := false
		finish := func(err error) {
			stopped = true
			select {
			case done <- err:
			default:
			}
		}
		sub := s.Subscribe(ctx, ObserverFuncs{
			NextFunc: func(v any) {
				if stopped {
					return
				}
				out, err := fn(v)
				if err != nil {
					finish(err)
					return
				}
				if err := e.Next(out); err != nil {
					finish(err)
				}
			},
			ErrorFunc:    finish,
			CompleteFunc: func() { finish(nil) },
		})
		defer sub.Unsubscribe()

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Finalize calls fn exactly once when a subscription to s terminates or is
// cancelled.
func Finalize(s Stream, fn func()) Stream {
	return Func(func(ctx context.Context, o Observer) Subscription {
		var once sync.Once
		run := func() { once.Do(fn) }
		stop := context.AfterFunc(ctx, run)

		sub := s.Subscribe(ctx, ObserverFuncs{
			NextFunc: o.Next,
			ErrorFunc: func(err error) {
				o.Error(err)
				stop()
				run()
			},
			CompleteFunc: func() {
				o.Complete()
				stop()
				run()
			},
		})

		return SubscriptionFunc(func() {
			sub.Unsubscribe()
			stop()
			run()
		})
	})
}

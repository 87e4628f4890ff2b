package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnsubscribed is returned by Emitter.Next once the subscription has been
// cancelled or has already terminated. Producers should return promptly.
var ErrUnsubscribed = errors.New("stream: unsubscribed")

// Observer receives the events of a single subscription.
type Observer interface {
	Next(v any)
	Error(err error)
	Complete()
}

// ObserverFuncs adapts plain functions to the Observer interface. Nil fields
// are ignored.
type ObserverFuncs struct {
	NextFunc     func(v any)
	ErrorFunc    func(err error)
	CompleteFunc func()
}

func (o ObserverFuncs) Next(v any) {
	if o.NextFunc != nil {
		o.NextFunc(v)
	}
}

func (o ObserverFuncs) Error(err error) {
	if o.ErrorFunc != nil {
		o.ErrorFunc(err)
	}
}

func (o ObserverFuncs) Complete() {
	if o.CompleteFunc != nil {
		o.CompleteFunc()
	}
}

// Subscription is the cancellation handle of a running stream.
type Subscription interface {
	// Unsubscribe cancels the subscription. It is idempotent and is a no-op
	// once the stream has terminated.
	Unsubscribe()
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// Stream is a lazily started producer of values.
type Stream interface {
	Subscribe(ctx context.Context, o Observer) Subscription
}

// Func adapts a subscribe function to the Stream interface.
type Func func(ctx context.Context, o Observer) Subscription

func (f Func) Subscribe(ctx context.Context, o Observer) Subscription { return f(ctx, o) }

// Emitter is handed to producers created with Create.
type Emitter interface {
	// Next delivers one value downstream. It returns ErrUnsubscribed when the
	// subscription is no longer active.
	Next(v any) error
}

// guard serializes observer callbacks and enforces the terminal/cancel rules.
type guard struct {
	mu     sync.Mutex
	done   bool
	o      Observer
	ctx    context.Context
	cancel context.CancelFunc
}

func (g *guard) Next(v any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done || g.ctx.Err() != nil {
		return ErrUnsubscribed
	}
	g.o.Next(v)
	return nil
}

func (g *guard) terminate(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	g.done = true
	if err != nil {
		g.o.Error(err)
		return
	}
	g.o.Complete()
}

func (g *guard) Unsubscribe() {
	g.mu.Lock()
	g.done = true
	g.mu.Unlock()
	g.cancel()
}

// Create returns a Stream that runs fn in its own goroutine for every
// subscription. A nil return completes the stream; a non-nil return errors
// it. Returns observed after cancellation are discarded. A panic in fn is
// reported as an error.
func Create(fn func(ctx context.Context, e Emitter) error) Stream {
	return Func(func(ctx context.Context, o Observer) Subscription {
		ctx, cancel := context.WithCancel(ctx)
		g := &guard{o: o, ctx: ctx, cancel: cancel}
		context.AfterFunc(ctx, g.Unsubscribe)

		go func() {
			defer cancel()
			err := produce(ctx, fn, g)
			if ctx.Err() != nil {
				g.Unsubscribe()
				return
			}
			g.terminate(err)
		}()

		return g
	})
}

func produce(ctx context.Context, fn func(ctx context.Context, e Emitter) error, e Emitter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stream: producer panic: %v", r)
		}
	}()
	return fn(ctx, e)
}

package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/streamrpc-go/stream"
	"github.com/ggoodman/streamrpc-go/wire"
)

// subscription is the entry for one live request id. Its mutex serializes
// outbound sends for the id; it is always acquired before the session mutex.
type subscription struct {
	id     string
	sess   *Session
	ctx    context.Context
	cancel context.CancelFunc

	// removed is set once the entry has left the session table.
	removed atomic.Bool
	// terminal is set when the stream itself ended the id.
	terminal atomic.Bool

	mu     sync.Mutex
	done   bool
	handle stream.Subscription
}

// attach subscribes to st. It reports false when the id was cancelled before
// or during Subscribe, in which case st has been unsubscribed.
func (sub *subscription) attach(st stream.Stream) bool {
	sub.mu.Lock()
	if sub.done || sub.removed.Load() {
		sub.mu.Unlock()
		return false
	}
	sub.mu.Unlock()

	h := st.Subscribe(sub.ctx, observer{sub})

	sub.mu.Lock()
	if sub.done {
		sub.mu.Unlock()
		// Unsubscribe is a no-op for a stream that already terminated.
		h.Unsubscribe()
		return sub.terminal.Load()
	}
	sub.handle = h
	sub.mu.Unlock()
	return true
}

// stop cancels the id without sending anything. The caller must have removed
// the entry from the session table.
func (sub *subscription) stop() {
	// Cancelling first aborts a send in flight that holds the lock.
	sub.cancel()

	sub.mu.Lock()
	sub.done = true
	h := sub.handle
	sub.handle = nil
	sub.mu.Unlock()

	if h != nil {
		h.Unsubscribe()
	}
}

// fail reports err to the peer unless the id has already been cancelled or
// terminated.
func (sub *subscription) fail(err error) {
	sub.finish(wire.NewError(sub.id, err.Error()))
}

func (sub *subscription) finish(msg wire.Message) {
	sub.mu.Lock()
	if sub.done || !sub.sess.release(sub) {
		sub.mu.Unlock()
		return
	}
	sub.done = true
	sub.terminal.Store(true)
	sub.handle = nil
	sub.sess.send(sub.ctx, msg)
	sub.mu.Unlock()
	sub.cancel()
}

func (sub *subscription) next(v any) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.done || sub.removed.Load() {
		return
	}
	sub.sess.send(sub.ctx, wire.NewNext(sub.id, v))
}

type observer struct {
	sub *subscription
}

func (o observer) Next(v any)      { o.sub.next(v) }
func (o observer) Error(err error) { o.sub.fail(err) }
func (o observer) Complete()       { o.sub.finish(wire.NewDone(o.sub.id)) }

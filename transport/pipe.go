package transport

import (
	"context"
	"slices"
	"sync"

	"github.com/ggoodman/streamrpc-go/wire"
)

// PipeEnd is one side of an in-memory duplex connection created by Pipe.
type PipeEnd struct {
	peer  *PipeEnd
	state *pipeState

	mu       sync.Mutex
	queue    []wire.Message
	onMsg    []func(wire.Message)
	onClose  []func()
	notify   chan struct{}
	stopped  chan struct{}
	closeRan bool
}

type pipeState struct {
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

// Pipe returns two connected ends. Messages sent on one end are delivered, in
// order, to the OnMessage handlers of the other. Messages sent before the
// receiving side registers a handler are buffered.
func Pipe() (*PipeEnd, *PipeEnd) {
	st := &pipeState{}
	a := newPipeEnd(st)
	b := newPipeEnd(st)
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()
	return a, b
}

func newPipeEnd(st *pipeState) *PipeEnd {
	return &PipeEnd{
		state:   st,
		notify:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

func (p *PipeEnd) OnMessage(fn func(wire.Message)) {
	p.mu.Lock()
	p.onMsg = append(p.onMsg, fn)
	p.mu.Unlock()
	p.wake()
}

func (p *PipeEnd) OnClose(fn func()) {
	p.mu.Lock()
	ran := p.closeRan
	if !ran {
		p.onClose = append(p.onClose, fn)
	}
	p.mu.Unlock()
	if ran {
		fn()
	}
}

func (p *PipeEnd) Send(ctx context.Context, m wire.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Closed() {
		return ErrClosed
	}
	p.peer.enqueue(m)
	return nil
}

// Closed reports whether either end has been closed.
func (p *PipeEnd) Closed() bool {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return p.state.closed
}

// Close tears down both ends. Undelivered messages are dropped and the
// OnClose handlers of each end run exactly once.
func (p *PipeEnd) Close() error {
	p.state.once.Do(func() {
		p.state.mu.Lock()
		p.state.closed = true
		p.state.mu.Unlock()

		close(p.stopped)
		close(p.peer.stopped)
		p.runClose()
		p.peer.runClose()
	})
	return nil
}

func (p *PipeEnd) runClose() {
	p.mu.Lock()
	p.closeRan = true
	fns := p.onClose
	p.onClose = nil
	p.queue = nil
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *PipeEnd) enqueue(m wire.Message) {
	p.mu.Lock()
	p.queue = append(p.queue, m)
	p.mu.Unlock()
	p.wake()
}

func (p *PipeEnd) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *PipeEnd) pump() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 || len(p.onMsg) == 0 {
			p.mu.Unlock()
			select {
			case <-p.notify:
				continue
			case <-p.stopped:
				return
			}
		}
		m := p.queue[0]
		p.queue = p.queue[1:]
		handlers := slices.Clone(p.onMsg)
		p.mu.Unlock()

		select {
		case <-p.stopped:
			return
		default:
		}
		for _, fn := range handlers {
			fn(m)
		}
	}
}

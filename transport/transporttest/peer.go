// Package transporttest provides a scripted peer for exercising code that
// runs over a transport.Transport.
package transporttest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/streamrpc-go/transport"
	"github.com/ggoodman/streamrpc-go/wire"
)

// Peer records every message it receives on one end of a pipe.
type Peer struct {
	End *transport.PipeEnd

	mu       sync.Mutex
	received []wire.Message
	changed  chan struct{}
}

// NewPipe returns a Peer and the other end of its pipe, which is typically
// attached to the component under test.
func NewPipe() (*Peer, *transport.PipeEnd) {
	a, b := transport.Pipe()
	p := &Peer{End: a, changed: make(chan struct{})}
	a.OnMessage(p.record)
	return p, b
}

func (p *Peer) record(m wire.Message) {
	p.mu.Lock()
	p.received = append(p.received, m)
	ch := p.changed
	p.changed = make(chan struct{})
	p.mu.Unlock()
	close(ch)
}

// Send delivers m to the other end, failing t on error.
func (p *Peer) Send(t testing.TB, m wire.Message) {
	t.Helper()
	if err := p.End.Send(context.Background(), m); err != nil {
		t.Fatalf("send %s %s: %v", m.Type, m.ID, err)
	}
}

// Messages returns every message received so far.
func (p *Peer) Messages() []wire.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]wire.Message(nil), p.received...)
}

// ForID returns the received messages carrying id.
func (p *Peer) ForID(id string) []wire.Message {
	var out []wire.Message
	for _, m := range p.Messages() {
		if m.ID == id {
			out = append(out, m)
		}
	}
	return out
}

// WaitFor blocks until cond holds for the received messages, failing t after
// timeout.
func (p *Peer) WaitFor(t testing.TB, timeout time.Duration, cond func([]wire.Message) bool) []wire.Message {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		p.mu.Lock()
		msgs := append([]wire.Message(nil), p.received...)
		ch := p.changed
		p.mu.Unlock()
		if cond(msgs) {
			return msgs
		}
		select {
		case <-ch:
		case <-deadline.C:
			t.Fatalf("timeout waiting for messages; received %d: %+v", len(msgs), msgs)
			return nil
		}
	}
}

// WaitTerminal waits until an error or complete message for id arrives and
// returns every message for id.
func (p *Peer) WaitTerminal(t testing.TB, id string, timeout time.Duration) []wire.Message {
	t.Helper()
	p.WaitFor(t, timeout, func(ms []wire.Message) bool {
		for _, m := range ms {
			if m.ID == id && (m.Type == wire.TypeError || m.Type == wire.TypeComplete) {
				return true
			}
		}
		return false
	})
	return p.ForID(id)
}

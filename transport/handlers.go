package transport

import (
	"slices"
	"sync"

	"github.com/ggoodman/streamrpc-go/wire"
)

// Handlers implements the OnMessage and OnClose half of Transport for
// adapters built on top of a read loop. Messages delivered before the first
// OnMessage registration are buffered. The zero value is ready to use.
type Handlers struct {
	// dmu orders delivery of buffered and live messages.
	dmu sync.Mutex

	mu      sync.Mutex
	onMsg   []func(wire.Message)
	onClose []func()
	pending []wire.Message
	closed  bool
}

func (h *Handlers) OnMessage(fn func(wire.Message)) {
	h.dmu.Lock()
	defer h.dmu.Unlock()
	h.mu.Lock()
	h.onMsg = append(h.onMsg, fn)
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()
	for _, m := range pending {
		fn(m)
	}
}

// OnClose registers fn. If the transport is already closed fn runs
// immediately.
func (h *Handlers) OnClose(fn func()) {
	h.mu.Lock()
	closed := h.closed
	if !closed {
		h.onClose = append(h.onClose, fn)
	}
	h.mu.Unlock()
	if closed {
		fn()
	}
}

// Deliver hands m to every registered message handler, in call order.
// Messages are dropped once closed.
func (h *Handlers) Deliver(m wire.Message) {
	h.dmu.Lock()
	defer h.dmu.Unlock()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if len(h.onMsg) == 0 {
		h.pending = append(h.pending, m)
		h.mu.Unlock()
		return
	}
	fns := slices.Clone(h.onMsg)
	h.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

// Close marks the transport closed and runs the close handlers. It reports
// whether this call performed the close.
func (h *Handlers) Close() bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.closed = true
	fns := h.onClose
	h.onClose = nil
	h.pending = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return true
}

// Closed reports whether Close has been called.
func (h *Handlers) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

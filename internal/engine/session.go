package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ggoodman/streamrpc-go/internal/logctx"
	"github.com/ggoodman/streamrpc-go/rpcservice"
	"github.com/ggoodman/streamrpc-go/transport"
	"github.com/ggoodman/streamrpc-go/wire"
)

// Session is the state of one attached connection: its transport, its
// connection value and the table of live subscriptions keyed by request id.
type Session struct {
	id   string
	eng  *Engine
	t    transport.Transport
	conn any
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

func (s *Session) ID() string { return s.id }

// Conn returns the value supplied at attach time.
func (s *Session) Conn() any { return s.conn }

// Len returns the number of live ids, pending or subscribed.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Has reports whether id is live.
func (s *Session) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[id]
	return ok
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// HandleMessage processes one inbound message. It never blocks on middleware
// or method invocation.
func (s *Session) HandleMessage(msg wire.Message) {
	ctx := logctx.WithRPCMessage(s.ctx, &logctx.RPCMessage{Type: string(msg.Type), ID: msg.ID, Name: msg.Name})

	if s.isClosed() {
		s.log.WarnContext(ctx, "session.message.dropped", slog.String("err", "session closed"))
		return
	}
	if err := msg.ValidateInbound(); err != nil {
		s.log.WarnContext(ctx, "session.message.invalid", slog.String("err", err.Error()))
		return
	}

	switch msg.Type {
	case wire.TypeStart:
		s.handleStart(ctx, msg)
	case wire.TypeComplete:
		s.handleCancel(ctx, msg)
	}
}

func (s *Session) handleStart(ctx context.Context, msg wire.Message) {
	start := time.Now()

	m, ok := s.eng.reg.Lookup(msg.Name)
	if !ok {
		s.log.InfoContext(ctx, "engine.start.unknown")
		s.send(ctx, wire.NewError(msg.ID, ErrTextNoMatchingID))
		return
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{id: msg.ID, sess: s, ctx: subCtx, cancel: cancel}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		s.log.WarnContext(ctx, "session.message.dropped", slog.String("err", "session closed"))
		return
	}
	if _, exists := s.subs[msg.ID]; exists {
		s.mu.Unlock()
		cancel()
		s.log.InfoContext(ctx, "engine.start.duplicate")
		s.send(ctx, wire.NewError(msg.ID, ErrTextIDExists))
		return
	}
	s.subs[msg.ID] = sub
	s.mu.Unlock()

	go s.run(sub, m, msg, start)
}

// run drives a reserved id through middleware, argument validation and
// invocation, then subscribes to the resulting stream.
func (s *Session) run(sub *subscription, m *rpcservice.Method, msg wire.Message, start time.Time) {
	ctx := sub.ctx
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "engine.start.panic", slog.Any("panic", r))
			sub.fail(fmt.Errorf("internal error: %v", r))
		}
	}()

	req := &rpcservice.Request{
		SessionID: s.id,
		ID:        msg.ID,
		Method:    m.Name,
		Args:      slices.Clone(msg.Args),
		Conn:      s.conn,
	}
	chain := make(rpcservice.Chain, 0, len(s.eng.middleware)+len(m.Middleware))
	chain = append(chain, s.eng.middleware...)
	chain = append(chain, m.Middleware...)
	if err := chain.Run(ctx, req); err != nil {
		s.log.InfoContext(ctx, "engine.start.rejected", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		sub.fail(err)
		return
	}

	if err := m.CheckArgs(msg.Args); err != nil {
		s.log.InfoContext(ctx, "engine.start.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		sub.fail(err)
		return
	}

	if ctx.Err() != nil {
		s.log.InfoContext(ctx, "engine.start.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return
	}

	args := slices.Clone(msg.Args)
	if m.InjectContext {
		args = append([]any{s.conn}, args...)
	}
	st, err := m.Handler(ctx, args)
	if err == nil && st == nil {
		err = ErrNilStream
	}
	if err != nil {
		s.log.InfoContext(ctx, "engine.start.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		sub.fail(err)
		return
	}

	if !sub.attach(st) {
		s.log.InfoContext(ctx, "engine.start.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return
	}
	s.log.InfoContext(ctx, "engine.start.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

func (s *Session) handleCancel(ctx context.Context, msg wire.Message) {
	s.mu.Lock()
	sub, ok := s.subs[msg.ID]
	if ok {
		delete(s.subs, msg.ID)
		sub.removed.Store(true)
	}
	s.mu.Unlock()

	if !ok {
		s.log.InfoContext(ctx, "engine.cancel.unknown")
		s.send(ctx, wire.NewError(msg.ID, ErrTextIDNotFound))
		return
	}
	sub.stop()
	s.log.InfoContext(ctx, "engine.cancel.ok")
}

// Close cancels every live id and releases the session. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[string]*subscription)
	for _, sub := range subs {
		sub.removed.Store(true)
	}
	s.mu.Unlock()

	// Every subscription context derives from the session context, so this
	// unblocks sends in flight before the entries are stopped.
	s.cancel()

	var failed int
	for _, sub := range subs {
		if err := stopRecovering(sub); err != nil {
			failed++
			s.log.ErrorContext(s.ctx, "session.close.cancel_panic", slog.String("id", sub.id), slog.String("err", err.Error()))
		}
	}

	s.log.InfoContext(s.ctx, "session.close.ok", slog.Int("cancelled", len(subs)), slog.Int("failed", failed))
	s.eng.forget(s)
}

func stopRecovering(sub *subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unsubscribe panic: %v", r)
		}
	}()
	sub.stop()
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// release removes sub from the table if it is still the entry for its id.
func (s *Session) release(sub *subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.subs[sub.id]; ok && cur == sub {
		delete(s.subs, sub.id)
		sub.removed.Store(true)
		return true
	}
	return false
}

// send delivers msg, giving up once ctx is cancelled. ctx must derive from
// the session context.
func (s *Session) send(ctx context.Context, msg wire.Message) {
	if err := s.t.Send(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, transport.ErrClosed) {
			s.log.DebugContext(ctx, "session.send.closed", slog.String("type", string(msg.Type)))
			return
		}
		s.log.ErrorContext(ctx, "session.send.fail", slog.String("type", string(msg.Type)), slog.String("err", err.Error()))
	}
}

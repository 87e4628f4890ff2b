// Package engine implements the streamrpc protocol state machine: it attaches
// transports as sessions, dispatches start and cancel requests against a
// method registry and forwards stream events back to the peer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ggoodman/streamrpc-go/internal/logctx"
	"github.com/ggoodman/streamrpc-go/rpcservice"
	"github.com/ggoodman/streamrpc-go/transport"
)

// Error texts sent to peers.
const (
	ErrTextNoMatchingID = "no matching id"
	ErrTextIDExists     = "the observable id already exists"
	ErrTextIDNotFound   = "the observable id does not exist"
)

// ErrNilStream is reported when a handler returns neither a stream nor an
// error.
var ErrNilStream = errors.New("method returned a nil stream")

// Engine owns the method registry and every attached session.
type Engine struct {
	reg        *rpcservice.Registry
	log        *slog.Logger
	middleware rpcservice.Chain

	freezeOnce sync.Once

	mu       sync.Mutex
	sessions map[string]*Session
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMiddleware appends server-wide steps that run before any per-method
// middleware.
func WithMiddleware(mw ...rpcservice.Middleware) EngineOption {
	return func(e *Engine) { e.middleware = append(e.middleware, mw...) }
}

func NewEngine(reg *rpcservice.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		reg:      reg,
		log:      slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.log = slog.New(logctx.Handler{Handler: e.log.Handler()})
	return e
}

// Attach binds t to a new session. The first call freezes the registry.
func (e *Engine) Attach(t transport.Transport, conn any) *Session {
	e.freezeOnce.Do(func() {
		e.reg.Freeze()
		for _, info := range e.reg.Methods() {
			e.log.Info("engine.method.registered", slog.String("method", info.Signature()), slog.Bool("inject", info.InjectContext))
		}
	})

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: id, Transport: fmt.Sprintf("%T", t)})

	s := &Session{
		id:     id,
		eng:    e,
		t:      t,
		conn:   conn,
		log:    e.log,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*subscription),
	}

	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()

	t.OnClose(s.Close)
	t.OnMessage(s.HandleMessage)

	e.log.InfoContext(ctx, "engine.attach.ok")
	return s
}

// Sessions returns the number of attached sessions.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Session returns the attached session with the given id.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Shutdown closes every attached session.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	all := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		all = append(all, s)
	}
	e.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (e *Engine) forget(s *Session) {
	e.mu.Lock()
	if cur, ok := e.sessions[s.id]; ok && cur == s {
		delete(e.sessions, s.id)
	}
	e.mu.Unlock()
}

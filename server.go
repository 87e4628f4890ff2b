package streamrpc

import (
	"log/slog"

	"github.com/ggoodman/streamrpc-go/internal/engine"
	"github.com/ggoodman/streamrpc-go/rpcservice"
	"github.com/ggoodman/streamrpc-go/transport"
)

// Error texts sent to peers for protocol-level failures.
const (
	ErrTextNoMatchingID = engine.ErrTextNoMatchingID
	ErrTextIDExists     = engine.ErrTextIDExists
	ErrTextIDNotFound   = engine.ErrTextIDNotFound
)

// Session is one attached connection.
type Session = engine.Session

// Server dispatches protocol messages from attached transports to the
// methods of a registry.
type Server struct {
	eng *engine.Engine
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	logger     *slog.Logger
	middleware []rpcservice.Middleware
}

// WithLogger sets the logger used by the server and its sessions.
func WithLogger(l *slog.Logger) Option {
	return func(c *serverConfig) { c.logger = l }
}

// WithMiddleware adds steps that run for every method, before the method's
// own middleware.
func WithMiddleware(mw ...rpcservice.Middleware) Option {
	return func(c *serverConfig) { c.middleware = append(c.middleware, mw...) }
}

// NewServer returns a server for reg. Methods may be registered until the
// first Attach.
func NewServer(reg *rpcservice.Registry, opts ...Option) *Server {
	cfg := serverConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Server{eng: engine.NewEngine(reg,
		engine.WithLogger(cfg.logger),
		engine.WithMiddleware(cfg.middleware...),
	)}
}

// Attach starts serving t. conn is passed to middleware and, for methods
// registered with InjectContext, to the method as its first argument.
func (s *Server) Attach(t transport.Transport, conn any) *Session {
	return s.eng.Attach(t, conn)
}

// Sessions returns the number of attached sessions.
func (s *Server) Sessions() int { return s.eng.Sessions() }

// Session returns the attached session with the given id.
func (s *Server) Session(id string) (*Session, bool) { return s.eng.Session(id) }

// Shutdown closes every attached session, cancelling their streams.
func (s *Server) Shutdown() { s.eng.Shutdown() }

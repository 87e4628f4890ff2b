package redisbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	streamrpc "github.com/ggoodman/streamrpc-go"
)

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithLogger sets the logger used by the listener and its connections.
func WithLogger(l *slog.Logger) ListenerOption {
	return func(ln *Listener) {
		if l != nil {
			ln.log = l
		}
	}
}

// Listener accepts bus connections and attaches each one to a server.
type Listener struct {
	rdb redis.UniversalClient
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewListener(rdb redis.UniversalClient, cfg Config, opts ...ListenerOption) *Listener {
	l := &Listener{
		rdb:   rdb,
		cfg:   cfg.withDefaults(),
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		conns: make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connections returns the number of accepted, open connections.
func (l *Listener) Connections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Serve accepts connections until ctx is cancelled, then closes every
// connection it accepted.
func (l *Listener) Serve(ctx context.Context, srv *streamrpc.Server) error {
	ps := l.rdb.Subscribe(ctx, l.cfg.connectChannel())
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", l.cfg.connectChannel(), err)
	}
	l.log.InfoContext(ctx, "redisbus.serve.start", slog.String("channel", l.cfg.connectChannel()))

	var wg sync.WaitGroup
	defer wg.Wait()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redisbus: connect subscription closed")
			}
			id := msg.Payload
			if _, err := uuid.Parse(id); err != nil {
				l.log.WarnContext(ctx, "redisbus.accept.invalid_id", slog.String("err", err.Error()))
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				l.accept(ctx, srv, id)
			}()
		}
	}
}

func (l *Listener) accept(ctx context.Context, srv *streamrpc.Server, id string) {
	log := l.log.With(slog.String("conn_id", id))

	ps := l.rdb.Subscribe(ctx, l.cfg.inChannel(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		log.ErrorContext(ctx, "redisbus.accept.subscribe_fail", slog.String("err", err.Error()))
		return
	}

	c := newConn(l.rdb, id, l.cfg.outChannel(id), ps, log)
	l.mu.Lock()
	l.conns[id] = c
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.conns, id)
		l.mu.Unlock()
	}()

	sess := srv.Attach(c, &ConnInfo{ConnectionID: id})
	if err := c.publish(ctx, kindReady); err != nil {
		log.ErrorContext(ctx, "redisbus.accept.ready_fail", slog.String("err", err.Error()))
		c.shutdown(false)
		return
	}
	log.InfoContext(ctx, "redisbus.accept.ok", slog.String("session_id", sess.ID()))

	c.readLoop(ctx, nil)
	log.InfoContext(ctx, "redisbus.conn.closed")
}

package redisbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/streamrpc-go/transport"
	"github.com/ggoodman/streamrpc-go/wire"
)

var _ transport.Transport = (*Conn)(nil)

// ErrNoListener is returned by Dial when nobody is subscribed to the
// announcement channel.
var ErrNoListener = errors.New("redisbus: no listener on connect channel")

const closeTimeout = 5 * time.Second

// ConnInfo is the connection value attached for bus sessions.
type ConnInfo struct {
	ConnectionID string
}

// Conn is one end of a bus connection. It subscribes to the channel its peer
// publishes on and publishes to the other.
type Conn struct {
	transport.Handlers

	rdb redis.UniversalClient
	id  string
	pub string
	ps  *redis.PubSub
	log *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

func newConn(rdb redis.UniversalClient, id, pub string, ps *redis.PubSub, log *slog.Logger) *Conn {
	return &Conn{rdb: rdb, id: id, pub: pub, ps: ps, log: log, done: make(chan struct{})}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Send publishes m to the peer.
func (c *Conn) Send(ctx context.Context, m wire.Message) error {
	if c.Closed() {
		return transport.ErrClosed
	}
	b, err := encodeEnvelope(kindMsg, &m)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, c.pub, b).Err()
}

// Close tells the peer the connection is gone and stops receiving.
func (c *Conn) Close() error {
	c.shutdown(true)
	<-c.done
	return nil
}

func (c *Conn) publish(ctx context.Context, kind string) error {
	b, err := encodeEnvelope(kind, nil)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, c.pub, b).Err()
}

func (c *Conn) shutdown(notify bool) {
	c.stopOnce.Do(func() {
		if notify {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			if err := c.publish(ctx, kindClose); err != nil {
				c.log.Warn("redisbus.close.publish_fail", slog.String("conn_id", c.id), slog.String("err", err.Error()))
			}
			cancel()
		}
		c.Handlers.Close()
		_ = c.ps.Close()
	})
}

// readLoop consumes frames until the peer closes, the subscription ends or
// ctx is cancelled. ready, if non-nil, is closed on the first ready frame.
func (c *Conn) readLoop(ctx context.Context, ready chan struct{}) {
	defer close(c.done)
	ch := c.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			c.shutdown(true)
			return
		case msg, ok := <-ch:
			if !ok {
				c.shutdown(false)
				return
			}
			env, err := decodeEnvelope(msg.Payload)
			if err != nil {
				c.log.Warn("redisbus.read.invalid", slog.String("conn_id", c.id), slog.String("err", err.Error()))
				continue
			}
			switch env.Kind {
			case kindMsg:
				c.Deliver(*env.Msg)
			case kindReady:
				if ready != nil {
					close(ready)
					ready = nil
				}
			case kindClose:
				c.shutdown(false)
				return
			}
		}
	}
}

// DialOption configures Dial.
type DialOption func(*dialConfig)

type dialConfig struct {
	log *slog.Logger
}

// WithDialLogger sets the logger used by the dialed connection.
func WithDialLogger(l *slog.Logger) DialOption {
	return func(c *dialConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// Dial announces a new connection and returns once a listener has accepted
// it.
func Dial(ctx context.Context, rdb redis.UniversalClient, cfg Config, opts ...DialOption) (*Conn, error) {
	dc := dialConfig{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&dc)
	}
	cfg = cfg.withDefaults()

	id := uuid.NewString()
	ps := rdb.Subscribe(ctx, cfg.outChannel(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	c := newConn(rdb, id, cfg.inChannel(id), ps, dc.log)
	ready := make(chan struct{})
	go c.readLoop(context.Background(), ready)

	n, err := rdb.Publish(ctx, cfg.connectChannel(), id).Result()
	if err != nil {
		c.shutdown(false)
		return nil, err
	}
	if n == 0 {
		c.shutdown(false)
		return nil, ErrNoListener
	}

	select {
	case <-ready:
		return c, nil
	case <-c.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		c.shutdown(true)
		return nil, ctx.Err()
	}
}

// Package client is the calling side of the streamrpc protocol. It turns
// remote methods into local streams: subscribing sends start, every next
// message becomes a value, and unsubscribing sends complete.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/streamrpc-go/stream"
	"github.com/ggoodman/streamrpc-go/transport"
	"github.com/ggoodman/streamrpc-go/wire"
)

// ErrClosed is reported by every live stream when the client or its
// transport is closed.
var ErrClosed = errors.New("client: connection closed")

// RemoteError carries an error message sent by the server for a call.
type RemoteError struct {
	ID      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Message)
}

const cancelTimeout = 5 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for transport failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client multiplexes streams over one transport.
type Client struct {
	t   transport.Transport
	log *slog.Logger

	mu     sync.Mutex
	calls  map[string]*call
	closed bool
}

// New binds a client to t.
func New(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		t:     t,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		calls: make(map[string]*call),
	}
	for _, opt := range opts {
		opt(c)
	}
	t.OnMessage(c.route)
	t.OnClose(c.Close)
	return c
}

// Stream returns a lazy stream for the remote method name. Each subscription
// is a separate call with a fresh request id.
func (c *Client) Stream(name string, args ...any) stream.Stream {
	return stream.Create(func(ctx context.Context, e stream.Emitter) error {
		id := uuid.NewString()
		cl := newCall()
		if err := c.register(id, cl); err != nil {
			return err
		}
		defer c.unregister(id)

		if err := c.t.Send(ctx, wire.NewStart(id, name, args...)); err != nil {
			return fmt.Errorf("failed to send start: %w", err)
		}

		for {
			select {
			case <-ctx.Done():
				c.cancel(id)
				return ctx.Err()
			case <-cl.closed:
				return ErrClosed
			case <-cl.notify:
			}
			for _, m := range cl.drain() {
				switch m.Type {
				case wire.TypeNext:
					if err := e.Next(m.Value); err != nil {
						c.cancel(id)
						return err
					}
				case wire.TypeError:
					return &RemoteError{ID: id, Message: m.ErrorText()}
				case wire.TypeComplete:
					return nil
				}
			}
		}
	})
}

// Len returns the number of calls in flight.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Close fails every live stream with ErrClosed. It does not close the
// transport.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	calls := c.calls
	c.calls = make(map[string]*call)
	c.mu.Unlock()

	for _, cl := range calls {
		close(cl.closed)
	}
}

func (c *Client) register(id string, cl *call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.calls[id] = cl
	return nil
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.calls, id)
	c.mu.Unlock()
}

func (c *Client) cancel(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := c.t.Send(ctx, wire.NewCancel(id)); err != nil && !errors.Is(err, transport.ErrClosed) {
		c.log.Warn("client.cancel.fail", slog.String("id", id), slog.String("err", err.Error()))
	}
}

func (c *Client) route(m wire.Message) {
	c.mu.Lock()
	cl, ok := c.calls[m.ID]
	c.mu.Unlock()
	if !ok {
		c.log.Debug("client.route.unknown", slog.String("id", m.ID), slog.String("type", string(m.Type)))
		return
	}
	cl.push(m)
}

// call buffers the messages of one request id for its producer goroutine.
type call struct {
	mu     sync.Mutex
	queue  []wire.Message
	notify chan struct{}
	closed chan struct{}
}

func newCall() *call {
	return &call{notify: make(chan struct{}, 1), closed: make(chan struct{})}
}

func (cl *call) push(m wire.Message) {
	cl.mu.Lock()
	cl.queue = append(cl.queue, m)
	cl.mu.Unlock()
	select {
	case cl.notify <- struct{}{}:
	default:
	}
}

func (cl *call) drain() []wire.Message {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	q := cl.queue
	cl.queue = nil
	return q
}

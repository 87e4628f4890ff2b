package streaminghttp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/streamrpc-go/transport"
	"github.com/ggoodman/streamrpc-go/wire"
)

var _ transport.Transport = (*ClientConn)(nil)

// ErrUnexpectedStatus is returned when the server answers with a status the
// protocol does not allow for the request.
var ErrUnexpectedStatus = errors.New("streaminghttp: unexpected status")

// DialOption configures Dial.
type DialOption func(*dialConfig)

type dialConfig struct {
	client *http.Client
	header http.Header
}

// WithHTTPClient sets the client used for every request. The client must not
// impose a timeout on response bodies, since the event stream is long-lived.
func WithHTTPClient(c *http.Client) DialOption {
	return func(cfg *dialConfig) {
		if c != nil {
			cfg.client = c
		}
	}
}

// WithHeader adds a header to every request, e.g. Authorization.
func WithHeader(key, value string) DialOption {
	return func(cfg *dialConfig) { cfg.header.Add(key, value) }
}

// ClientConn is the client side of a streaminghttp connection.
type ClientConn struct {
	endpoint string
	id       string
	cfg      dialConfig
	cancel   context.CancelFunc

	transport.Handlers
}

// Dial opens a connection to the streaminghttp endpoint at url. ctx bounds
// the handshake only; the connection lives until Close or until the server
// ends the stream.
func Dial(ctx context.Context, url string, opts ...DialOption) (*ClientConn, error) {
	cfg := dialConfig{client: http.DefaultClient, header: http.Header{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	copyHeader(req.Header, cfg.header)
	req.Header.Set("Accept", eventStreamMediaType.String())

	type result struct {
		res *http.Response
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := cfg.client.Do(req)
		done <- result{res, err}
	}()

	var res *http.Response
	select {
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open event stream: %w", r.err)
		}
		res = r.res
	}

	if res.StatusCode != http.StatusOK {
		_ = res.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, res.Status)
	}
	id := res.Header.Get(ConnectionIDHeader)
	if id == "" {
		_ = res.Body.Close()
		cancel()
		return nil, fmt.Errorf("response is missing the %s header", ConnectionIDHeader)
	}

	c := &ClientConn{endpoint: url, id: id, cfg: cfg, cancel: cancel}
	go c.readLoop(res.Body)
	return c, nil
}

// ID returns the connection id assigned by the server.
func (c *ClientConn) ID() string { return c.id }

// Send posts m to the server.
func (c *ClientConn) Send(ctx context.Context, m wire.Message) error {
	if c.Closed() {
		return transport.ErrClosed
	}

	b, err := wire.Encode(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	copyHeader(req.Header, c.cfg.header)
	req.Header.Set("Content-Type", jsonMediaType.String())
	req.Header.Set(ConnectionIDHeader, c.id)

	res, err := c.cfg.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	if res.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, res.Status)
	}
	return nil
}

// Close deletes the connection on the server and stops reading events.
func (c *ClientConn) Close() error {
	if c.Closed() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint, nil)
	if err == nil {
		copyHeader(req.Header, c.cfg.header)
		req.Header.Set(ConnectionIDHeader, c.id)
		var res *http.Response
		if res, err = c.cfg.client.Do(req); err == nil {
			_ = res.Body.Close()
		}
	}

	c.cancel()
	c.Handlers.Close()
	return err
}

func (c *ClientConn) readLoop(body io.ReadCloser) {
	defer func() {
		_ = body.Close()
		c.cancel()
		c.Handlers.Close()
	}()

	r := bufio.NewReader(body)
	var data strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			msg, derr := wire.Decode([]byte(data.String()))
			data.Reset()
			if derr != nil {
				continue
			}
			c.Deliver(msg)
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

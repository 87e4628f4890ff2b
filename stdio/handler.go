package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	streamrpc "github.com/ggoodman/streamrpc-go"
	"github.com/ggoodman/streamrpc-go/transport"
	"github.com/ggoodman/streamrpc-go/wire"
)

const maxLineSize = 4 << 20

// Handler is a single-connection stdio transport that reads protocol messages
// from an io.Reader and writes outbound messages to an io.Writer. By default,
// it uses os.Stdin and os.Stdout.
type Handler struct {
	srv *streamrpc.Server
	r   io.Reader
	w   io.Writer
	l   *slog.Logger

	userProvider UserProvider
	conn         any
	connSet      bool
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv *streamrpc.Server, opts ...Option) *Handler {
	h := &Handler{
		srv:          srv,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.Default(),
		userProvider: OSUserProvider{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. Either one disconnects the session, cancelling its streams. It is
// safe to call at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	conn := h.conn
	if !h.connSet {
		uid, err := h.userProvider.CurrentUserID()
		if err != nil {
			return fmt.Errorf("failed to resolve stdio user: %w", err)
		}
		conn = Peer{UserID: uid}
	}

	tc := &lineConn{w: h.w}
	sess := h.srv.Attach(tc, conn)
	log := h.l.With(slog.String("session_id", sess.ID()))
	log.InfoContext(ctx, "stdio.serve.start")

	readDone := make(chan error, 1)
	go func() { readDone <- h.readLoop(ctx, log, tc) }()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-readDone:
	}
	tc.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.ErrorContext(ctx, "stdio.serve.fail", slog.String("err", err.Error()))
		return err
	}
	log.InfoContext(ctx, "stdio.serve.done")
	return err
}

func (h *Handler) readLoop(ctx context.Context, log *slog.Logger, tc *lineConn) error {
	sc := bufio.NewScanner(h.r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := wire.Decode(line)
		if err != nil {
			log.WarnContext(ctx, "stdio.read.invalid", slog.String("err", err.Error()))
			continue
		}
		tc.Deliver(msg)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("failed to read stdio input: %w", err)
	}
	return nil
}

// lineConn adapts a writer and the read loop to transport.Transport.
type lineConn struct {
	transport.Handlers

	wmu sync.Mutex
	w   io.Writer
}

func (c *lineConn) Send(ctx context.Context, m wire.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := wire.Encode(m)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.Closed() {
		return transport.ErrClosed
	}
	_, err = c.w.Write(b)
	return err
}

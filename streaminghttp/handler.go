package streaminghttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	streamrpc "github.com/ggoodman/streamrpc-go"
	"github.com/ggoodman/streamrpc-go/transport"
	"github.com/ggoodman/streamrpc-go/wire"
)

var (
	_ http.Handler        = (*Handler)(nil)
	_ transport.Transport = (*sseConn)(nil)
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// ConnectionIDHeader carries the connection id on every request after GET.
	ConnectionIDHeader  = "Stream-Connection-Id"
	authorizationHeader = "Authorization"

	maxBodySize = 4 << 20
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// ConnInfo is the default connection value attached for HTTP sessions.
type ConnInfo struct {
	ConnectionID string
	RemoteAddr   string
	UserAgent    string
	Header       http.Header
}

// BearerToken extracts the bearer token from a *ConnInfo connection value.
// It returns "" for any other value.
func BearerToken(conn any) string {
	ci, ok := conn.(*ConnInfo)
	if !ok || ci == nil {
		return ""
	}
	v := ci.Header.Get(authorizationHeader)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger used by the handler. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithConnValue overrides how the connection value is derived from the GET
// request that opens a connection.
func WithConnValue(fn func(r *http.Request) any) Option {
	return func(h *Handler) {
		if fn != nil {
			h.connValue = fn
		}
	}
}

// Handler is an http.Handler hosting streamrpc connections.
type Handler struct {
	srv       *streamrpc.Server
	log       *slog.Logger
	connValue func(r *http.Request) any

	mu    sync.Mutex
	conns map[string]*sseConn
}

// New constructs a Handler serving srv.
func New(srv *streamrpc.Server, opts ...Option) *Handler {
	h := &Handler{
		srv:   srv,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		conns: make(map[string]*sseConn),
	}
	h.connValue = h.defaultConnValue
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) defaultConnValue(r *http.Request) any {
	return &ConnInfo{
		ConnectionID: r.Header.Get(ConnectionIDHeader),
		RemoteAddr:   r.RemoteAddr,
		UserAgent:    r.UserAgent(),
		Header:       r.Header.Clone(),
	}
}

// Connections returns the number of open connections.
func (h *Handler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an optional context.
// It serializes concurrent writes/flushes and avoids writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// handleGet opens a connection and streams outbound messages until the
// client goes away, the connection is deleted or the session is closed.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		h.log.WarnContext(ctx, "http.get.not_acceptable")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	id := uuid.NewString()
	r.Header.Set(ConnectionIDHeader, id)
	conn := &sseConn{
		id:     id,
		wf:     &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx},
		closed: make(chan struct{}),
	}

	w.Header().Set(ConnectionIDHeader, id)
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()

	sess := h.srv.Attach(conn, h.connValue(r))
	log := h.log.With(slog.String("conn_id", id), slog.String("session_id", sess.ID()))
	log.InfoContext(ctx, "http.get.open")

	select {
	case <-ctx.Done():
	case <-conn.closed:
	case <-sess.Done():
	}

	conn.close()
	conn.finish()
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
	log.InfoContext(ctx, "http.get.closed", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		h.log.WarnContext(ctx, "http.post.unsupported_media_type")
		return
	}

	conn, status, reason := h.lookup(r)
	if conn == nil {
		writeJSONError(w, status, reason)
		h.log.InfoContext(ctx, "http.post.conn_miss", slog.String("err", reason))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		h.log.WarnContext(ctx, "http.post.read_fail", slog.String("err", err.Error()))
		return
	}
	msg, err := wire.Decode(body)
	if err == nil {
		err = msg.ValidateInbound()
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		h.log.InfoContext(ctx, "http.post.invalid", slog.String("err", err.Error()))
		return
	}

	conn.Deliver(msg)
	w.WriteHeader(http.StatusAccepted)
	h.log.InfoContext(ctx, "http.post.ok", slog.String("conn_id", conn.id), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	conn, status, reason := h.lookup(r)
	if conn == nil {
		writeJSONError(w, status, reason)
		return
	}
	conn.close()
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(r.Context(), "http.delete.ok", slog.String("conn_id", conn.id))
}

func (h *Handler) lookup(r *http.Request) (*sseConn, int, string) {
	id := r.Header.Get(ConnectionIDHeader)
	if id == "" {
		return nil, http.StatusBadRequest, "missing " + ConnectionIDHeader + " header"
	}
	h.mu.Lock()
	conn, ok := h.conns[id]
	h.mu.Unlock()
	if !ok {
		return nil, http.StatusNotFound, "unknown connection"
	}
	return conn, 0, ""
}

// sseConn is the server side of one HTTP connection.
type sseConn struct {
	id string
	wf *lockedWriteFlusher

	// wmu keeps frame numbering and frame writes in the same order.
	wmu      sync.Mutex
	seq      uint64
	finished bool

	transport.Handlers
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *sseConn) Send(ctx context.Context, m wire.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	payload, err := wire.Encode(m)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.finished {
		return transport.ErrClosed
	}
	c.seq++
	return writeSSEEvent(c.wf, strconv.FormatUint(c.seq, 10), payload)
}

func (c *sseConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.Close()
	})
}

// finish waits for an in-flight frame and rejects later ones. The response
// writer must not be used once the GET handler returns.
func (c *sseConn) finish() {
	c.wmu.Lock()
	c.finished = true
	c.wmu.Unlock()
}

// writeSSEEvent writes one Server-Sent Event frame carrying payload and
// flushes the response.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
			return fmt.Errorf("failed to write SSE event ID: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}

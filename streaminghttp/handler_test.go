package streaminghttp_test

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	streamrpc "github.com/ggoodman/streamrpc-go"
	"github.com/ggoodman/streamrpc-go/client"
	"github.com/ggoodman/streamrpc-go/rpcservice"
	"github.com/ggoodman/streamrpc-go/stream"
	"github.com/ggoodman/streamrpc-go/stream/streamtest"
	"github.com/ggoodman/streamrpc-go/streaminghttp"
)

const wait = 2 * time.Second

func newTestServer(t *testing.T, opts ...streaminghttp.Option) (*httptest.Server, *streamrpc.Server, *streaminghttp.Handler) {
	t.Helper()
	reg := rpcservice.NewRegistry()
	require.NoError(t, reg.RegisterBatch(
		rpcservice.Method{
			Name: "Timer.tick",
			Handler: func(ctx context.Context, args []any) (stream.Stream, error) {
				return stream.Take(stream.Timer(0, time.Millisecond), 3), nil
			},
		},
		rpcservice.Method{
			Name: "Timer.forever",
			Handler: func(ctx context.Context, args []any) (stream.Stream, error) {
				return stream.Interval(5 * time.Millisecond), nil
			},
		},
		rpcservice.Method{
			Name:          "Conn.token",
			InjectContext: true,
			Handler: func(ctx context.Context, args []any) (stream.Stream, error) {
				return stream.Of(streaminghttp.BearerToken(args[0])), nil
			},
		},
	))
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := streamrpc.NewServer(reg, streamrpc.WithLogger(quiet))
	h := streaminghttp.New(srv, append([]streaminghttp.Option{streaminghttp.WithLogger(quiet)}, opts...)...)
	ts := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	return ts, srv, h
}

func TestDialAndStream(t *testing.T) {
	ts, srv, _ := newTestServer(t)

	conn, err := streaminghttp.Dial(context.Background(), ts.URL)
	require.NoError(t, err)
	defer conn.Close()
	require.NotEmpty(t, conn.ID())

	c := client.New(conn)
	rec := streamtest.NewRecorder()
	c.Stream("Timer.tick").Subscribe(context.Background(), rec)
	rec.Wait(t, wait)

	require.NoError(t, rec.Err())
	require.Equal(t, []any{float64(0), float64(1), float64(2)}, rec.Values())
	require.Equal(t, 1, srv.Sessions())
}

func TestConnValueCarriesHeaders(t *testing.T) {
	ts, _, _ := newTestServer(t)

	conn, err := streaminghttp.Dial(context.Background(), ts.URL, streaminghttp.WithHeader("Authorization", "Bearer abc123"))
	require.NoError(t, err)
	defer conn.Close()

	rec := streamtest.NewRecorder()
	client.New(conn).Stream("Conn.token").Subscribe(context.Background(), rec)
	rec.Wait(t, wait)
	require.Equal(t, []any{"abc123"}, rec.Values())
}

func TestWithConnValue(t *testing.T) {
	ts, _, _ := newTestServer(t, streaminghttp.WithConnValue(func(r *http.Request) any {
		return &streaminghttp.ConnInfo{Header: http.Header{"Authorization": []string{"Bearer " + r.URL.Query().Get("token")}}}
	}))

	conn, err := streaminghttp.Dial(context.Background(), ts.URL+"?token=xyz")
	require.NoError(t, err)
	defer conn.Close()

	rec := streamtest.NewRecorder()
	client.New(conn).Stream("Conn.token").Subscribe(context.Background(), rec)
	rec.Wait(t, wait)
	require.Equal(t, []any{"xyz"}, rec.Values())
}

func TestCloseDisconnectsSession(t *testing.T) {
	ts, srv, h := newTestServer(t)

	conn, err := streaminghttp.Dial(context.Background(), ts.URL)
	require.NoError(t, err)

	rec := streamtest.NewRecorder()
	client.New(conn).Stream("Timer.forever").Subscribe(context.Background(), rec)
	require.Eventually(t, func() bool { return len(rec.Values()) > 0 }, wait, time.Millisecond)

	require.NoError(t, conn.Close())
	rec.Wait(t, wait)
	require.ErrorIs(t, rec.Err(), client.ErrClosed)
	require.Eventually(t, func() bool { return srv.Sessions() == 0 && h.Connections() == 0 }, wait, time.Millisecond)
}

func TestRawProtocol(t *testing.T) {
	ts, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))
	id := res.Header.Get(streaminghttp.ConnectionIDHeader)
	require.NotEmpty(t, id)

	post := func(body, ctype, connID string) int {
		req, err := http.NewRequest(http.MethodPost, ts.URL, strings.NewReader(body))
		require.NoError(t, err)
		if ctype != "" {
			req.Header.Set("Content-Type", ctype)
		}
		if connID != "" {
			req.Header.Set(streaminghttp.ConnectionIDHeader, connID)
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		return res.StatusCode
	}

	require.Equal(t, http.StatusUnsupportedMediaType, post(`{}`, "text/plain", id))
	require.Equal(t, http.StatusBadRequest, post(`{"type":"complete","id":"x"}`, "application/json", ""))
	require.Equal(t, http.StatusNotFound, post(`{"type":"complete","id":"x"}`, "application/json", "nope"))
	require.Equal(t, http.StatusBadRequest, post(`{"type":"start"}`, "application/json", id))
	require.Equal(t, http.StatusBadRequest, post(`{"type":"next","id":"x","value":1}`, "application/json", id))
	require.Equal(t, http.StatusAccepted, post(`{"type":"start","id":"t1","name":"Timer.tick","args":[]}`, "application/json", id))

	sc := bufio.NewScanner(res.Body)
	var frames []string
	for len(frames) < 8 && sc.Scan() {
		if line := sc.Text(); line != "" {
			frames = append(frames, line)
		}
	}
	require.Equal(t, []string{
		"id: 1", `data: {"type":"next","id":"t1","value":0}`,
		"id: 2", `data: {"type":"next","id":"t1","value":1}`,
		"id: 3", `data: {"type":"next","id":"t1","value":2}`,
		"id: 4", `data: {"type":"complete","id":"t1"}`,
	}, frames)

	del, err := http.NewRequest(http.MethodDelete, ts.URL, nil)
	require.NoError(t, err)
	del.Header.Set(streaminghttp.ConnectionIDHeader, id)
	dres, err := http.DefaultClient.Do(del)
	require.NoError(t, err)
	dres.Body.Close()
	require.Equal(t, http.StatusNoContent, dres.StatusCode)
}

func TestGetRequiresEventStream(t *testing.T) {
	ts, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotAcceptable, res.StatusCode)

	req, err = http.NewRequest(http.MethodPut, ts.URL, nil)
	require.NoError(t, err)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

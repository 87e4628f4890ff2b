package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	streamrpc "github.com/ggoodman/streamrpc-go"
	"github.com/ggoodman/streamrpc-go/rpcservice"
	"github.com/ggoodman/streamrpc-go/stream"
	"github.com/ggoodman/streamrpc-go/wire"
)

// testHarness encapsulates pipes and collected output for stdio handler tests.
type testHarness struct {
	t      *testing.T
	stdinW *io.PipeWriter
	outMu  sync.Mutex
	lines  []string
	served chan error
	cancel context.CancelFunc
}

type fixedUser string

func (u fixedUser) CurrentUserID() (string, error) { return string(u), nil }

func newHarness(t *testing.T, reg *rpcservice.Registry, opts ...Option) *testHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := streamrpc.NewServer(reg, streamrpc.WithLogger(quiet))
	opts = append([]Option{WithIO(inR, outW), WithLogger(quiet), WithUserProvider(fixedUser("tester"))}, opts...)
	h := NewHandler(srv, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	th := &testHarness{t: t, stdinW: inW, served: make(chan error, 1), cancel: cancel}

	go func() { th.served <- h.Serve(ctx) }()

	go func() {
		sc := bufio.NewScanner(outR)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			th.outMu.Lock()
			th.lines = append(th.lines, line)
			th.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outW.Close()
	})
	return th
}

func (th *testHarness) send(line string) {
	th.t.Helper()
	_, err := fmt.Fprintln(th.stdinW, line)
	require.NoError(th.t, err)
}

func (th *testHarness) waitLines(n int) []wire.Message {
	th.t.Helper()
	var out []wire.Message
	require.Eventually(th.t, func() bool {
		th.outMu.Lock()
		defer th.outMu.Unlock()
		return len(th.lines) >= n
	}, 2*time.Second, 5*time.Millisecond)

	th.outMu.Lock()
	defer th.outMu.Unlock()
	for _, l := range th.lines {
		var m wire.Message
		require.NoError(th.t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func timerRegistry(t *testing.T, methods ...rpcservice.Method) *rpcservice.Registry {
	reg := rpcservice.NewRegistry()
	require.NoError(t, reg.RegisterBatch(methods...))
	return reg
}

func TestServe_TimerTick(t *testing.T) {
	reg := timerRegistry(t, rpcservice.Method{
		Name: "Timer.tick",
		Handler: func(ctx context.Context, args []any) (stream.Stream, error) {
			return stream.Take(stream.Timer(0, time.Millisecond), 3), nil
		},
	})
	th := newHarness(t, reg)

	th.send(`{"type":"start","id":"t1","name":"Timer.tick","args":[]}`)
	msgs := th.waitLines(4)

	require.Equal(t, []wire.Message{
		{Type: wire.TypeNext, ID: "t1", Value: float64(0)},
		{Type: wire.TypeNext, ID: "t1", Value: float64(1)},
		{Type: wire.TypeNext, ID: "t1", Value: float64(2)},
		{Type: wire.TypeComplete, ID: "t1"},
	}, msgs)
}

func TestServe_MalformedLinesIgnored(t *testing.T) {
	th := newHarness(t, timerRegistry(t))

	th.send(`this is not json`)
	th.send(`{"type":"start","id":"","name":"X.y"}`)
	th.send(`{"type":"complete","id":"gone"}`)

	msgs := th.waitLines(1)
	require.Len(t, msgs, 1)
	require.Equal(t, wire.TypeError, msgs[0].Type)
	require.Equal(t, "gone", msgs[0].ID)
	require.Equal(t, streamrpc.ErrTextIDNotFound, msgs[0].ErrorText())
}

func TestServe_EOFCancelsStreams(t *testing.T) {
	var started, stopped atomic.Bool
	reg := timerRegistry(t, rpcservice.Method{
		Name: "S.forever",
		Handler: func(ctx context.Context, args []any) (stream.Stream, error) {
			return stream.Create(func(ctx context.Context, e stream.Emitter) error {
				started.Store(true)
				<-ctx.Done()
				stopped.Store(true)
				return nil
			}), nil
		},
	})
	th := newHarness(t, reg)

	th.send(`{"type":"start","id":"a","name":"S.forever"}`)
	require.Eventually(t, started.Load, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, th.stdinW.Close())
	select {
	case err := <-th.served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after EOF")
	}
	require.Eventually(t, stopped.Load, 2*time.Second, 5*time.Millisecond)
}

func TestServe_ContextCancelReturns(t *testing.T) {
	th := newHarness(t, timerRegistry(t))
	th.cancel()
	select {
	case err := <-th.served:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_ConnValue(t *testing.T) {
	got := make(chan any, 2)
	reg := timerRegistry(t, rpcservice.Method{
		Name:          "Who.ami",
		InjectContext: true,
		Handler: func(ctx context.Context, args []any) (stream.Stream, error) {
			got <- args[0]
			return stream.Empty(), nil
		},
	})

	th := newHarness(t, reg)
	th.send(`{"type":"start","id":"a","name":"Who.ami"}`)
	th.waitLines(1)
	require.Equal(t, Peer{UserID: "tester"}, <-got)

	th2 := newHarness(t, reg, WithConn("custom"))
	th2.send(`{"type":"start","id":"a","name":"Who.ami"}`)
	th2.waitLines(1)
	require.Equal(t, "custom", <-got)
}

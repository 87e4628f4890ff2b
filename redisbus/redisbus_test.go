package redisbus_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	streamrpc "github.com/ggoodman/streamrpc-go"
	"github.com/ggoodman/streamrpc-go/client"
	"github.com/ggoodman/streamrpc-go/redisbus"
	"github.com/ggoodman/streamrpc-go/rpcservice"
	"github.com/ggoodman/streamrpc-go/stream"
	"github.com/ggoodman/streamrpc-go/stream/streamtest"
)

const wait = 3 * time.Second

func setup(t *testing.T) (redisbus.Config, *streamrpc.Server, *redisbus.Listener) {
	t.Helper()
	cfg, err := redisbus.ConfigFromEnv()
	require.NoError(t, err)
	// Isolate each test on its own channel namespace.
	cfg.Prefix = "streamrpc:test:" + uuid.NewString() + ":"

	rdb, err := redisbus.NewClient(context.Background(), cfg)
	if err != nil {
		t.Skipf("skipping redis bus tests: %v", err)
		return cfg, nil, nil
	}
	t.Cleanup(func() { _ = rdb.Close() })

	reg := rpcservice.NewRegistry()
	require.NoError(t, reg.RegisterBatch(
		rpcservice.Method{
			Name: "Timer.tick",
			Handler: func(ctx context.Context, args []any) (stream.Stream, error) {
				return stream.Take(stream.Timer(0, time.Millisecond), 3), nil
			},
		},
		rpcservice.Method{
			Name:          "Conn.id",
			InjectContext: true,
			Handler: func(ctx context.Context, args []any) (stream.Stream, error) {
				return stream.Of(args[0].(*redisbus.ConnInfo).ConnectionID), nil
			},
		},
	))
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := streamrpc.NewServer(reg, streamrpc.WithLogger(quiet))
	ln := redisbus.NewListener(rdb, cfg, redisbus.WithLogger(quiet))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ln.Serve(ctx, srv)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Shutdown()
	})
	return cfg, srv, ln
}

func dial(t *testing.T, cfg redisbus.Config) *redisbus.Conn {
	t.Helper()
	rdb, err := redisbus.NewClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	var conn *redisbus.Conn
	// The listener subscribes asynchronously.
	require.Eventually(t, func() bool {
		conn, err = redisbus.Dial(context.Background(), rdb, cfg)
		return err == nil
	}, wait, 10*time.Millisecond)
	return conn
}

func TestDialAndStream(t *testing.T) {
	cfg, srv, ln := setup(t)
	conn := dial(t, cfg)
	defer conn.Close()

	rec := streamtest.NewRecorder()
	client.New(conn).Stream("Timer.tick").Subscribe(context.Background(), rec)
	rec.Wait(t, wait)

	require.NoError(t, rec.Err())
	require.Equal(t, []any{float64(0), float64(1), float64(2)}, rec.Values())
	require.Equal(t, 1, srv.Sessions())
	require.Equal(t, 1, ln.Connections())
}

func TestConnInfoInjected(t *testing.T) {
	cfg, _, _ := setup(t)
	conn := dial(t, cfg)
	defer conn.Close()

	rec := streamtest.NewRecorder()
	client.New(conn).Stream("Conn.id").Subscribe(context.Background(), rec)
	rec.Wait(t, wait)
	require.Equal(t, []any{conn.ID()}, rec.Values())
}

func TestCloseDetachesSession(t *testing.T) {
	cfg, srv, ln := setup(t)
	conn := dial(t, cfg)
	require.Eventually(t, func() bool { return srv.Sessions() == 1 }, wait, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return srv.Sessions() == 0 && ln.Connections() == 0 }, wait, 5*time.Millisecond)
}

func TestDialWithoutListener(t *testing.T) {
	cfg, err := redisbus.ConfigFromEnv()
	require.NoError(t, err)
	cfg.Prefix = "streamrpc:test:" + uuid.NewString() + ":"
	rdb, err := redisbus.NewClient(context.Background(), cfg)
	if err != nil {
		t.Skipf("skipping redis bus tests: %v", err)
	}
	defer rdb.Close()

	_, err = redisbus.Dial(context.Background(), rdb, cfg)
	require.ErrorIs(t, err, redisbus.ErrNoListener)
}

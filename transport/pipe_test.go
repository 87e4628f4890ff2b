package transport_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ggoodman/streamrpc-go/transport"
	"github.com/ggoodman/streamrpc-go/wire"
)

var _ transport.Transport = (*transport.PipeEnd)(nil)

func TestPipe_DeliversInOrder(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, a.Send(ctx, wire.NewNext("x", i)))
	}

	var mu sync.Mutex
	var got []any
	b.OnMessage(func(m wire.Message) {
		mu.Lock()
		got = append(got, m.Value)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 100
	}, time.Second, 5*time.Millisecond)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestPipe_CloseFiresBothEndsOnce(t *testing.T) {
	a, b := transport.Pipe()
	var ac, bc atomic.Int32
	a.OnClose(func() { ac.Add(1) })
	b.OnClose(func() { bc.Add(1) })

	require.NoError(t, b.Close())
	require.NoError(t, a.Close())

	require.Equal(t, int32(1), ac.Load())
	require.Equal(t, int32(1), bc.Load())
	require.ErrorIs(t, a.Send(context.Background(), wire.NewCancel("x")), transport.ErrClosed)

	var late atomic.Int32
	a.OnClose(func() { late.Add(1) })
	require.Equal(t, int32(1), late.Load())
}

func TestPipe_SendHonorsContext(t *testing.T) {
	a, _ := transport.Pipe()
	defer a.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, a.Send(ctx, wire.NewCancel("x")), context.Canceled)
}

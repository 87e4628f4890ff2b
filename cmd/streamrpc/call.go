package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggoodman/streamrpc-go/client"
	"github.com/ggoodman/streamrpc-go/redisbus"
	"github.com/ggoodman/streamrpc-go/stream"
	"github.com/ggoodman/streamrpc-go/streaminghttp"
	"github.com/ggoodman/streamrpc-go/transport"
)

type clientConn interface {
	transport.Transport
	Close() error
}

func (a *app) callCmd() *cobra.Command {
	var (
		url     string
		token   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call <name> [json-args...]",
		Short: "Call a remote operation and print each value as a JSON line",
		Long: "call starts the named operation with the given JSON arguments and prints every emitted value. " +
			"It connects over the Redis bus unless --url points at a streaming HTTP endpoint.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := parseArgs(args[1:])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			conn, err := a.dial(ctx, url, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			return runCall(ctx, client.New(conn, client.WithLogger(a.log)), args[0], callArgs, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "streaming HTTP endpoint; empty uses the Redis bus")
	cmd.Flags().StringVar(&token, "token", "", "bearer token sent with --url")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "cancel the call after this long (0 waits for completion)")
	return cmd
}

func (a *app) dial(ctx context.Context, url, token string) (clientConn, error) {
	if url != "" {
		var opts []streaminghttp.DialOption
		if token != "" {
			opts = append(opts, streaminghttp.WithHeader("Authorization", "Bearer "+token))
		}
		return streaminghttp.Dial(ctx, url, opts...)
	}
	rdb, err := redisbus.NewClient(ctx, a.cfg.Bus)
	if err != nil {
		return nil, err
	}
	conn, err := redisbus.Dial(ctx, rdb, a.cfg.Bus, redisbus.WithDialLogger(a.log))
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &busConn{Conn: conn, closeClient: rdb.Close}, nil
}

// busConn closes the redis client along with the bus connection.
type busConn struct {
	*redisbus.Conn
	closeClient func() error
}

func (c *busConn) Close() error {
	err := c.Conn.Close()
	_ = c.closeClient()
	return err
}

func parseArgs(raw []string) ([]any, error) {
	out := make([]any, 0, len(raw))
	for i, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("argument %d is not valid JSON: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// runCall prints every value of the call until it terminates or ctx ends.
// Cancellation is not an error.
func runCall(ctx context.Context, c *client.Client, name string, args []any, w io.Writer) error {
	done := make(chan error, 1)
	enc := json.NewEncoder(w)
	sub := c.Stream(name, args...).Subscribe(ctx, stream.ObserverFuncs{
		NextFunc: func(v any) {
			if err := enc.Encode(v); err != nil {
				fmt.Fprintf(w, "%v\n", v)
			}
		},
		ErrorFunc:    func(err error) { done <- err },
		CompleteFunc: func() { done <- nil },
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		sub.Unsubscribe()
		return nil
	}
}

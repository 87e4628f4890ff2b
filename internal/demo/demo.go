// Package demo holds the services the streamrpc CLI serves.
package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/streamrpc-go/rpcservice"
	"github.com/ggoodman/streamrpc-go/sources"
	"github.com/ggoodman/streamrpc-go/stream"
)

// Option configures the demo services.
type Option func(*options)

type options struct {
	rdb redis.UniversalClient
}

// WithRedis adds the Bus service, which streams pub/sub channels from rdb.
func WithRedis(rdb redis.UniversalClient) Option {
	return func(o *options) { o.rdb = rdb }
}

// Services returns the Timer, Echo and Files services, plus Bus when a Redis
// client is configured.
func Services(opts ...Option) []*rpcservice.Service {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	svcs := []*rpcservice.Service{
		rpcservice.NewService("Timer", []rpcservice.Method{{
			Name:        "tick",
			Description: "Emits 0..count-1, one value every periodMs milliseconds.",
			Params:      []rpcservice.Param{rpcservice.Number(), rpcservice.Number()},
			Handler:     tick,
		}}),
		rpcservice.NewService("Echo", []rpcservice.Method{{
			Name:        "repeat",
			Description: "Emits value the given number of times.",
			Params:      []rpcservice.Param{rpcservice.Any(), rpcservice.Number()},
			Handler:     repeat,
		}}),
		rpcservice.NewService("Files", []rpcservice.Method{{
			Name:        "watch",
			Description: "Emits filesystem events for path until cancelled.",
			Params:      []rpcservice.Param{rpcservice.String()},
			Handler:     watch,
		}}),
	}
	if o.rdb != nil {
		svcs = append(svcs, rpcservice.NewService("Bus", []rpcservice.Method{{
			Name:        "listen",
			Description: "Emits every payload published on channel until cancelled.",
			Params:      []rpcservice.Param{rpcservice.String()},
			Handler:     listen(o.rdb),
		}}))
	}
	return svcs
}

// Registry returns a registry populated with Services.
func Registry(opts ...Option) (*rpcservice.Registry, error) {
	reg := rpcservice.NewRegistry()
	if err := reg.RegisterServices(Services(opts...)...); err != nil {
		return nil, err
	}
	return reg, nil
}

func tick(ctx context.Context, args []any) (stream.Stream, error) {
	count, err := toCount(args[0], "count")
	if err != nil {
		return nil, err
	}
	period, err := toCount(args[1], "periodMs")
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return stream.Empty(), nil
	}
	return stream.Take(stream.Timer(0, time.Duration(period)*time.Millisecond), count), nil
}

func repeat(ctx context.Context, args []any) (stream.Stream, error) {
	times, err := toCount(args[1], "times")
	if err != nil {
		return nil, err
	}
	value := args[0]
	return stream.Create(func(ctx context.Context, e stream.Emitter) error {
		for i := 0; i < times; i++ {
			if err := e.Next(value); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

func watch(ctx context.Context, args []any) (stream.Stream, error) {
	path, err := toName(args[0], "path")
	if err != nil {
		return nil, err
	}
	return sources.WatchPath(path), nil
}

func listen(rdb redis.UniversalClient) rpcservice.Handler {
	return func(ctx context.Context, args []any) (stream.Stream, error) {
		channel, err := toName(args[0], "channel")
		if err != nil {
			return nil, err
		}
		return sources.RedisChannel(rdb, channel), nil
	}
}

// toName accepts a non-empty plain string.
func toName(v any, name string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", name, v)
	}
	if s == "" {
		return "", fmt.Errorf("%s is empty", name)
	}
	return s, nil
}

// toCount accepts any non-negative integral number.
func toCount(v any, name string) (int, error) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", name, v)
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %v", name, v)
	}
	return int(f), nil
}

package gates

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ggoodman/streamrpc-go/auth"
	"github.com/ggoodman/streamrpc-go/rpcservice"
)

var (
	// ErrRateLimited is returned when a session exceeds its start budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrPolicyDenied is returned when a policy expression does not hold.
	ErrPolicyDenied = errors.New("policy denied")
)

// Log records every request that reaches it and never rejects.
func Log(log *slog.Logger) rpcservice.Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, req *rpcservice.Request) error {
		log.InfoContext(ctx, "gates.request",
			slog.String("session_id", req.SessionID),
			slog.String("id", req.ID),
			slog.String("method", req.Method),
			slog.Int("args", len(req.Args)),
		)
		return nil
	}
}

// sweepAt is the number of tracked sessions above which idle limiters are
// dropped.
const sweepAt = 1024

// RateLimit allows each session to start at most burst operations at once,
// refilled at limit per second.
func RateLimit(limit rate.Limit, burst int) rpcservice.Middleware {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	return func(ctx context.Context, req *rpcservice.Request) error {
		mu.Lock()
		l, ok := limiters[req.SessionID]
		if !ok {
			if len(limiters) >= sweepAt {
				for id, other := range limiters {
					// A full bucket is indistinguishable from a fresh one.
					if other.Tokens() >= float64(burst) {
						delete(limiters, id)
					}
				}
			}
			l = rate.NewLimiter(limit, burst)
			limiters[req.SessionID] = l
		}
		mu.Unlock()

		if !l.Allow() {
			return ErrRateLimited
		}
		return nil
	}
}

// RequireBearer rejects requests whose connection does not carry a token
// accepted by a. token extracts the bearer token from the connection value.
func RequireBearer(a auth.Authenticator, token func(conn any) string) rpcservice.Middleware {
	return func(ctx context.Context, req *rpcservice.Request) error {
		tok := token(req.Conn)
		if tok == "" {
			return auth.ErrUnauthorized
		}
		if _, err := a.CheckAuthentication(ctx, tok); err != nil {
			return err
		}
		return nil
	}
}

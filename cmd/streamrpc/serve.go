package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	streamrpc "github.com/ggoodman/streamrpc-go"
	"github.com/ggoodman/streamrpc-go/auth"
	"github.com/ggoodman/streamrpc-go/gates"
	"github.com/ggoodman/streamrpc-go/internal/demo"
	"github.com/ggoodman/streamrpc-go/redisbus"
	"github.com/ggoodman/streamrpc-go/rpcservice"
	"github.com/ggoodman/streamrpc-go/stdio"
	"github.com/ggoodman/streamrpc-go/streaminghttp"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo services",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfg.Policy, "policy", a.cfg.Policy, "CEL expression every call must satisfy")
	pf.Float64Var(&a.cfg.RateLimit, "rate-limit", a.cfg.RateLimit, "calls per second each session may start (0 disables)")
	pf.IntVar(&a.cfg.RateBurst, "rate-burst", a.cfg.RateBurst, "burst size for --rate-limit")
	pf.StringVar(&a.cfg.Issuer, "issuer", a.cfg.Issuer, "OIDC issuer; enables bearer token checks together with --audience")
	pf.StringVar(&a.cfg.Audience, "audience", a.cfg.Audience, "expected token audience")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "stdio",
			Short: "Serve one connection over stdin/stdout",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				srv, err := a.newServer(cmd.Context())
				if err != nil {
					return err
				}
				defer srv.Shutdown()
				h := stdio.NewHandler(srv,
					stdio.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
					stdio.WithLogger(a.log),
				)
				return ignoreCanceled(h.Serve(cmd.Context()))
			},
		},
		a.serveHTTPCmd(),
		&cobra.Command{
			Use:   "redis",
			Short: "Accept connections announced on the Redis bus",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				rdb, err := redisbus.NewClient(ctx, a.cfg.Bus)
				if err != nil {
					return err
				}
				defer rdb.Close()
				srv, err := a.newServer(ctx, demo.WithRedis(rdb))
				if err != nil {
					return err
				}
				defer srv.Shutdown()
				ln := redisbus.NewListener(rdb, a.cfg.Bus, redisbus.WithLogger(a.log))
				return ignoreCanceled(ln.Serve(ctx, srv))
			},
		},
	)
	return cmd
}

func (a *app) serveHTTPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "http",
		Short: "Serve connections over streaming HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := a.newServer(ctx)
			if err != nil {
				return err
			}
			defer srv.Shutdown()

			hs := &http.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           streaminghttp.New(srv, streaminghttp.WithLogger(a.log)),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.log.Info("serve.http.start", slog.String("addr", hs.Addr))
				errCh <- hs.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			// Open event streams only end once their sessions are gone.
			srv.Shutdown()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := hs.Shutdown(sctx); err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&a.cfg.HTTPAddr, "addr", a.cfg.HTTPAddr, "listen address")
	return cmd
}

// newServer builds a server over the demo registry with the configured gates.
func (a *app) newServer(ctx context.Context, opts ...demo.Option) (*streamrpc.Server, error) {
	reg, err := demo.Registry(opts...)
	if err != nil {
		return nil, err
	}
	mw, err := a.middleware(ctx)
	if err != nil {
		return nil, err
	}
	return streamrpc.NewServer(reg, streamrpc.WithLogger(a.log), streamrpc.WithMiddleware(mw...)), nil
}

func (a *app) middleware(ctx context.Context) ([]rpcservice.Middleware, error) {
	mw := []rpcservice.Middleware{gates.Log(a.log)}
	if a.cfg.Issuer != "" {
		authn, err := auth.NewFromDiscovery(ctx, a.cfg.Issuer, a.cfg.Audience)
		if err != nil {
			return nil, fmt.Errorf("failed to set up authentication: %w", err)
		}
		mw = append(mw, gates.RequireBearer(authn, streaminghttp.BearerToken))
	}
	if a.cfg.RateLimit > 0 {
		mw = append(mw, gates.RateLimit(a.cfg.Limit(), a.cfg.RateBurst))
	}
	if a.cfg.Policy != "" {
		p, err := gates.Policy(a.cfg.Policy)
		if err != nil {
			return nil, err
		}
		mw = append(mw, p)
	}
	return mw, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

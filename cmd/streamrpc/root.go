package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ggoodman/streamrpc-go/internal/config"
)

type app struct {
	cfg     config.Config
	loadErr error
	log     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	a.cfg, a.loadErr = config.Load()

	root := &cobra.Command{
		Use:           "streamrpc",
		Short:         "Stream RPC server and client",
		Long:          "streamrpc hosts stream-producing operations over stdio, HTTP or a Redis bus, and calls them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.loadErr != nil {
				return a.loadErr
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			// Logs always go to stderr; stdout carries protocol traffic and
			// call results.
			log, err := a.cfg.Logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.log = log
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.StringVar(&a.cfg.LogFormat, "log-format", a.cfg.LogFormat, "log format (text, json)")
	pf.StringVar(&a.cfg.Bus.RedisAddr, "redis-addr", a.cfg.Bus.RedisAddr, "redis address for the bus transport")
	pf.StringVar(&a.cfg.Bus.Prefix, "bus-prefix", a.cfg.Bus.Prefix, "channel prefix for the bus transport")

	root.AddCommand(a.serveCmd(), a.callCmd(), a.methodsCmd())
	return root
}

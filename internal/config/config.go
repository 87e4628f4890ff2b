// Package config loads process-level settings for the streamrpc CLI.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joeshaw/envdecode"
	"golang.org/x/time/rate"

	"github.com/ggoodman/streamrpc-go/redisbus"
)

// Config is decoded from the environment. Every field can also be set with a
// CLI flag.
type Config struct {
	HTTPAddr  string `env:"STREAMRPC_HTTP_ADDR,default=:8080"`
	LogLevel  string `env:"STREAMRPC_LOG_LEVEL,default=info"`
	LogFormat string `env:"STREAMRPC_LOG_FORMAT,default=text"`

	// Issuer and Audience enable bearer token checks on every call when both
	// are set.
	Issuer   string `env:"STREAMRPC_OIDC_ISSUER"`
	Audience string `env:"STREAMRPC_AUDIENCE"`

	// Policy is a CEL expression every call must satisfy.
	Policy string `env:"STREAMRPC_POLICY"`

	// RateLimit is the number of calls per second each session may start.
	// Zero disables limiting.
	RateLimit float64 `env:"STREAMRPC_RATE_LIMIT,default=0"`
	RateBurst int     `env:"STREAMRPC_RATE_BURST,default=10"`

	Bus redisbus.Config
}

// Load reads Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports settings that cannot be used together.
func (c Config) Validate() error {
	if (c.Issuer == "") != (c.Audience == "") {
		return errors.New("STREAMRPC_OIDC_ISSUER and STREAMRPC_AUDIENCE must be set together")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %v", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate burst must be positive, got %d", c.RateBurst)
	}
	return nil
}

// Limit returns the per-session call rate, or zero when limiting is off.
func (c Config) Limit() rate.Limit { return rate.Limit(c.RateLimit) }

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", c.LogFormat)
	}
}

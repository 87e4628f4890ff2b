package redisbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

const (
	defaultAddr   = "localhost:6379"
	defaultPrefix = "streamrpc:bus:"
)

// Config for the Redis bus. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// Prefix for every channel name. ENV: STREAMRPC_BUS_PREFIX
	Prefix string `env:"STREAMRPC_BUS_PREFIX,default=streamrpc:bus:"`
}

// ConfigFromEnv populates a Config from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("failed to decode redis bus config: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.RedisAddr == "" {
		c.RedisAddr = defaultAddr
	}
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	return c
}

func (c Config) connectChannel() string      { return c.Prefix + "connect" }
func (c Config) inChannel(id string) string  { return c.Prefix + id + ":in" }
func (c Config) outChannel(id string) string { return c.Prefix + id + ":out" }

// NewClient connects to the configured Redis server and verifies it answers.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	cl := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return cl, nil
}

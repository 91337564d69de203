// Package kv wraps the Redis client behind the stores for OAuth transient
// state, the cross-window result mailbox, and session records. Everything
// here is TTL-bounded: nothing the KV layer holds survives eviction in a
// way a client cannot recover from by re-authenticating or re-syncing.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// ErrNotFound is returned when a key is absent or already consumed.
var ErrNotFound = errors.New("key not found")

// Client wraps a Redis connection shared by the KV stores.
type Client struct {
	rdb redis.UniversalClient
}

// NewClient connects to Redis at addr and verifies the connection.
func NewClient(ctx context.Context, addr, password string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientWithRedis wraps a pre-configured client. This is useful for
// testing with miniredis.
func NewClientWithRedis(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// Redis exposes the underlying client for callers that need raw commands.
func (c *Client) Redis() redis.UniversalClient { return c.rdb }

// Close closes the connection.
func (c *Client) Close() error { return c.rdb.Close() }

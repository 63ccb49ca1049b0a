package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultPrefix = "ragchat:gatekeeper"

// Client records gatekeeper admission statistics in Redis.
// Rate limiting itself stays in process; Redis only aggregates counts.
type Client struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // Expiry of per-minute buckets
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client, prefix: defaultPrefix, ttl: 24 * time.Hour}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks if the Redis connection is alive
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// RecordAdmission counts one gatekeeper outcome in the running total,
// the per-minute bucket and the per-route hash
func (c *Client) RecordAdmission(ctx context.Context, outcome, method, path string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}

	totalKey := c.prefix + ":total"
	minuteKey := fmt.Sprintf("%s:minute:%s", c.prefix, at.UTC().Format("200601021504"))
	routeKey := c.prefix + ":route"
	routeField := strings.TrimSpace(method+" "+path) + ":" + outcome

	pipe := c.client.Pipeline()
	pipe.HIncrBy(ctx, totalKey, outcome, 1)
	pipe.HIncrBy(ctx, minuteKey, outcome, 1)
	pipe.Expire(ctx, minuteKey, c.ttl)
	pipe.HIncrBy(ctx, routeKey, routeField, 1)

	_, err := pipe.Exec(ctx)
	return err
}

// AdmissionTotals returns the running count per outcome
func (c *Client) AdmissionTotals(ctx context.Context) (map[string]int64, error) {
	raw, err := c.client.HGetAll(ctx, c.prefix+":total").Result()
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(raw))
	for outcome, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid counter %s=%q: %w", outcome, v, err)
		}
		totals[outcome] = n
	}
	return totals, nil
}

// Clear removes every statistics key under the client's prefix
func (c *Client) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

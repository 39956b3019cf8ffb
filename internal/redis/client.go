// Package redis mirrors live session membership into redis so the
// out-of-scope CMS can observe listener sets and session metadata. The
// in-memory stores stay authoritative; mirror failures are logged, never
// propagated.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mossy-p/onair/config"
	"github.com/mossy-p/onair/internal/models"
)

const keyTTL = 24 * time.Hour

// Client is an explicitly constructed presence mirror.
type Client struct {
	rdb *redis.Client
	log zerolog.Logger
}

func Connect(cfg config.RedisConfig, log zerolog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Client{rdb: rdb, log: log.With().Str("component", "redis").Logger()}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func sessionKey(broadcastID string) string   { return "broadcast:" + broadcastID }
func listenersKey(broadcastID string) string { return "broadcast:" + broadcastID + ":listeners" }

// SessionStarted stores the session metadata under the broadcast key.
func (c *Client) SessionStarted(broadcastID string, info models.BroadcasterInfo, start time.Time) {
	data, err := json.Marshal(map[string]interface{}{
		"broadcaster": info,
		"startTime":   start,
	})
	if err != nil {
		return
	}
	ctx := context.Background()
	if err := c.rdb.Set(ctx, sessionKey(broadcastID), data, keyTTL).Err(); err != nil {
		c.log.Warn().Err(err).Str("broadcast", broadcastID).Msg("mirror session start")
	}
}

// SessionEnded drops the session and listener keys.
func (c *Client) SessionEnded(broadcastID string) {
	ctx := context.Background()
	if err := c.rdb.Del(ctx, sessionKey(broadcastID), listenersKey(broadcastID)).Err(); err != nil {
		c.log.Warn().Err(err).Str("broadcast", broadcastID).Msg("mirror session end")
	}
}

// ListenerJoined adds the connection to the broadcast's listener set.
func (c *Client) ListenerJoined(broadcastID, connID string) {
	ctx := context.Background()
	pipe := c.rdb.Pipeline()
	pipe.SAdd(ctx, listenersKey(broadcastID), connID)
	pipe.Expire(ctx, listenersKey(broadcastID), keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Str("broadcast", broadcastID).Msg("mirror listener join")
	}
}

// ListenerLeft removes the connection from the listener set.
func (c *Client) ListenerLeft(broadcastID, connID string) {
	ctx := context.Background()
	if err := c.rdb.SRem(ctx, listenersKey(broadcastID), connID).Err(); err != nil {
		c.log.Warn().Err(err).Str("broadcast", broadcastID).Msg("mirror listener leave")
	}
}

package uplink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultHistory bounds the per-device uplink list.
const DefaultHistory = 1000

// RedisSink pushes every message onto a per-device list and announces it
// on a per-device channel.
type RedisSink struct {
	client   *redis.Client
	deviceID string
	history  int64
}

func NewRedisSink(client *redis.Client, deviceID string) *RedisSink {
	return &RedisSink{client: client, deviceID: deviceID, history: DefaultHistory}
}

func (s *RedisSink) Name() string { return "redis" }

// ListKey is the list holding the device's uplinks, newest first.
func (s *RedisSink) ListKey() string {
	return fmt.Sprintf("irhit:%s:uplinks", s.deviceID)
}

// Channel is the pub/sub channel for the device's uplinks.
func (s *RedisSink) Channel() string {
	return fmt.Sprintf("irhit:%s:events", s.deviceID)
}

// Join checks that the broker is reachable.
func (s *RedisSink) Join(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisSink) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal uplink: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.ListKey(), body)
		pipe.LTrim(ctx, s.ListKey(), 0, s.history-1)
		pipe.Publish(ctx, s.Channel(), body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", msg.ID, err)
	}
	return nil
}

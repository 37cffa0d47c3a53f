package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
)

// RedisSink appends accepted packages to a Redis stream, one entry per
// package, for downstream consumers tailing the stream.
type RedisSink struct {
	client *redis.Client
	stream string
}

var _ Sink = (*RedisSink)(nil)

// NewRedisSink connects to Redis at url (redis:// form) and writes to stream.
func NewRedisSink(url, stream string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisSink{client: redis.NewClient(opts), stream: stream}, nil
}

func (s *RedisSink) Name() string { return "redis:" + s.stream }

func (s *RedisSink) Broadcast(ctx context.Context, pkgs []datapackage.CachedPackage, nodeAddress string) error {
	pipe := s.client.Pipeline()
	for _, p := range pkgs {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal package: %w", err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]interface{}{
				"node":    nodeAddress,
				"package": payload,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd pipeline: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisSink) Close() error { return s.client.Close() }

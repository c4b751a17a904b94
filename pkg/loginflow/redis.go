package loginflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore persists flows in Redis with the configured TTL so
// that a callback can land on any instance behind a load balancer.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "chatgate:loginflow:"
	}
	return &redisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *redisStore) key(state string) string {
	return s.prefix + state
}

func (s *redisStore) Save(ctx context.Context, flow *Flow) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal login flow: %w", err)
	}
	if err := s.client.Set(ctx, s.key(flow.State), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store login flow: %w", err)
	}
	return nil
}

func (s *redisStore) Redeem(ctx context.Context, state string) (*Flow, error) {
	data, err := s.client.GetDel(ctx, s.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redeem login flow: %w", err)
	}

	flow := new(Flow)
	if err := json.Unmarshal(data, flow); err != nil {
		return nil, fmt.Errorf("unmarshal login flow: %w", err)
	}
	return flow, nil
}

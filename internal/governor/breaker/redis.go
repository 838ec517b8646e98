package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "governor:breaker:"

// RedisStore shares breaker state across instances. Entries expire on
// their own well after the cooldown so stale keys do not accumulate.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, cooldown time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("breaker redis client is required")
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &RedisStore{
		client: client,
		ttl:    4 * cooldown,
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (State, bool, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+key, raw, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (s *RedisStore) Snapshot(ctx context.Context) (map[string]State, error) {
	out := make(map[string]State)
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		raw, err := s.client.Get(ctx, fullKey).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		var state State
		if err := json.Unmarshal(raw, &state); err != nil {
			continue
		}
		out[strings.TrimPrefix(fullKey, redisKeyPrefix)] = state
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisTripStore keeps saved itineraries and preferences as plain Redis strings.
type RedisTripStore struct {
	client *redis.Client
}

func NewRedisTripStore(client *redis.Client) *RedisTripStore {
	return &RedisTripStore{client: client}
}

func (s *RedisTripStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return val, true, nil
}

// Save stores payload under key and returns key as the storage id.
func (s *RedisTripStore) Save(ctx context.Context, key string, payload []byte) (string, error) {
	if err := s.client.Set(ctx, key, payload, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", key, err)
	}
	return key, nil
}

func (s *RedisTripStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

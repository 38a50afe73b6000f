package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// HashStore keeps JSON-encoded records as fields of Redis hashes. One hash
// groups related records so they can be listed and expired together.
type HashStore[T any] struct {
	client *Client
	name   string
	ttl    time.Duration
}

// NewHashStore creates a store whose hashes live under <prefix>:<name>:<key>.
// A positive ttl is refreshed on every write.
func NewHashStore[T any](client *Client, name string, ttl time.Duration) *HashStore[T] {
	return &HashStore[T]{client: client, name: name, ttl: ttl}
}

func (s *HashStore[T]) hashKey(key string) string {
	return s.client.Key(s.name, key)
}

// Get decodes one field. Returns (nil, nil) if the field doesn't exist.
func (s *HashStore[T]) Get(ctx context.Context, key, field string) (*T, error) {
	raw, err := s.client.HGet(ctx, s.hashKey(key), field)
	if err != nil {
		if IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hash store get %s/%s: %w", key, field, err)
	}
	var val T
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return nil, fmt.Errorf("hash store unmarshal %s/%s: %w", key, field, err)
	}
	return &val, nil
}

// Put stores val, replacing any existing field.
func (s *HashStore[T]) Put(ctx context.Context, key, field string, val *T) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("hash store marshal %s/%s: %w", key, field, err)
	}
	if err := s.client.HSet(ctx, s.hashKey(key), field, string(data)); err != nil {
		return fmt.Errorf("hash store put %s/%s: %w", key, field, err)
	}
	return s.client.Expire(ctx, s.hashKey(key), s.ttl)
}

// PutIfAbsent stores val only if the field is missing and reports whether
// it was written.
func (s *HashStore[T]) PutIfAbsent(ctx context.Context, key, field string, val *T) (bool, error) {
	data, err := json.Marshal(val)
	if err != nil {
		return false, fmt.Errorf("hash store marshal %s/%s: %w", key, field, err)
	}
	ok, err := s.client.HSetNX(ctx, s.hashKey(key), field, string(data))
	if err != nil {
		return false, fmt.Errorf("hash store put %s/%s: %w", key, field, err)
	}
	if ok {
		if err := s.client.Expire(ctx, s.hashKey(key), s.ttl); err != nil {
			return true, err
		}
	}
	return ok, nil
}

// All decodes every field of a hash.
func (s *HashStore[T]) All(ctx context.Context, key string) (map[string]*T, error) {
	raw, err := s.client.HGetAll(ctx, s.hashKey(key))
	if err != nil {
		return nil, fmt.Errorf("hash store list %s: %w", key, err)
	}
	out := make(map[string]*T, len(raw))
	for field, v := range raw {
		var val T
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			return nil, fmt.Errorf("hash store unmarshal %s/%s: %w", key, field, err)
		}
		out[field] = &val
	}
	return out, nil
}

// Delete removes a whole hash.
func (s *HashStore[T]) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.hashKey(key)); err != nil {
		return fmt.Errorf("hash store delete %s: %w", key, err)
	}
	return nil
}

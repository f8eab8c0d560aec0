package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeRegistry implements app.CodeRegistry on Redis. Reservation is a single
// SETNX, so concurrent attempts for the same code resolve to exactly one
// winner without any cross-instance coordination.
type CodeRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCodeRegistry builds a registry. A zero ttl keeps reservations until
// Release; a positive ttl guards against rooms that never end.
func NewCodeRegistry(client *redis.Client, ttl time.Duration) *CodeRegistry {
	return &CodeRegistry{client: client, ttl: ttl}
}

func (r *CodeRegistry) Reserve(ctx context.Context, code, roomID string) (bool, error) {
	return r.client.SetNX(ctx, r.key(code), roomID, r.ttl).Result()
}

func (r *CodeRegistry) Lookup(ctx context.Context, code string) (string, bool, error) {
	roomID, err := r.client.Get(ctx, r.key(code)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return roomID, true, nil
}

func (r *CodeRegistry) Release(ctx context.Context, code string) error {
	return r.client.Del(ctx, r.key(code)).Err()
}

func (r *CodeRegistry) key(code string) string {
	return "room:code:" + code
}

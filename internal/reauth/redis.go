package reauth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "reauth:token:"

// RedisTokenStore persists pending 2FA tokens in Redis so verification can
// land on any API replica. Keys expire with the token TTL.
type RedisTokenStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client, now: time.Now}
}

func (s *RedisTokenStore) Put(ctx context.Context, token Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	ttl := token.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.Set(ctx, redisKeyPrefix+token.ID, raw, ttl).Err()
}

func (s *RedisTokenStore) Get(ctx context.Context, id string) (Token, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Token{}, ErrTokenNotFound
		}
		return Token{}, err
	}
	var out Token
	if err := json.Unmarshal(raw, &out); err != nil {
		return Token{}, err
	}
	return out, nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, redisKeyPrefix+id).Err()
}

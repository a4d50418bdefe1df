package session

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"gospelpress/internal/crypto"
)

const redisKeyPrefix = "admin_session:"

// RedisStore keeps tokens in redis with a native TTL, so there is no sweep
// and sessions survive a restart.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Create(ctx context.Context) (string, error) {
	token, err := crypto.NewSessionToken()
	if err != nil {
		return "", err
	}
	issuedAt := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	if err := r.client.Set(ctx, redisKeyPrefix+token, issuedAt, r.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (r *RedisStore) Validate(ctx context.Context, token string) (bool, error) {
	_, err := r.client.Get(ctx, redisKeyPrefix+token).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisStore) Delete(ctx context.Context, token string) error {
	return r.client.Del(ctx, redisKeyPrefix+token).Err()
}

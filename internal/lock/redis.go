package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still carries our token, so an
// expired holder cannot release someone else's lock.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisClient is the part of go-redis the locker uses; *redis.Client
// satisfies it.
type RedisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLocker shares locks between every replica pointed at the same Redis.
type RedisLocker struct {
	Client RedisClient
	Prefix string
}

func (l RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	key = l.Prefix + key
	ok, err := l.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return &redisLock{client: l.Client, key: key, token: token}, true, nil
}

type redisLock struct {
	client RedisClient
	key    string
	token  string
}

func (l *redisLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

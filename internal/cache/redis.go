package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps one hash per cache bucket plus a set of bucket names.
type RedisStorage struct {
	client    *redis.Client
	namespace string
}

func NewRedisStorage(client *redis.Client, namespace string) *RedisStorage {
	if namespace == "" {
		namespace = "sitecache"
	}
	return &RedisStorage{client: client, namespace: namespace}
}

func (s *RedisStorage) namesKey() string {
	return s.namespace + ":buckets"
}

func (s *RedisStorage) hashKey(name string) string {
	return s.namespace + ":bucket:" + name
}

func (s *RedisStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if name == "" {
		return nil, errors.New("empty bucket name")
	}
	if err := s.client.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	return &redisBucket{storage: s, name: name}, nil
}

func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.hashKey(name))
		removed = pipe.SRem(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete bucket %s: %w", name, err)
	}
	return removed.Val() > 0, nil
}

type redisBucket struct {
	storage *RedisStorage
	name    string
}

func (b *redisBucket) Name() string { return b.name }

func (b *redisBucket) Match(ctx context.Context, key string) (Object, error) {
	raw, err := b.storage.client.HGet(ctx, b.storage.hashKey(b.name), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Object{}, ErrNotFound
		}
		return Object{}, err
	}
	var obj Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Object{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return obj, nil
}

func (b *redisBucket) Put(ctx context.Context, key string, obj Object) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	// re-adding the name keeps a bucket written after its deletion visible
	// to Keys, so the next activation removes it again
	_, err = b.storage.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, b.storage.namesKey(), b.name)
		pipe.HSet(ctx, b.storage.hashKey(b.name), key, raw)
		return nil
	})
	return err
}

func (b *redisBucket) Delete(ctx context.Context, key string) error {
	return b.storage.client.HDel(ctx, b.storage.hashKey(b.name), key).Err()
}

package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ Store = (*RedisStore)(nil)

// changeChannel carries the changed key name so one pattern subscription
// could be layered later; today each Subscribe opens its own channel.
const changeChannelPrefix = "kv.changed."

func NewRedisClient(addr string) *redis.Client {
	r := redis.NewClient(&redis.Options{Addr: addr})
	_ = r.WithTimeout(2 * time.Second)
	return r
}

// RedisStore backs the shared store with redis strings and fans out change
// notifications over pub/sub, one channel per key.
type RedisStore struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisStore(rdb *redis.Client, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, log: log}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoKey
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Key: key, Err: err}
	}
	return b, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return &PersistenceError{Op: "set", Key: key, Err: err}
	}
	if err := s.rdb.Publish(ctx, changeChannelPrefix+key, key).Err(); err != nil {
		s.log.Warn("change publish failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return &PersistenceError{Op: "remove", Key: key, Err: err}
	}
	if err := s.rdb.Publish(ctx, changeChannelPrefix+key, key).Err(); err != nil {
		s.log.Warn("change publish failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (s *RedisStore) Subscribe(key string, h func(key string)) func() {
	ps := s.rdb.Subscribe(context.Background(), changeChannelPrefix+key)
	go func() {
		for range ps.Channel() {
			h(key)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { _ = ps.Close() })
	}
}

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisStorage 使用 Redis 保存缓存仓：一个 ZSET 记录仓名（score 为创建时间），
// 每个仓对应一个 HASH。prefix 用于在共享实例中隔离键空间。
func NewRedisStorage(client *redis.Client, prefix string) (Storage, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	return newStorage("redis", &redisStore{client: client, prefix: prefix}), nil
}

type redisStore struct {
	client *redis.Client
	prefix string
}

func (s *redisStore) namesKey() string {
	return s.prefix + "stores"
}

func (s *redisStore) storeKey(name string) string {
	return s.prefix + "store:" + name
}

func (s *redisStore) ensureStore(ctx context.Context, name string, created time.Time) error {
	return s.client.ZAddNX(ctx, s.namesKey(), redis.Z{
		Score:  float64(created.UnixMicro()),
		Member: name,
	}).Err()
}

func (s *redisStore) hasStore(ctx context.Context, name string) (bool, error) {
	err := s.client.ZScore(ctx, s.namesKey(), name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *redisStore) listStores(ctx context.Context) ([]storeInfo, error) {
	members, err := s.client.ZRangeWithScores(ctx, s.namesKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	result := make([]storeInfo, 0, len(members))
	for _, member := range members {
		name, ok := member.Member.(string)
		if !ok {
			continue
		}
		result = append(result, storeInfo{
			name:    name,
			created: time.UnixMicro(int64(member.Score)).UTC(),
		})
	}
	return result, nil
}

func (s *redisStore) dropStore(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	var deleted *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, s.storeKey(name))
		removed = pipe.ZRem(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0 || deleted.Val() > 0, nil
}

func (s *redisStore) get(ctx context.Context, store, key string) ([]byte, error) {
	data, err := s.client.HGet(ctx, s.storeKey(store), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errMissing
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// put 通过 MULTI/EXEC 一次性写入，保证批量写入要么全部可见要么全部不可见。
func (s *redisStore) put(ctx context.Context, store string, records []record) error {
	if len(records) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(records)*2)
	for _, rec := range records {
		values = append(values, rec.key, rec.value)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, s.namesKey(), redis.Z{
			Score:  float64(time.Now().UnixMicro()),
			Member: store,
		})
		pipe.HSet(ctx, s.storeKey(store), values...)
		return nil
	})
	return err
}

func (s *redisStore) remove(ctx context.Context, store, key string) (bool, error) {
	n, err := s.client.HDel(ctx, s.storeKey(store), key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) keys(ctx context.Context, store string) ([]string, error) {
	return s.client.HKeys(ctx, s.storeKey(store)).Result()
}

func (s *redisStore) close() error {
	return s.client.Close()
}

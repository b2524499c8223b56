package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Backend names accepted by Open.
const (
	BackendFS     = "fs"
	BackendBadger = "badger"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Options 描述 Open 需要的后端参数，由配置层填充。
type Options struct {
	Backend       string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Logger 记录跨缓存仓查找时被跳过的读取错误，为空时使用 logrus 默认日志器。
	Logger logrus.FieldLogger
}

// Open 根据 Backend 构建 Storage。redis 后端会先 Ping 一次，尽早暴露连接问题。
func Open(ctx context.Context, opts Options) (Storage, error) {
	st, err := open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return WithLogger(st, opts.Logger), nil
}

func open(ctx context.Context, opts Options) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFS:
		return NewFileStorage(opts.Path)
	case BackendBadger:
		return NewBadgerStorage(opts.Path)
	case BackendMemory:
		return NewMemoryStorage()
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", opts.RedisAddr, err)
		}
		return NewRedisStorage(client, opts.RedisPrefix)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", opts.Backend)
	}
}

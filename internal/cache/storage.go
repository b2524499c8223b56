package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// backend 是各存储实现需要提供的最小字节级能力，编码、校验与指标统一在 storage 中处理。
type backend interface {
	ensureStore(ctx context.Context, name string, created time.Time) error
	hasStore(ctx context.Context, name string) (bool, error)
	listStores(ctx context.Context) ([]storeInfo, error)
	dropStore(ctx context.Context, name string) (bool, error)
	get(ctx context.Context, store, key string) ([]byte, error)
	put(ctx context.Context, store string, records []record) error
	remove(ctx context.Context, store, key string) (bool, error)
	keys(ctx context.Context, store string) ([]string, error)
	close() error
}

type storeInfo struct {
	name    string
	created time.Time
}

type record struct {
	key   string
	value []byte
}

// errMissing 是 backend 内部的未命中信号，由 storage 转换为 ErrNotFound。
var errMissing = errors.New("missing")

type storage struct {
	backend backend
	kind    string
	now     func() time.Time
	logger  logrus.FieldLogger
}

func newStorage(kind string, b backend) *storage {
	return &storage{backend: b, kind: kind, now: time.Now, logger: logrus.StandardLogger()}
}

// WithLogger 替换 Storage 用于记录可恢复错误的日志器，非本包实现原样返回。
func WithLogger(st Storage, logger logrus.FieldLogger) Storage {
	if impl, ok := st.(*storage); ok && logger != nil {
		impl.logger = logger
	}
	return st
}

func (s *storage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.backend.ensureStore(ctx, name, s.now().UTC()); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &namedCache{storage: s, name: name}, nil
}

func (s *storage) Has(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	return s.backend.hasStore(ctx, name)
}

func (s *storage) Names(ctx context.Context) ([]string, error) {
	infos, err := s.backend.listStores(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("list caches: %w", err)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].created.Equal(infos[j].created) {
			return infos[i].name < infos[j].name
		}
		return infos[i].created.Before(infos[j].created)
	})
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.name
	}
	return names, nil
}

func (s *storage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	existed, err := s.backend.dropStore(ctx, name)
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	if existed {
		StoresDeleted.Inc()
	}
	return existed, nil
}

func (s *storage) Match(ctx context.Context, key Key) (*Response, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	// 单个缓存仓读取或解码失败时继续查找后续缓存仓，只有全部未命中才返回首个错误。
	var firstErr error
	for _, name := range names {
		resp, err := s.match(ctx, name, key)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "cache_match",
			"backend": s.kind,
			"store":   name,
			"key":     key.String(),
		}).Warn("cache_store_unreadable")
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrNotFound
}

func (s *storage) Close() error {
	return s.backend.close()
}

func (s *storage) match(ctx context.Context, name string, key Key) (*Response, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	raw, err := s.backend.get(ctx, name, string(key))
	if err != nil {
		if errors.Is(err, errMissing) {
			CacheMisses.Inc()
			return nil, ErrNotFound
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("cache %s get: %w", name, err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("cache %s decode %s: %w", name, key, err)
	}
	CacheHits.WithLabelValues(name).Inc()
	return &resp, nil
}

func (s *storage) encode(key Key, resp *Response) (record, error) {
	if key == "" {
		return record{}, ErrInvalidKey
	}
	if resp == nil {
		return record{}, errors.New("response is nil")
	}
	if resp.Status == http.StatusPartialContent {
		return record{}, ErrPartialResponse
	}
	snapshot := *resp
	if snapshot.StoredAt.IsZero() {
		snapshot.StoredAt = s.now().UTC()
	}
	data, err := json.Marshal(&snapshot)
	if err != nil {
		return record{}, fmt.Errorf("encode %s: %w", key, err)
	}
	return record{key: string(key), value: data}, nil
}

func (s *storage) write(ctx context.Context, name string, entries []Entry) error {
	records := make([]record, 0, len(entries))
	index := make(map[string]int, len(entries))
	for _, entry := range entries {
		rec, err := s.encode(entry.Key, entry.Response)
		if err != nil {
			return err
		}
		// 同一批次内重复的 key 以最后一条为准。
		if i, ok := index[rec.key]; ok {
			records[i] = rec
			continue
		}
		index[rec.key] = len(records)
		records = append(records, rec)
	}
	if err := s.backend.ensureStore(ctx, name, s.now().UTC()); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("cache %s put: %w", name, err)
	}
	if err := s.backend.put(ctx, name, records); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("cache %s put: %w", name, err)
	}
	CacheWrites.WithLabelValues(name).Add(float64(len(records)))
	return nil
}

type namedCache struct {
	storage *storage
	name    string
}

func (c *namedCache) Name() string {
	return c.name
}

func (c *namedCache) Match(ctx context.Context, key Key) (*Response, error) {
	return c.storage.match(ctx, c.name, key)
}

func (c *namedCache) Put(ctx context.Context, key Key, resp *Response) error {
	return c.storage.write(ctx, c.name, []Entry{{Key: key, Response: resp}})
}

func (c *namedCache) PutAll(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return c.storage.write(ctx, c.name, entries)
}

func (c *namedCache) Delete(ctx context.Context, key Key) (bool, error) {
	existed, err := c.storage.backend.remove(ctx, c.name, string(key))
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("cache %s delete: %w", c.name, err)
	}
	return existed, nil
}

func (c *namedCache) Keys(ctx context.Context) ([]Key, error) {
	raw, err := c.storage.backend.keys(ctx, c.name)
	if err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("cache %s keys: %w", c.name, err)
	}
	sort.Strings(raw)
	keys := make([]Key, len(raw))
	for i, k := range raw {
		keys[i] = Key(k)
	}
	return keys, nil
}

// ValidateName 检查缓存仓名称能否安全地映射为目录名或键前缀。
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.Contains(name, ".."), strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Storage 对应浏览器的 CacheStorage：按名称管理多个缓存仓，所有操作均为阻塞调用，
// 调用方通过 ctx 控制取消。
type Storage interface {
	// Open 打开指定名称的缓存仓，不存在时惰性创建。
	Open(ctx context.Context, name string) (Cache, error)

	// Has 判断缓存仓是否存在，不会创建。
	Has(ctx context.Context, name string) (bool, error)

	// Names 按创建顺序返回全部缓存仓名称。
	Names(ctx context.Context) ([]string, error)

	// Delete 删除整个缓存仓，返回删除前是否存在；重复删除是安全的。
	Delete(ctx context.Context, name string) (bool, error)

	// Match 按创建顺序在所有缓存仓中查找 key，全部未命中时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Close 释放底层连接或文件句柄。
	Close() error
}

// Cache 是单个命名缓存仓。
type Cache interface {
	Name() string

	// Match 返回 key 对应的响应快照，未命中返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Put 写入单条响应，覆盖同 key 的旧值。
	Put(ctx context.Context, key Key, resp *Response) error

	// PutAll 批量写入，任意一条失败则整体不生效。
	PutAll(ctx context.Context, entries []Entry) error

	// Delete 删除单条记录，返回删除前是否存在。
	Delete(ctx context.Context, key Key) (bool, error)

	// Keys 返回缓存仓内全部 key，按字典序排列。
	Keys(ctx context.Context) ([]Key, error)
}

// Key 是请求在缓存中的身份：去掉 fragment 的绝对 URL。只有 GET 请求拥有 Key。
type Key string

// NewKey 根据请求方法与 URL 生成 Key。
func NewKey(method, rawURL string) (Key, error) {
	if method != "" && !strings.EqualFold(method, http.MethodGet) {
		return "", ErrUnsupportedMethod
	}
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", errors.Join(ErrInvalidKey, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return "", ErrInvalidKey
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return Key(parsed.String()), nil
}

// MustKey 用于常量 URL，解析失败时 panic。
func MustKey(rawURL string) Key {
	key, err := NewKey(http.MethodGet, rawURL)
	if err != nil {
		panic(err)
	}
	return key
}

func (k Key) String() string {
	return string(k)
}

// Response 是写入缓存的响应快照。
type Response struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// OK 与 fetch 的 response.ok 一致：2xx 视为成功。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Clone 深拷贝 Header 与 Body，便于一份写缓存、一份返回调用方。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

// Entry 是 PutAll 的一条批量记录。
type Entry struct {
	Key      Key
	Response *Response
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName 表示缓存仓名称非法。
	ErrInvalidName = errors.New("invalid cache name")
	// ErrInvalidKey 表示 URL 不是可缓存的绝对地址。
	ErrInvalidKey = errors.New("invalid cache key")
	// ErrUnsupportedMethod 表示非 GET 请求无法写入或匹配缓存。
	ErrUnsupportedMethod = errors.New("only GET requests can be cached")
	// ErrPartialResponse 表示 206 响应不允许缓存。
	ErrPartialResponse = errors.New("partial responses cannot be cached")
)

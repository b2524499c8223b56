package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/sw-proxy/internal/cache"
	"github.com/any-hub/sw-proxy/internal/server"
	"github.com/any-hub/sw-proxy/internal/worker"
)

// maxSnapshotBytes 限制单个响应快照的大小，超出视为上游失败。
const maxSnapshotBytes = 64 << 20

// ErrResponseTooLarge 表示上游响应超过快照上限。
var ErrResponseTooLarge = errors.New("upstream response exceeds snapshot limit")

// Upstream 是基于共享 http.Client 的 worker.Fetcher 实现。响应体会被完整读入内存，
// 便于同一份快照既返回给调用方又写入缓存。
type Upstream struct {
	client   *http.Client
	registry *server.OriginRegistry
	logger   *logrus.Logger
}

// NewUpstream 构造 Upstream。registry 可为空，此时所有请求都不走出站代理。
func NewUpstream(client *http.Client, registry *server.OriginRegistry, logger *logrus.Logger) *Upstream {
	if client == nil {
		client = http.DefaultClient
	}
	return &Upstream{client: client, registry: registry, logger: logger}
}

// Fetch 实现 worker.Fetcher：只有连接/读取失败返回 error，任何 HTTP 状态都作为响应返回。
func (u *Upstream) Fetch(ctx context.Context, req *worker.Request) (*cache.Response, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		server.CopyHeaders(httpReq.Header, req.Header)
	}
	// 快照保存解码后的内容，由 Transport 负责解压。
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Header.Del("Range")
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", server.UserAgent())
	}
	httpReq.Host = httpReq.URL.Host

	resp, err := u.doRequest(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body %s: %w", req.URL, err)
	}
	if len(data) > maxSnapshotBytes {
		return nil, fmt.Errorf("%w: %s", ErrResponseTooLarge, req.URL)
	}

	header := make(http.Header, len(resp.Header))
	server.CopyResponseHeaders(header, resp.Header)

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &cache.Response{
		URL:    finalURL,
		Status: resp.StatusCode,
		Header: header,
		Body:   data,
	}, nil
}

// doRequest 根据目标 host 所属 Origin 选择出站代理。
func (u *Upstream) doRequest(req *http.Request) (*http.Response, error) {
	proxyURL := u.proxyFor(req.URL)
	if proxyURL == nil {
		return u.client.Do(req)
	}
	transport := &http.Transport{}
	if base, ok := u.client.Transport.(*http.Transport); ok && base != nil {
		transport = base.Clone()
	}
	transport.Proxy = http.ProxyURL(proxyURL)
	if u.logger != nil {
		u.logger.WithFields(logrus.Fields{
			"action":   "upstream_proxy",
			"upstream": req.URL.Host,
			"proxy":    proxyURL.Host,
		}).Debug("using outbound proxy")
	}
	client := *u.client
	client.Transport = transport
	return client.Do(req)
}

func (u *Upstream) proxyFor(target *url.URL) *url.URL {
	if u.registry == nil || target == nil {
		return nil
	}
	route, ok := u.registry.LookupUpstream(target.String())
	if !ok {
		return nil
	}
	return route.ProxyURL
}

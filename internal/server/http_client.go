package server

import (
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/any-hub/sw-proxy/internal/config"
	"github.com/any-hub/sw-proxy/internal/version"
)

const defaultUpstreamTimeout = 30 * time.Second

// 上游连接池参数。Origin 数量有限，按 host 保留较多空闲连接。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          64,
	MaxIdleConnsPerHost:   32,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 20 * time.Second,
	ExpectContinueTimeout: time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回所有上游请求共享的 http.Client。
// 按 Origin 配置的出站代理由调用方在克隆后的 Transport 上设置。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	transport := defaultTransport.Clone()
	if transport.ResponseHeaderTimeout > timeout {
		transport.ResponseHeaderTimeout = timeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// UserAgent 是代理自身发起请求（例如安装阶段预取清单）时使用的 UA。
func UserAgent() string {
	return "sw-proxy/" + version.Version
}

// hopByHopHeaders 是 RFC 7230 §6.1 规定的逐跳头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
}

// CopyHeaders 将 src 中的端到端头部追加到 dst。除固定的逐跳头部外，
// Connection 头中列出的字段同样不会被复制。
func CopyHeaders(dst, src http.Header) {
	listed := connectionTokens(src)
	for key, values := range src {
		canonical := textproto.CanonicalMIMEHeaderKey(key)
		if IsHopByHopHeader(canonical) {
			continue
		}
		if _, ok := listed[canonical]; ok {
			continue
		}
		for _, value := range values {
			dst.Add(canonical, value)
		}
	}
}

// CopyResponseHeaders 在 CopyHeaders 的基础上去掉 Content-Length，
// 响应体长度由快照或下游写出时重新计算。
func CopyResponseHeaders(dst, src http.Header) {
	CopyHeaders(dst, src)
	dst.Del("Content-Length")
}

// IsHopByHopHeader reports whether the header must not be forwarded by a proxy.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

func connectionTokens(header http.Header) map[string]struct{} {
	values := header.Values("Connection")
	if len(values) == 0 {
		return nil
	}
	tokens := make(map[string]struct{})
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				tokens[textproto.CanonicalMIMEHeaderKey(token)] = struct{}{}
			}
		}
	}
	return tokens
}

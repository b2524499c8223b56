package worker

import (
	"context"
	"net/http"

	"github.com/any-hub/sw-proxy/internal/cache"
	"github.com/any-hub/sw-proxy/internal/strategy"
)

// Request 是被拦截的一次页面请求，URL 必须是绝对地址。
type Request struct {
	Method      string
	URL         string
	Destination strategy.Destination
	Header      http.Header
	Body        []byte
}

// Fetcher 代表网络。返回 error 即视为网络失败，任何 HTTP 状态码都算作正常响应。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*cache.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	return f(ctx, req)
}

// Result 描述一次路由的结果。
type Result struct {
	Response  *cache.Response
	Policy    strategy.Policy
	FromCache bool
}

// PolicyBypass 标记未受控阶段直接走网络的请求，不参与分类。
const PolicyBypass strategy.Policy = "bypass"

package proxy

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/sw-proxy/internal/logging"
	"github.com/any-hub/sw-proxy/internal/server"
	"github.com/any-hub/sw-proxy/internal/strategy"
	"github.com/any-hub/sw-proxy/internal/worker"
)

// Response headers describing how a request was served.
const (
	HeaderPolicy   = "X-Sw-Policy"
	HeaderCacheHit = "X-Sw-Cache-Hit"
	HeaderUpstream = "X-Sw-Upstream"
)

// Handler 把 fiber 请求翻译成 worker.Request，交给 worker 路由后写回响应。
// passthrough 模式下直接走网络，用于 worker 尚未接管的阶段。
type Handler struct {
	worker      *worker.Worker
	logger      *logrus.Logger
	passthrough bool
}

// NewHandler 构造受控 handler，请求经由 worker.Fetch 的缓存策略处理。
func NewHandler(w *worker.Worker, logger *logrus.Logger) *Handler {
	return &Handler{worker: w, logger: logger}
}

// NewPassthroughHandler 构造直连 handler，不读写缓存。
func NewPassthroughHandler(w *worker.Worker, logger *logrus.Logger) *Handler {
	return &Handler{worker: w, logger: logger, passthrough: true}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req := buildWorkerRequest(c, route)

	var (
		result *worker.Result
		err    error
	)
	if h.passthrough {
		result, err = h.worker.Bypass(ctx, req)
	} else {
		result, err = h.worker.Fetch(ctx, req)
	}
	if err != nil {
		policy := worker.PolicyBypass
		if !h.passthrough {
			policy = h.worker.Classifier().Classify(req.URL, req.Destination)
		}
		h.logResult(route, req.URL, requestID, policy, 0, false, started, err)
		c.Set(HeaderPolicy, string(policy))
		if errors.Is(err, worker.ErrNotCached) {
			return writeError(c, fiber.StatusGatewayTimeout, "offline_uncached")
		}
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	h.writeResult(c, route, req, result, requestID)
	h.logResult(route, req.URL, requestID, result.Policy, result.Response.Status, result.FromCache, started, nil)
	return nil
}

func (h *Handler) writeResult(c fiber.Ctx, route *server.OriginRoute, req *worker.Request, result *worker.Result, requestID string) {
	resp := result.Response
	for key, values := range resp.Header {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
	c.Set(HeaderPolicy, string(result.Policy))
	c.Set(HeaderCacheHit, strconv.FormatBool(result.FromCache))
	if route != nil && route.UpstreamURL != nil {
		c.Set(HeaderUpstream, route.UpstreamURL.String())
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	status := resp.Status
	if status == 0 {
		status = fiber.StatusOK
	}
	c.Status(status)
	if req.Method == http.MethodHead {
		c.Response().Header.SetContentLength(len(resp.Body))
		c.Response().SkipBody = true
		return
	}
	c.Response().SetBodyRaw(resp.Body)
}

// buildWorkerRequest 将下游请求映射为上游绝对 URL，缓存键即为该 URL。
func buildWorkerRequest(c fiber.Ctx, route *server.OriginRoute) *worker.Request {
	uri := c.Request().URI()
	cleanPath := normalizeRequestPath(string(uri.Path()))
	target := route.UpstreamFor(cleanPath, string(uri.QueryString()))

	header := fiberHeadersAsHTTP(c)
	header.Del(fiber.HeaderHost)
	header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}
	header.Set("X-Forwarded-Proto", c.Protocol())
	header.Set("X-Forwarded-Port", routePort(route))

	var body []byte
	if raw := c.Body(); len(raw) > 0 {
		body = append([]byte(nil), raw...)
	}

	return &worker.Request{
		Method:      c.Method(),
		URL:         target,
		Destination: requestDestination(header),
		Header:      header,
		Body:        body,
	}
}

// requestDestination 优先使用 Sec-Fetch-Dest，缺失时根据 Accept 推断图片请求。
func requestDestination(header http.Header) strategy.Destination {
	if dest := strings.ToLower(strings.TrimSpace(header.Get("Sec-Fetch-Dest"))); dest != "" {
		return strategy.Destination(dest)
	}
	accept := strings.ToLower(header.Get("Accept"))
	if strings.HasPrefix(accept, "image/") {
		return strategy.DestinationImage
	}
	return strategy.DestinationEmpty
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		return "/"
	}
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func routePort(route *server.OriginRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return strconv.Itoa(route.ListenPort)
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.OriginRoute,
	upstream string,
	requestID string,
	policy strategy.Policy,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := routeFields(route, policy, cacheHit)
	fields["action"] = "proxy"
	fields["upstream"] = upstream
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func routeFields(route *server.OriginRoute, policy strategy.Policy, cacheHit bool) logrus.Fields {
	if route == nil {
		return logging.RequestFields("", "", string(policy), cacheHit)
	}
	return logging.RequestFields(route.Config.Name, route.Config.Domain, string(policy), cacheHit)
}

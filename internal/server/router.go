package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler 负责处理已匹配到 Origin 的请求，测试中可注入替身。
type ProxyHandler interface {
	Handle(fiber.Ctx, *OriginRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *OriginRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *OriginRoute) error {
	return f(c, route)
}

// AppOptions 描述单个监听端口上的 Fiber 应用。
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *OriginRegistry
	Proxy      ProxyHandler
	ListenPort int
}

// DiagnosticsPrefix 下的路径属于本进程的管理接口，不按 Host 转发。
const DiagnosticsPrefix = "/-/"

const (
	headerRequestID    = "X-Request-ID"
	headerUnmappedHost = "X-Sw-Proxy-Host"

	localRoute     = "_swproxy_route"
	localRequestID = "_swproxy_request_id"
)

// NewApp 构建 Fiber 应用：按 Host 匹配 Origin，诊断路径不参与匹配，
// 由调用方在返回的 app 上继续注册。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		AppName:       "sw-proxy",
	})
	app.Use(recover.New())
	app.Use(requestIDMiddleware())
	app.Use(originMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		route, ok := Route(c)
		if !ok {
			// 诊断路径交给后续注册的路由。
			return c.Next()
		}
		return opts.Proxy.Handle(c, route)
	})

	return app, nil
}

func (o AppOptions) validate() error {
	switch {
	case o.Logger == nil:
		return errors.New("logger is required")
	case o.Registry == nil:
		return errors.New("origin registry is required")
	case o.Proxy == nil:
		return errors.New("proxy handler is required")
	case o.ListenPort <= 0:
		return fmt.Errorf("invalid listen port: %d", o.ListenPort)
	}
	return nil
}

// requestIDMiddleware 复用上游传入的合法 UUID，否则生成新的请求 ID，并回写到响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		if raw := strings.TrimSpace(c.Get(headerRequestID)); raw != "" {
			if parsed, err := uuid.Parse(raw); err == nil {
				reqID = parsed.String()
			}
		}
		c.Locals(localRequestID, reqID)
		c.Set(headerRequestID, reqID)
		return c.Next()
	}
}

// originMiddleware 按 Host/Host:port 查找 OriginRoute，未登记的 Host 直接返回 404。
func originMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		if IsDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		host := requestHost(c)
		route, ok := opts.Registry.Lookup(host)
		if !ok {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "host_lookup",
				"host":       host,
				"port":       opts.ListenPort,
				"request_id": RequestID(c),
			}).Warn("host unmapped")
			if host != "" {
				c.Set(headerUnmappedHost, host)
			}
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "host_unmapped"})
		}

		c.Locals(localRoute, route)
		return c.Next()
	}
}

func requestHost(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return strings.TrimSpace(string(raw))
	}
	return strings.TrimSpace(c.Hostname())
}

// Route 返回中间件匹配到的 OriginRoute，诊断路径上为空。
func Route(c fiber.Ctx) (*OriginRoute, bool) {
	route, ok := c.Locals(localRoute).(*OriginRoute)
	return route, ok && route != nil
}

// RequestID returns the request identifier assigned by the router middleware.
func RequestID(c fiber.Ctx) string {
	reqID, _ := c.Locals(localRequestID).(string)
	return reqID
}

// IsDiagnosticsPath 判断路径是否属于管理接口。
func IsDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, DiagnosticsPrefix)
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/sw-proxy/internal/cache"
)

var supportedBackends = map[string]struct{}{
	cache.BackendFS:     {},
	cache.BackendBadger: {},
	cache.BackendMemory: {},
	cache.BackendRedis:  {},
}

const supportedBackendList = "fs|badger|memory|redis"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}
	if err := c.validateGlobal(); err != nil {
		return err
	}
	if len(c.Origins) == 0 {
		return errors.New("至少需要配置一个 Origin")
	}
	if err := c.validateOrigins(); err != nil {
		return err
	}
	return c.validateWorker()
}

func (c *Config) validateGlobal() error {
	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError(globalField("ListenPort"), "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError(globalField("LogLevel"), fmt.Sprintf("无法识别: %s", g.LogLevel))
		}
	}
	backend := strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if _, ok := supportedBackends[backend]; !ok {
		return newFieldError(globalField("StorageBackend"), "仅支持 "+supportedBackendList)
	}
	if usesPath(backend) && strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError(globalField("StoragePath"), "不能为空")
	}
	if backend == cache.BackendRedis && strings.TrimSpace(g.RedisAddr) == "" {
		return newFieldError(globalField("RedisAddr"), "redis 后端必须配置地址")
	}
	if g.RedisDB < 0 {
		return newFieldError(globalField("RedisDB"), "不能为负数")
	}
	if g.MaxRetries < 0 {
		return newFieldError(globalField("MaxRetries"), "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError(globalField("InitialBackoff"), "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError(globalField("UpstreamTimeout"), "必须大于 0")
	}
	return nil
}

func (c *Config) validateOrigins() error {
	seenNames := map[string]struct{}{}
	seenDomains := map[string]struct{}{}
	for i := range c.Origins {
		origin := &c.Origins[i]
		if origin.Name == "" {
			return newFieldError(originField("", "Name"), "不能为空")
		}
		if _, exists := seenNames[origin.Name]; exists {
			return newFieldError(originField(origin.Name, "Name"), "重复")
		}
		seenNames[origin.Name] = struct{}{}

		if err := validateDomain(origin.Domain); err != nil {
			return wrapFieldError(originField(origin.Name, "Domain"), err)
		}
		domain := strings.ToLower(origin.Domain)
		if _, exists := seenDomains[domain]; exists {
			return newFieldError(originField(origin.Name, "Domain"), "重复")
		}
		seenDomains[domain] = struct{}{}

		if err := validateUpstream(origin.Upstream); err != nil {
			return wrapFieldError(originField(origin.Name, "Upstream"), err)
		}
		if origin.Proxy != "" {
			if err := validateUpstream(origin.Proxy); err != nil {
				return wrapFieldError(originField(origin.Name, "Proxy"), err)
			}
		}
	}
	return nil
}

func (c *Config) validateWorker() error {
	w := c.Worker
	if err := cache.ValidateName(w.StaticCache); err != nil {
		return wrapFieldError(workerField("StaticCache"), err)
	}
	if err := cache.ValidateName(w.DynamicCache); err != nil {
		return wrapFieldError(workerField("DynamicCache"), err)
	}
	if w.StaticCache == w.DynamicCache {
		return newFieldError(workerField("DynamicCache"), "不能与 StaticCache 相同")
	}
	for _, suffix := range w.StaticSuffixes {
		if !strings.HasPrefix(strings.TrimSpace(suffix), ".") {
			return newFieldError(workerField("StaticSuffixes"), fmt.Sprintf("后缀需以 . 开头: %q", suffix))
		}
	}
	if _, err := c.WorkerSettings().ResolvedAssets(); err != nil {
		return wrapFieldError(workerField("StaticAssets"), err)
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

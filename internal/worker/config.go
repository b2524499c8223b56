package worker

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Config 描述一代缓存：仓名、静态清单与分类参数。部署新版本时递增仓名即可让旧缓存在激活时被回收。
type Config struct {
	// AppName 是整体版本标识，仅用于日志与诊断，不受激活保护。
	AppName      string
	StaticCache  string
	DynamicCache string
	// Origin 是相对清单条目的解析基准，例如 https://otaku.city。
	Origin         string
	StaticAssets   []string
	StaticSuffixes []string
	SyncTag        string
}

// DefaultConfig 返回站点当前一代的默认值。
func DefaultConfig() Config {
	return Config{
		AppName:        "otaku-city-v1",
		StaticCache:    "static-v1",
		DynamicCache:   "dynamic-v1",
		StaticSuffixes: []string{".css", ".js"},
		SyncTag:        "background-sync",
	}
}

// Validate 检查仓名与清单是否可用。
func (c Config) Validate() error {
	if strings.TrimSpace(c.StaticCache) == "" {
		return errors.New("static cache name required")
	}
	if strings.TrimSpace(c.DynamicCache) == "" {
		return errors.New("dynamic cache name required")
	}
	if c.StaticCache == c.DynamicCache {
		return fmt.Errorf("static and dynamic caches must differ: %s", c.StaticCache)
	}
	if _, err := c.ResolvedAssets(); err != nil {
		return err
	}
	return nil
}

// CurrentCaches 返回激活时需要保留的仓名。
func (c Config) CurrentCaches() []string {
	return []string{c.StaticCache, c.DynamicCache}
}

// ResolvedAssets 将清单解析为去重后的绝对 URL，保持原有顺序。
func (c Config) ResolvedAssets() ([]string, error) {
	var base *url.URL
	if strings.TrimSpace(c.Origin) != "" {
		parsed, err := url.Parse(c.Origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin %s: %w", c.Origin, err)
		}
		base = parsed
	}

	seen := make(map[string]struct{}, len(c.StaticAssets))
	result := make([]string, 0, len(c.StaticAssets))
	for _, raw := range c.StaticAssets {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid static asset %s: %w", raw, err)
		}
		if !ref.IsAbs() {
			if base == nil {
				return nil, fmt.Errorf("static asset %s is relative but no origin is configured", raw)
			}
			ref = base.ResolveReference(ref)
		}
		abs := ref.String()
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		result = append(result, abs)
	}
	return result, nil
}

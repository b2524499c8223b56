package strategy

import (
	"net/url"
	"strings"

	"github.com/any-hub/sw-proxy/internal/cache"
)

// Classifier 持有静态清单与静态后缀，构造后只读，可被并发请求共享。
type Classifier struct {
	manifest map[string]struct{}
	suffixes []string
}

// NewClassifier 以绝对 URL 清单与后缀列表构建分类器，清单会按 cache.Key 规则规范化。
func NewClassifier(manifest []string, suffixes []string) *Classifier {
	c := &Classifier{
		manifest: make(map[string]struct{}, len(manifest)),
	}
	for _, raw := range manifest {
		c.manifest[normalizeURL(raw)] = struct{}{}
	}
	for _, suffix := range suffixes {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			continue
		}
		c.suffixes = append(c.suffixes, suffix)
	}
	return c
}

// Classify 返回请求对应的策略，结果只取决于入参。
func (c *Classifier) Classify(rawURL string, dest Destination) Policy {
	if c.InManifest(rawURL) || c.HasStaticSuffix(rawURL) {
		return PolicyCacheFirst
	}
	if dest == DestinationImage {
		return PolicyNetworkFirstImage
	}
	return PolicyNetworkFirst
}

// InManifest 判断 URL 是否属于静态清单。
func (c *Classifier) InManifest(rawURL string) bool {
	_, ok := c.manifest[normalizeURL(rawURL)]
	return ok
}

// HasStaticSuffix 判断 URL 路径（忽略 query）是否以静态资源后缀结尾。
func (c *Classifier) HasStaticSuffix(rawURL string) bool {
	p := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		p = parsed.Path
	}
	p = strings.ToLower(p)
	for _, suffix := range c.suffixes {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// ManifestSize 返回规范化后的清单条目数量。
func (c *Classifier) ManifestSize() int {
	return len(c.manifest)
}

func normalizeURL(raw string) string {
	if key, err := cache.NewKey("", raw); err == nil {
		return key.String()
	}
	return strings.TrimSpace(raw)
}

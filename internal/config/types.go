package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/sw-proxy/internal/cache"
	"github.com/any-hub/sw-proxy/internal/worker"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级参数：监听端口、日志、缓存后端与上游访问。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StorageBackend  string   `mapstructure:"StorageBackend"`
	StoragePath     string   `mapstructure:"StoragePath"`
	RedisAddr       string   `mapstructure:"RedisAddr"`
	RedisPassword   string   `mapstructure:"RedisPassword"`
	RedisDB         int      `mapstructure:"RedisDB"`
	RedisKeyPrefix  string   `mapstructure:"RedisKeyPrefix"`
	MaxRetries      int      `mapstructure:"MaxRetries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// WorkerConfig 对应 [Worker] 段：缓存代际名称与静态清单。
type WorkerConfig struct {
	AppName        string   `mapstructure:"AppName"`
	StaticCache    string   `mapstructure:"StaticCache"`
	DynamicCache   string   `mapstructure:"DynamicCache"`
	SyncTag        string   `mapstructure:"SyncTag"`
	StaticSuffixes []string `mapstructure:"StaticSuffixes"`
	StaticAssets   []string `mapstructure:"StaticAssets"`
}

// OriginConfig 描述一个被代理的站点：下游 Host 与真实上游。
type OriginConfig struct {
	Name     string `mapstructure:"Name"`
	Domain   string `mapstructure:"Domain"`
	Upstream string `mapstructure:"Upstream"`
	Proxy    string `mapstructure:"Proxy"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Worker  WorkerConfig   `mapstructure:"Worker"`
	Origins []OriginConfig `mapstructure:"Origin"`
}

// PrimaryOrigin 返回第一个 Origin 的上游地址，相对清单条目以它为基准解析。
func (c *Config) PrimaryOrigin() string {
	if c == nil || len(c.Origins) == 0 {
		return ""
	}
	return c.Origins[0].Upstream
}

// WorkerSettings 将配置转换为 worker.Config。
func (c *Config) WorkerSettings() worker.Config {
	w := c.Worker
	return worker.Config{
		AppName:        w.AppName,
		StaticCache:    w.StaticCache,
		DynamicCache:   w.DynamicCache,
		Origin:         c.PrimaryOrigin(),
		StaticAssets:   append([]string(nil), w.StaticAssets...),
		StaticSuffixes: append([]string(nil), w.StaticSuffixes...),
		SyncTag:        w.SyncTag,
	}
}

// StorageOptions 将全局缓存配置转换为 cache.Options。
func (c *Config) StorageOptions() cache.Options {
	g := c.Global
	return cache.Options{
		Backend:       g.StorageBackend,
		Path:          g.StoragePath,
		RedisAddr:     g.RedisAddr,
		RedisPassword: g.RedisPassword,
		RedisDB:       g.RedisDB,
		RedisPrefix:   g.RedisKeyPrefix,
	}
}

// RetryPolicy 返回安装阶段的重试参数，MaxRetries 为额外重试次数。
func (c *Config) RetryPolicy() worker.RetryPolicy {
	policy := worker.DefaultRetryPolicy()
	policy.MaxAttempts = c.Global.MaxRetries + 1
	policy.InitialBackoff = c.Global.InitialBackoff.DurationValue()
	return policy
}

// OriginNames 返回所有 Origin 的 name:domain 摘要，供启动日志使用。
func OriginNames(origins []OriginConfig) []string {
	if len(origins) == 0 {
		return nil
	}
	result := make([]string, len(origins))
	for i, origin := range origins {
		result[i] = fmt.Sprintf("%s:%s", origin.Name, origin.Domain)
	}
	return result
}

package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/sw-proxy/internal/cache"
	"github.com/any-hub/sw-proxy/internal/worker"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectOriginLevelPorts(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyWorkerDefaults(&cfg.Worker)
	for i := range cfg.Origins {
		applyOriginDefaults(&cfg.Origins[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if usesPath(cfg.Global.StorageBackend) {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := worker.DefaultConfig()

	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageBackend", cache.BackendFS)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("RedisAddr", "127.0.0.1:6379")
	v.SetDefault("RedisDB", 0)
	v.SetDefault("RedisKeyPrefix", "swproxy:")
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("UpstreamTimeout", "30s")

	v.SetDefault("Worker.AppName", defaults.AppName)
	v.SetDefault("Worker.StaticCache", defaults.StaticCache)
	v.SetDefault("Worker.DynamicCache", defaults.DynamicCache)
	v.SetDefault("Worker.SyncTag", defaults.SyncTag)
	v.SetDefault("Worker.StaticSuffixes", defaults.StaticSuffixes)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.StorageBackend == "" {
		g.StorageBackend = cache.BackendFS
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyWorkerDefaults(w *WorkerConfig) {
	defaults := worker.DefaultConfig()
	w.AppName = strings.TrimSpace(w.AppName)
	w.StaticCache = strings.TrimSpace(w.StaticCache)
	w.DynamicCache = strings.TrimSpace(w.DynamicCache)
	if w.AppName == "" {
		w.AppName = defaults.AppName
	}
	if w.StaticCache == "" {
		w.StaticCache = defaults.StaticCache
	}
	if w.DynamicCache == "" {
		w.DynamicCache = defaults.DynamicCache
	}
	if strings.TrimSpace(w.SyncTag) == "" {
		w.SyncTag = defaults.SyncTag
	}
	if len(w.StaticSuffixes) == 0 {
		w.StaticSuffixes = defaults.StaticSuffixes
	}
}

func applyOriginDefaults(o *OriginConfig) {
	o.Domain = strings.ToLower(strings.TrimSpace(o.Domain))
	o.Upstream = strings.TrimRight(strings.TrimSpace(o.Upstream), "/")
}

func usesPath(backend string) bool {
	return backend == cache.BackendFS || backend == cache.BackendBadger
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectOriginLevelPorts 拒绝在 [[Origin]] 中单独配置端口，所有站点共用 ListenPort。
func rejectOriginLevelPorts(v *viper.Viper) error {
	raw := v.Get("Origin")
	origins, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range origins {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if _, exists := lookupKey(m, "Port"); exists {
			name := fmt.Sprintf("#%d", idx)
			if rawName, ok := lookupKey(m, "Name"); ok {
				if str, ok := rawName.(string); ok && str != "" {
					name = str
				}
			}
			return newFieldError(originField(name, "Port"), "不支持单独端口，请使用全局 ListenPort")
		}
	}

	return nil
}

// lookupKey 以不区分大小写的方式读取 viper 解析出的表字段。
func lookupKey(m map[string]interface{}, key string) (interface{}, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

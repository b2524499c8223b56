package config

import (
	"errors"
	"testing"
	"time"

	"github.com/any-hub/sw-proxy/internal/cache"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.ListenPort != 5000 {
		t.Fatalf("ListenPort 应当被解析, got %d", cfg.Global.ListenPort)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 10*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %v", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.InitialBackoff.DurationValue() != time.Second {
		t.Fatalf("InitialBackoff 应该使用默认值")
	}
	if cfg.Worker.AppName != "otaku-city-v1" || cfg.Worker.SyncTag != "background-sync" {
		t.Fatalf("Worker 默认值缺失: %+v", cfg.Worker)
	}
	if len(cfg.Worker.StaticSuffixes) != 2 {
		t.Fatalf("StaticSuffixes 应使用默认值: %v", cfg.Worker.StaticSuffixes)
	}
	if len(cfg.Origins) != 2 || cfg.PrimaryOrigin() != "https://otaku.city" {
		t.Fatalf("Origin 解析错误: %+v", cfg.Origins)
	}
}

func TestWorkerSettingsResolvesManifest(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	settings := cfg.WorkerSettings()
	assets, err := settings.ResolvedAssets()
	if err != nil {
		t.Fatalf("ResolvedAssets: %v", err)
	}
	if assets[0] != "https://otaku.city/" || assets[2] != "https://otaku.city/css/style.min.css" {
		t.Fatalf("相对清单应以首个 Origin 解析: %v", assets)
	}
	if assets[len(assets)-1] != "https://i.ibb.co/5fx7ydb/OC.png" {
		t.Fatalf("绝对清单条目应保持不变: %v", assets)
	}
}

func TestRetryPolicyFromGlobal(t *testing.T) {
	cfg := validConfig()
	cfg.Global.MaxRetries = 4
	cfg.Global.InitialBackoff = Duration(250 * time.Millisecond)
	policy := cfg.RetryPolicy()
	if policy.MaxAttempts != 5 {
		t.Fatalf("MaxAttempts 应为 MaxRetries+1, got %d", policy.MaxAttempts)
	}
	if policy.InitialBackoff != 250*time.Millisecond {
		t.Fatalf("InitialBackoff 未生效: %v", policy.InitialBackoff)
	}
}

func TestValidateRejectsBadOrigin(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestStorageBackendValidation(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		path      string
		redisAddr string
		shouldErr bool
	}{
		{"fs ok", cache.BackendFS, "./data", "", false},
		{"badger ok", cache.BackendBadger, "./data", "", false},
		{"memory ignores path", cache.BackendMemory, "", "", false},
		{"redis ok", cache.BackendRedis, "", "127.0.0.1:6379", false},
		{"redis without addr", cache.BackendRedis, "", "", true},
		{"fs without path", cache.BackendFS, "", "", true},
		{"unsupported", "s3", "./data", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StorageBackend = tc.backend
			cfg.Global.StoragePath = tc.path
			cfg.Global.RedisAddr = tc.redisAddr
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for backend %q", tc.backend)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for backend %q: %v", tc.backend, err)
			}
		})
	}
}

func TestValidateWorkerNames(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.DynamicCache = cfg.Worker.StaticCache
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Worker.DynamicCache" {
		t.Fatalf("相同的缓存仓名应返回 FieldError, got %v", err)
	}

	cfg = validConfig()
	cfg.Worker.StaticCache = "../static"
	err = cfg.Validate()
	if !errors.Is(err, cache.ErrInvalidName) {
		t.Fatalf("带路径的缓存仓名应包装 ErrInvalidName, got %v", err)
	}
	if fieldErr, ok := AsFieldError(err); !ok || fieldErr.Field != "Worker.StaticCache" {
		t.Fatalf("错误应定位到 Worker.StaticCache, got %v", err)
	}

	cfg = validConfig()
	cfg.Worker.StaticSuffixes = []string{"css"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("缺少 . 的后缀应报错")
	}
}

func TestValidateRejectsDuplicateDomains(t *testing.T) {
	cfg := validConfig()
	cfg.Origins = append(cfg.Origins, OriginConfig{
		Name:     "mirror",
		Domain:   "OTAKU.local",
		Upstream: "https://mirror.otaku.city",
	})
	if err := cfg.Validate(); err == nil {
		t.Fatalf("大小写不同的重复 Domain 也应报错")
	}
}

func TestValidateRejectsBadProxy(t *testing.T) {
	cfg := validConfig()
	cfg.Origins[0].Proxy = "socks5://127.0.0.1:1080"
	err := cfg.Validate()
	fieldErr, ok := AsFieldError(err)
	if !ok || fieldErr.Field != "Origin[site].Proxy" || fieldErr.Err == nil {
		t.Fatalf("非 http 代理应返回带原因的 FieldError, got %v", err)
	}
}

func TestOriginNames(t *testing.T) {
	names := OriginNames(validConfig().Origins)
	if len(names) != 1 || names[0] != "site:otaku.local" {
		t.Fatalf("unexpected origin names: %v", names)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StorageBackend:  cache.BackendFS,
			StoragePath:     "./data",
			MaxRetries:      1,
			InitialBackoff:  Duration(time.Second),
			UpstreamTimeout: Duration(time.Second),
		},
		Worker: WorkerConfig{
			AppName:        "otaku-city-v1",
			StaticCache:    "static-v1",
			DynamicCache:   "dynamic-v1",
			SyncTag:        "background-sync",
			StaticSuffixes: []string{".css", ".js"},
			StaticAssets:   []string{"/", "/css/style.min.css"},
		},
		Origins: []OriginConfig{
			{
				Name:     "site",
				Domain:   "otaku.local",
				Upstream: "https://otaku.city",
			},
		},
	}
}

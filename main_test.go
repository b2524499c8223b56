package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/sw-proxy/internal/config"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("SW_PROXY_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "sw-proxy") {
		t.Fatalf("version 输出应包含 sw-proxy 标识")
	}
}

func TestParseCLIFlagsDefaultPath(t *testing.T) {
	t.Setenv("SW_PROXY_CONFIG", "")

	opts, err := parseCLIFlags([]string{"-check-config"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" || !opts.checkOnly {
		t.Fatalf("默认配置路径或 check-config 标志错误: %+v", opts)
	}
	if _, err := parseCLIFlags([]string{"-unknown"}); err == nil {
		t.Fatalf("未知标志应返回错误")
	}
}

func TestRunCheckConfigReportsLoadError(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: filepath.Join(t.TempDir(), "absent.toml"), checkOnly: true})
	if code != 1 {
		t.Fatalf("缺失配置应返回退出码 1，得到 %d", code)
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("stderr 应包含加载失败提示，得到 %s", stdErrBuffer().String())
	}
}

func TestBuildServerWiresDiagnosticsAndProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("upstream:" + r.URL.Path))
	}))
	defer upstream.Close()

	configPath := writeConfigFile(t, fmt.Sprintf(`
ListenPort = 5000
StorageBackend = "memory"

[Worker]
StaticAssets = ["/", "/css/style.min.css"]

[[Origin]]
Name = "site"
Domain = "otaku.local"
Upstream = "%s"
`, upstream.URL))

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv, err := buildServer(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("装配服务失败: %v", err)
	}
	defer srv.close()

	req := httptest.NewRequest(http.MethodGet, "http://otaku.local/css/style.min.css", nil)
	req.Host = "otaku.local"
	resp, err := srv.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if got := resp.Header.Get("X-Sw-Policy"); got != "bypass" {
		t.Fatalf("激活前应直连上游，得到策略 %s", got)
	}

	if _, err := srv.worker.Start(context.Background(), cfg.RetryPolicy()); err != nil {
		t.Fatalf("worker 启动失败: %v", err)
	}

	resp, err = srv.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "upstream:/css/style.min.css" || resp.Header.Get("X-Sw-Cache-Hit") != "true" {
		t.Fatalf("激活后应命中静态缓存: %s hit=%s", body, resp.Header.Get("X-Sw-Cache-Hit"))
	}

	resp, err = srv.app.Test(httptest.NewRequest(http.MethodGet, "http://127.0.0.1:5000/-/lifecycle", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"state":"activated"`) {
		t.Fatalf("诊断接口应报告已激活，得到 %s", body)
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/sw-proxy/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 不受目录权限限制")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "sw-proxy.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sw-proxy.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.WithField("action", "startup").Info("test")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("日志应为单行 JSON: %v (%s)", err, data)
	}
	if entry["service"] != "sw-proxy" || entry["message"] != "test" || entry["action"] != "startup" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if _, ok := entry["version"]; !ok {
		t.Fatalf("日志应包含 version 字段: %v", entry)
	}
}

func TestBuildOutputAppliesRotationDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sw-proxy.log")
	out, err := buildOutput(config.GlobalConfig{LogFilePath: path})
	if err != nil {
		t.Fatalf("buildOutput 失败: %v", err)
	}
	rotator, ok := out.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("expected lumberjack writer, got %T", out)
	}
	if rotator.MaxSize != defaultMaxSizeMB || rotator.MaxBackups != defaultMaxBackups {
		t.Fatalf("rotation defaults not applied: %+v", rotator)
	}
}

func TestRequestFields(t *testing.T) {
	fields := RequestFields("site", "otaku.local", "cache-first", true)
	if fields["origin"] != "site" || fields["domain"] != "otaku.local" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fields["policy"] != "cache-first" || fields["cache_hit"] != true {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "loud"}); err == nil {
		t.Fatalf("未知日志级别应报错")
	}
}

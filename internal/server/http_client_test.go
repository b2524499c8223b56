package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/any-hub/sw-proxy/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(5 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 5*time.Second {
		t.Fatalf("expected timeout 5s, got %s", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.ResponseHeaderTimeout != 5*time.Second {
		t.Fatalf("header timeout should be capped by client timeout, got %s", transport.ResponseHeaderTimeout)
	}
	if transport == defaultTransport {
		t.Fatalf("client must not share the package transport")
	}
}

func TestNewUpstreamClientDefaultsTimeout(t *testing.T) {
	if got := NewUpstreamClient(nil).Timeout; got != defaultUpstreamTimeout {
		t.Fatalf("expected default timeout, got %s", got)
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive, X-Session-Hint")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Session-Hint", "abc")
	src.Add("Cache-Control", "max-age=60")
	src.Add("x-test-header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	for _, key := range []string{"Connection", "Keep-Alive", "X-Session-Hint"} {
		if _, exists := dst[key]; exists {
			t.Fatalf("%s should not be copied", key)
		}
	}
	if got := dst.Values("X-Test-Header"); len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
	if dst.Get("Cache-Control") != "max-age=60" {
		t.Fatalf("end-to-end header lost")
	}
}

func TestCopyResponseHeadersDropsContentLength(t *testing.T) {
	src := http.Header{}
	src.Set("Content-Length", "42")
	src.Set("Content-Type", "text/css")

	dst := http.Header{}
	CopyResponseHeaders(dst, src)
	if dst.Get("Content-Length") != "" || dst.Get("Content-Type") != "text/css" {
		t.Fatalf("unexpected response headers: %v", dst)
	}
}

func TestUserAgent(t *testing.T) {
	if ua := UserAgent(); !strings.HasPrefix(ua, "sw-proxy/") {
		t.Fatalf("unexpected user agent %s", ua)
	}
}

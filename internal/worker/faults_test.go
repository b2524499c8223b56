package worker

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"

	"github.com/any-hub/sw-proxy/internal/cache"
	"github.com/any-hub/sw-proxy/internal/strategy"
)

var errDisk = errors.New("disk unavailable")

// faultyStorage 包装真实存储，按需让删除、打开或写入失败。
type faultyStorage struct {
	cache.Storage

	mu         sync.Mutex
	failDelete map[string]bool
	failOpen   bool
	failPut    bool
	putErrors  int
}

func (s *faultyStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	fail := s.failDelete[name]
	s.mu.Unlock()
	if fail {
		return false, errDisk
	}
	return s.Storage.Delete(ctx, name)
}

func (s *faultyStorage) Open(ctx context.Context, name string) (cache.Cache, error) {
	s.mu.Lock()
	fail := s.failOpen
	s.mu.Unlock()
	if fail {
		return nil, errDisk
	}
	c, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &faultyCache{Cache: c, owner: s}, nil
}

func (s *faultyStorage) set(fn func(s *faultyStorage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

type faultyCache struct {
	cache.Cache
	owner *faultyStorage
}

func (c *faultyCache) Put(ctx context.Context, key cache.Key, resp *cache.Response) error {
	c.owner.mu.Lock()
	fail := c.owner.failPut
	if fail {
		c.owner.putErrors++
	}
	c.owner.mu.Unlock()
	if fail {
		return errDisk
	}
	return c.Cache.Put(ctx, key, resp)
}

func newFaultyWorker(t *testing.T, cfg Config, fetcher Fetcher) (*Worker, *faultyStorage) {
	t.Helper()
	inner, err := cache.NewMemoryStorage()
	if err != nil {
		t.Fatalf("memory storage: %v", err)
	}
	t.Cleanup(func() { inner.Close() })
	storage := &faultyStorage{Storage: inner, failDelete: map[string]bool{}}
	w, err := New(cfg, storage, fetcher, newTestLogger())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	t.Cleanup(w.Wait)
	return w, storage
}

func TestActivateIsolatesDeleteFailures(t *testing.T) {
	network := newFakeNetwork()
	network.serve("https://otaku.city/a.css", http.StatusOK, "a")
	w, storage := newFaultyWorker(t, testConfig("/a.css"), network)
	ctx := context.Background()

	for _, name := range []string{"static-v0", "locked-v0", "dynamic-v0"} {
		if _, err := storage.Open(ctx, name); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}
	storage.set(func(s *faultyStorage) { s.failDelete["locked-v0"] = true })

	if err := w.Install(ctx); err != nil {
		t.Fatalf("install: %v", err)
	}
	report, err := w.Activate(ctx)
	if err != nil {
		t.Fatalf("activate should not fail on a single store: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed["locked-v0"] == "" {
		t.Fatalf("expected only locked-v0 to fail, got %+v", report.Failed)
	}
	if len(report.Deleted) != 2 || report.Deleted[0] != "dynamic-v0" || report.Deleted[1] != "static-v0" {
		t.Fatalf("other stale stores should still be deleted, got %v", report.Deleted)
	}
	if !w.Controlling() {
		t.Fatalf("worker should control requests despite a failed delete")
	}

	names, err := storage.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "locked-v0" || names[1] != "static-v1" {
		t.Fatalf("unexpected remaining stores: %v", names)
	}

	// 故障解除后再次激活即可清理。
	storage.set(func(s *faultyStorage) { s.failDelete["locked-v0"] = false })
	report, err = w.Activate(ctx)
	if err != nil {
		t.Fatalf("second activate: %v", err)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != "locked-v0" || len(report.Failed) != 0 {
		t.Fatalf("second activation should clean up locked-v0, got %+v", report)
	}
}

func TestFetchSurvivesCacheWriteFailures(t *testing.T) {
	const (
		scriptURL = "https://otaku.city/js/app.js"
		imageURL  = "https://otaku.city/img/OCT.png"
	)
	cases := []struct {
		name   string
		inject func(s *faultyStorage)
	}{
		{name: "open", inject: func(s *faultyStorage) { s.failOpen = true }},
		{name: "put", inject: func(s *faultyStorage) { s.failPut = true }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			network := newFakeNetwork()
			network.serve(scriptURL, http.StatusOK, "console.log(1)")
			network.serve(imageURL, http.StatusOK, "png")
			w, storage := newFaultyWorker(t, testConfig(), network)
			mustActivate(t, w)
			storage.set(tc.inject)
			ctx := context.Background()

			result, err := w.Fetch(ctx, &Request{Method: http.MethodGet, URL: scriptURL})
			if err != nil {
				t.Fatalf("cache-first fetch should return the network response: %v", err)
			}
			if result.FromCache || result.Policy != strategy.PolicyCacheFirst || string(result.Response.Body) != "console.log(1)" {
				t.Fatalf("unexpected cache-first result %+v", result)
			}

			result, err = w.Fetch(ctx, &Request{Method: http.MethodGet, URL: imageURL, Destination: strategy.DestinationImage})
			if err != nil {
				t.Fatalf("image fetch should return the network response: %v", err)
			}
			if result.FromCache || string(result.Response.Body) != "png" {
				t.Fatalf("unexpected image result %+v", result)
			}
			w.Wait()

			if tc.name == "put" {
				storage.mu.Lock()
				attempts := storage.putErrors
				storage.mu.Unlock()
				if attempts != 2 {
					t.Fatalf("expected both writes to be attempted and fail, got %d", attempts)
				}
			}
			for _, key := range []string{scriptURL, imageURL} {
				if _, err := storage.Storage.Match(ctx, cache.MustKey(key)); !errors.Is(err, cache.ErrNotFound) {
					t.Fatalf("failed write must not be cached for %s, got %v", key, err)
				}
			}
		})
	}
}

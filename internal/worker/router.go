package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/sw-proxy/internal/cache"
	"github.com/any-hub/sw-proxy/internal/strategy"
)

// Fetch 按分类结果选择策略处理请求。网络失败且无缓存时返回包装 ErrNotCached 的错误，
// 非 GET 请求不会读写缓存。
func (w *Worker) Fetch(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	policy := w.classifier.Classify(req.URL, req.Destination)
	started := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(string(policy)).Observe(time.Since(started).Seconds())
	}()

	key, keyErr := cache.NewKey(req.Method, req.URL)
	if keyErr != nil {
		// 无法作为缓存键的请求只走网络。
		resp, err := w.fetcher.Fetch(ctx, req)
		return w.finishFetch(policy, resp, false, err)
	}

	var (
		result *Result
		err    error
	)
	switch policy {
	case strategy.PolicyCacheFirst:
		result, err = w.cacheFirst(ctx, req, key)
	case strategy.PolicyNetworkFirstImage:
		result, err = w.networkFirst(ctx, req, key, true)
	default:
		result, err = w.networkFirst(ctx, req, key, false)
	}
	if err != nil {
		fetchTotal.WithLabelValues(string(policy), "error").Inc()
		return nil, err
	}
	result.Policy = policy
	fetchTotal.WithLabelValues(string(policy), source(result.FromCache)).Inc()
	return result, nil
}

// Bypass 未接管阶段使用：直接走网络，不读写缓存。
func (w *Worker) Bypass(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	resp, err := w.fetcher.Fetch(ctx, req)
	return w.finishFetch(PolicyBypass, resp, false, err)
}

func (w *Worker) finishFetch(policy strategy.Policy, resp *cache.Response, fromCache bool, err error) (*Result, error) {
	if err != nil {
		fetchTotal.WithLabelValues(string(policy), "error").Inc()
		return nil, err
	}
	fetchTotal.WithLabelValues(string(policy), source(fromCache)).Inc()
	return &Result{Response: resp, Policy: policy, FromCache: fromCache}, nil
}

func (w *Worker) cacheFirst(ctx context.Context, req *Request, key cache.Key) (*Result, error) {
	if cached, err := w.storage.Match(ctx, key); err == nil {
		return &Result{Response: cached, FromCache: true}, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		w.logger.WithFields(w.fields("cache_first")).WithError(err).WithField("key", key.String()).Warn("cache_match_failed")
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotCached, err)
	}
	w.store(ctx, w.cfg.StaticCache, key, resp)
	return &Result{Response: resp}, nil
}

func (w *Worker) networkFirst(ctx context.Context, req *Request, key cache.Key, image bool) (*Result, error) {
	resp, netErr := w.fetcher.Fetch(ctx, req)
	if netErr == nil {
		if image && resp.OK() {
			clone := resp.Clone()
			// 请求结束后写入仍需完成。
			bg := context.WithoutCancel(ctx)
			w.background.Go(func() {
				w.store(bg, w.cfg.DynamicCache, key, clone)
			})
		}
		return &Result{Response: resp}, nil
	}

	cached, err := w.storage.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			w.logger.WithFields(w.fields("fallback")).WithError(err).WithField("key", key.String()).Warn("cache_match_failed")
		}
		return nil, fmt.Errorf("%w: %w", ErrNotCached, netErr)
	}
	w.logger.WithFields(w.fields("fallback")).WithError(netErr).WithField("key", key.String()).Debug("network_failed_served_from_cache")
	return &Result{Response: cached, FromCache: true}, nil
}

// store 是尽力而为的缓存写入，失败只记日志。
func (w *Worker) store(ctx context.Context, name string, key cache.Key, resp *cache.Response) {
	logger := w.logger.WithFields(logrus.Fields{
		"action": "cache_put",
		"store":  name,
		"key":    key.String(),
	})
	c, err := w.storage.Open(ctx, name)
	if err != nil {
		logger.WithError(err).Warn("cache_open_failed")
		return
	}
	if err := c.Put(ctx, key, resp); err != nil {
		if errors.Is(err, cache.ErrPartialResponse) {
			logger.Debug("cache_put_skipped_partial")
			return
		}
		logger.WithError(err).Warn("cache_put_failed")
	}
}

func source(fromCache bool) string {
	if fromCache {
		return "cache"
	}
	return "network"
}


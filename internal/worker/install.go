package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/any-hub/sw-proxy/internal/cache"
)

// Install 并行拉取整个静态清单，全部成功后一次性写入静态缓存仓。
// 任一资源网络失败或返回非 2xx，都不会写入任何条目，并返回包装 ErrInstallFailed 的错误。
func (w *Worker) Install(ctx context.Context) error {
	prev, err := w.begin(StateInstalling)
	if err != nil {
		return err
	}

	started := w.now()
	logger := w.logger.WithFields(w.fields("install"))
	logger.WithField("manifest_size", len(w.assets)).Info("install_start")

	if err := w.populateStatic(ctx); err != nil {
		w.finish(prev, err)
		lifecycleEvents.WithLabelValues("install", "error").Inc()
		logger.WithError(err).Warn("install_failed")
		return err
	}

	// 安装成功后立即可激活，不等待旧版本释放。
	w.finish(StateInstalled, nil)
	lifecycleEvents.WithLabelValues("install", "ok").Inc()
	logger.WithField("elapsed_ms", time.Since(started).Milliseconds()).Info("install_complete")
	return nil
}

func (w *Worker) populateStatic(ctx context.Context) error {
	entries := make([]cache.Entry, len(w.assets))

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, asset := range w.assets {
		p.Go(func(ctx context.Context) error {
			key, err := cache.NewKey(http.MethodGet, asset)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInstallFailed, asset, err)
			}
			resp, err := w.fetcher.Fetch(ctx, &Request{Method: http.MethodGet, URL: asset})
			if err != nil {
				return fmt.Errorf("%w: fetch %s: %w", ErrInstallFailed, asset, err)
			}
			if !resp.OK() {
				return fmt.Errorf("%w: fetch %s: status %d", ErrInstallFailed, asset, resp.Status)
			}
			entries[i] = cache.Entry{Key: key, Response: resp}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	store, err := w.storage.Open(ctx, w.cfg.StaticCache)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrInstallFailed, w.cfg.StaticCache, err)
	}
	if err := store.PutAll(ctx, entries); err != nil {
		return fmt.Errorf("%w: populate %s: %w", ErrInstallFailed, w.cfg.StaticCache, err)
	}
	return nil
}

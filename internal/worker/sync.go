package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RegisterSync 为 tag 注册同步处理器，已存在时覆盖。
func (w *Worker) RegisterSync(tag string, fn SyncFunc) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return errors.New("sync tag is required")
	}
	if fn == nil {
		return errors.New("sync handler is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncHandlers[tag] = fn
	return nil
}

// SyncTags 返回已注册的 tag，按字典序排列。
func (w *Worker) SyncTags() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	tags := make([]string, 0, len(w.syncHandlers))
	for tag := range w.syncHandlers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Sync 触发 tag 对应的同步处理器。
func (w *Worker) Sync(ctx context.Context, tag string) error {
	w.mu.RLock()
	fn, ok := w.syncHandlers[strings.TrimSpace(tag)]
	w.mu.RUnlock()
	if !ok {
		lifecycleEvents.WithLabelValues("sync", "unknown").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownSyncTag, tag)
	}

	started := time.Now()
	logger := w.logger.WithFields(w.fields("sync")).WithField("tag", tag)
	if err := fn(ctx); err != nil {
		lifecycleEvents.WithLabelValues("sync", "error").Inc()
		logger.WithError(err).Warn("sync_failed")
		return err
	}
	lifecycleEvents.WithLabelValues("sync", "ok").Inc()
	logger.WithField("elapsed_ms", time.Since(started).Milliseconds()).Info("sync_complete")
	return nil
}

// recoverOffline 是默认同步处理器，目前没有需要补发的离线操作。
func recoverOffline(context.Context) error {
	return nil
}

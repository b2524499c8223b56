package worker

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

// ActivationReport 汇总一次激活中各缓存仓的去向。
type ActivationReport struct {
	Kept    []string          `json:"kept"`
	Deleted []string          `json:"deleted"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Activate 删除所有非当前代的缓存仓后接管请求。单个仓删除失败只记录，不影响其它仓，
// 也不阻止接管；重复激活是安全的。
func (w *Worker) Activate(ctx context.Context) (ActivationReport, error) {
	var report ActivationReport

	prev, err := w.begin(StateActivating, StateInstalled, StateActivated)
	if err != nil {
		return report, err
	}
	logger := w.logger.WithFields(w.fields("activate"))

	names, err := w.storage.Names(ctx)
	if err != nil {
		w.finish(prev, err)
		lifecycleEvents.WithLabelValues("activate", "error").Inc()
		logger.WithError(err).Warn("activate_list_failed")
		return report, err
	}

	current := make(map[string]struct{}, 2)
	for _, name := range w.cfg.CurrentCaches() {
		current[name] = struct{}{}
	}

	var (
		mu    sync.Mutex
		stale []string
	)
	p := pool.New().WithErrors()
	for _, name := range names {
		if _, ok := current[name]; ok {
			report.Kept = append(report.Kept, name)
			continue
		}
		stale = append(stale, name)
		p.Go(func() error {
			_, err := w.storage.Delete(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if report.Failed == nil {
					report.Failed = make(map[string]string)
				}
				report.Failed[name] = err.Error()
				logger.WithError(err).WithField("store", name).Warn("cache_delete_failed")
				return err
			}
			report.Deleted = append(report.Deleted, name)
			logger.WithField("store", name).Info("cache_deleted")
			return nil
		})
	}
	// 单仓失败已记入 report，这里不再向上返回。
	_ = p.Wait()
	sort.Strings(report.Deleted)

	w.finish(StateActivated, nil)
	lifecycleEvents.WithLabelValues("activate", "ok").Inc()
	logger.WithFields(logrus.Fields{
		"stale":   len(stale),
		"deleted": len(report.Deleted),
		"failed":  len(report.Failed),
	}).Info("activate_complete")
	return report, nil
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/any-hub/sw-proxy/internal/cache"
	"github.com/any-hub/sw-proxy/internal/strategy"
)

// State 是 worker 生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
)

// SyncFunc 是后台同步处理器。
type SyncFunc func(ctx context.Context) error

// Worker 串联 install → activate → fetch 全流程。缓存仓由 Storage 负责并发安全，
// Worker 自身只保护生命周期状态与同步处理器表。
type Worker struct {
	cfg        Config
	assets     []string
	storage    cache.Storage
	fetcher    Fetcher
	classifier *strategy.Classifier
	logger     *logrus.Logger
	now        func() time.Time

	mu           sync.RWMutex
	state        State
	installedAt  time.Time
	activatedAt  time.Time
	lastErr      error
	syncHandlers map[string]SyncFunc

	background conc.WaitGroup
}

// New 校验配置并构建 Worker，初始状态为 parsed，尚未接管任何请求。
func New(cfg Config, storage cache.Storage, fetcher Fetcher, logger *logrus.Logger) (*Worker, error) {
	if storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	assets, err := cfg.ResolvedAssets()
	if err != nil {
		return nil, err
	}

	w := &Worker{
		cfg:          cfg,
		assets:       assets,
		storage:      storage,
		fetcher:      fetcher,
		classifier:   strategy.NewClassifier(assets, cfg.StaticSuffixes),
		logger:       logger,
		now:          time.Now,
		state:        StateParsed,
		syncHandlers: make(map[string]SyncFunc),
	}
	if tag := strings.TrimSpace(cfg.SyncTag); tag != "" {
		w.syncHandlers[tag] = recoverOffline
	}
	return w, nil
}

// Config 返回构造时使用的配置副本。
func (w *Worker) Config() Config {
	return w.cfg
}

// Assets 返回解析后的静态清单。
func (w *Worker) Assets() []string {
	return append([]string(nil), w.assets...)
}

// Classifier exposes the request classifier.
func (w *Worker) Classifier() *strategy.Classifier {
	return w.classifier
}

// Storage exposes the cache storage backing this worker.
func (w *Worker) Storage() cache.Storage {
	return w.storage
}

// Controlling 表示激活已完成，请求应交由 Fetch 路由。
func (w *Worker) Controlling() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state == StateActivated
}

// Status 是供诊断端输出的生命周期快照。
type Status struct {
	AppName      string    `json:"app_name"`
	StaticCache  string    `json:"static_cache"`
	DynamicCache string    `json:"dynamic_cache"`
	State        State     `json:"state"`
	Controlling  bool      `json:"controlling"`
	ManifestSize int       `json:"manifest_size"`
	InstalledAt  time.Time `json:"installed_at,omitempty"`
	ActivatedAt  time.Time `json:"activated_at,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Status 返回当前生命周期快照。
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	status := Status{
		AppName:      w.cfg.AppName,
		StaticCache:  w.cfg.StaticCache,
		DynamicCache: w.cfg.DynamicCache,
		State:        w.state,
		Controlling:  w.state == StateActivated,
		ManifestSize: len(w.assets),
		InstalledAt:  w.installedAt,
		ActivatedAt:  w.activatedAt,
	}
	if w.lastErr != nil {
		status.LastError = w.lastErr.Error()
	}
	return status
}

// Wait 等待所有后台缓存写入结束，通常在关闭前或测试中调用。
func (w *Worker) Wait() {
	w.background.Wait()
}

// begin 切换到过渡状态并返回之前的状态，已有过渡进行中时返回 ErrLifecycleBusy。
func (w *Worker) begin(next State, allowed ...State) (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.state
	if prev == StateInstalling || prev == StateActivating {
		return prev, ErrLifecycleBusy
	}
	if len(allowed) > 0 {
		ok := false
		for _, s := range allowed {
			if prev == s {
				ok = true
				break
			}
		}
		if !ok {
			return prev, fmt.Errorf("%w: state %s", ErrNotInstalled, prev)
		}
	}
	w.state = next
	return prev, nil
}

func (w *Worker) finish(state State, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
	w.lastErr = err
	switch {
	case err != nil:
	case state == StateInstalled:
		w.installedAt = w.now().UTC()
	case state == StateActivated:
		w.activatedAt = w.now().UTC()
	}
}

func (w *Worker) fields(action string) logrus.Fields {
	return logrus.Fields{
		"action":        action,
		"app":           w.cfg.AppName,
		"static_cache":  w.cfg.StaticCache,
		"dynamic_cache": w.cfg.DynamicCache,
	}
}

package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy 控制 Start 中安装失败后的重试节奏。
type RetryPolicy struct {
	// MaxAttempts 包含首次尝试，<=0 表示一直重试直到 ctx 取消。
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy 返回默认重试参数。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Start 依次执行安装与激活。安装失败按 RetryPolicy 指数退避重试，
// 激活只在安装成功后执行一次。
func (w *Worker) Start(ctx context.Context, policy RetryPolicy) (ActivationReport, error) {
	if err := w.installWithRetry(ctx, policy); err != nil {
		return ActivationReport{}, err
	}
	return w.Activate(ctx)
}

func (w *Worker) installWithRetry(ctx context.Context, policy RetryPolicy) error {
	backoff := policy.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	multiplier := policy.Multiplier
	if multiplier < 1 {
		multiplier = 2.0
	}

	var lastErr error
	for attempt := 1; policy.MaxAttempts <= 0 || attempt <= policy.MaxAttempts; attempt++ {
		err := w.Install(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrLifecycleBusy) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			break
		}

		installRetries.Inc()
		// ±20% 抖动
		wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		w.logger.WithFields(w.fields("install")).
			WithField("attempt", attempt).
			WithField("backoff_ms", wait.Milliseconds()).
			Info("install_retry_scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * multiplier)
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return lastErr
}

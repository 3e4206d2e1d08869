package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"ScreenLogAI/pkg/models"
)

// Policy 分析调用的重试策略：任何失败都会重试，直到用完 MaxAttempts 次
type Policy struct {
	MaxAttempts int
	// Delays[i] 为第 i+1 次失败后、下一次尝试前的等待；次数超出时沿用最后一项
	Delays []time.Duration
}

// DefaultPolicy 5 次尝试，间隔 5s/15s/30s/45s
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Delays:      []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second, 45 * time.Second},
	}
}

// PolicyFromConfig 从 AI 配置构建重试策略，缺省项使用默认值
func PolicyFromConfig(cfg models.AIConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxRetries > 0 {
		p.MaxAttempts = cfg.MaxRetries
	}
	if len(cfg.RetryDelays) > 0 {
		p.Delays = make([]time.Duration, 0, len(cfg.RetryDelays))
		var prev time.Duration
		for _, s := range cfg.RetryDelays {
			d := time.Duration(s) * time.Second
			// 间隔不递减
			if d < prev {
				d = prev
			}
			p.Delays = append(p.Delays, d)
			prev = d
		}
	}
	return p
}

// delayAfter 第 attempt 次失败后的等待
func (p Policy) delayAfter(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt > len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt-1]
}

// SleepFunc 可被 ctx 打断的等待
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext 默认的等待实现
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do 执行 fn，失败时按策略重试；ctx 取消不重试
func (p Policy) Do(ctx context.Context, sleep SleepFunc, fn func(ctx context.Context, attempt int) error) error {
	if sleep == nil {
		sleep = sleepContext
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.delayAfter(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}

// networkMarkers 判断网络类错误的关键字
var networkMarkers = []string{"connection", "timeout", "network", "refused", "closed", "eof", "reset"}

// IsNetworkError 判断是否为网络类错误（仅用于日志分类）
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range networkMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Package retry 提供带退避的有界重试
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Operation 可重试的操作函数类型
type Operation func(ctx context.Context) error

// Config 重试配置
type Config struct {
	MaxAttempts   int           // 最大尝试次数（包括首次）
	InitialDelay  time.Duration // 初始退避延迟
	BackoffFactor float64       // 退避倍数（指数退避）
	MaxDelay      time.Duration // 最大延迟
	Jitter        float64       // 抖动比例（0.25 表示 ±25%），0 表示无抖动

	// RetryIf 可选：决定某个错误是否继续重试。
	// 返回 false 时立即放弃并返回该错误。nil 表示所有错误都重试。
	RetryIf func(err error) bool
}

// DefaultConfig 返回默认配置
//
// 默认值：
//   - MaxAttempts: 2（1次初始 + 1次重试）
//   - InitialDelay: 2ms
//   - BackoffFactor: 2.0（指数退避）
//   - MaxDelay: 1s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   2,
		InitialDelay:  2 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      1 * time.Second,
	}
}

// Backoff 计算第 attempt 次重试前的等待时间（attempt 从 0 开始）
//
// 公式：min(initial·factor^attempt, max)·(1±jitter)。
// 抖动用于打散同一批消费者的重试风暴。
func (c Config) Backoff(attempt int) time.Duration {
	delay := float64(c.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= c.BackoffFactor
		if time.Duration(delay) >= c.MaxDelay {
			break
		}
	}
	if time.Duration(delay) > c.MaxDelay {
		delay = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		// (1-jitter) ~ (1+jitter) 区间内均匀抖动
		delay *= 1 - c.Jitter + 2*c.Jitter*rand.Float64()
	}
	return time.Duration(delay)
}

// Do 执行带重试的操作
//
// 参数：
//   - ctx: 上下文（支持取消，退避等待同样可被取消）
//   - op: 要执行的操作
//   - cfg: 重试配置
//
// 返回：
//   - 最后一次执行的错误（如果所有尝试都失败）
//   - nil（如果任意一次尝试成功）
func Do(ctx context.Context, op Operation, cfg Config) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}

		// 最后一次尝试不需要等待
		if attempt < cfg.MaxAttempts-1 {
			if err := Sleep(ctx, cfg.Backoff(attempt)); err != nil {
				return err
			}
		}
	}

	return lastErr
}

// Sleep 可取消的等待
//
// 上下文被取消时立即返回 ctx.Err()，不等满退避时间。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

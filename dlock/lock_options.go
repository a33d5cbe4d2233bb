package dlock

import "time"

// lockOptions Acquire / Release / WithLock 的运行时参数
type lockOptions struct {
	lifetime       time.Duration
	wait           time.Duration
	backoff        time.Duration
	userData       any
	automaticRetry bool
}

// LockOption 单次锁操作的选项函数
type LockOption func(*lockOptions)

// WithLifetime 设置租约时长，覆盖 Config.Lifetime，只对获取有效
//
// 使用示例:
//
//	client.Acquire(ctx, "nightly-report", dlock.WithLifetime(10*time.Minute))
func WithLifetime(d time.Duration) LockOption {
	return func(o *lockOptions) {
		if d > 0 {
			o.lifetime = d
		}
	}
}

// WithWait 设置本次操作的总等待时长，0 表示只尝试一次
func WithWait(d time.Duration) LockOption {
	return func(o *lockOptions) {
		if d >= 0 {
			o.wait = d
		}
	}
}

// WithUserData 随锁记录保存任意可 JSON 编码的数据
func WithUserData(v any) LockOption {
	return func(o *lockOptions) {
		o.userData = v
	}
}

// WithAutomaticRetry 设置硬错误是否重试，争用不受影响
func WithAutomaticRetry(enabled bool) LockOption {
	return func(o *lockOptions) {
		o.automaticRetry = enabled
	}
}

// WithRetryBackoff 设置两次尝试之间的休眠
func WithRetryBackoff(d time.Duration) LockOption {
	return func(o *lockOptions) {
		if d > 0 {
			o.backoff = d
		}
	}
}

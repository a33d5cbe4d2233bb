package retry

import (
	"context"
	"time"

	"github.com/ceyewan/distlock/clog"
)

// Clock 时间来源，测试中可替换为假时钟
type Clock interface {
	Now() time.Time
	// Sleep 休眠 d，ctx 取消时提前返回 ctx 的错误
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock 使用真实时间
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Attempt 单次尝试的观测信息
type Attempt struct {
	Number     int
	Kind       Kind
	Err        error
	Elapsed    time.Duration // 从循环开始到本次尝试结束
	ForcedWait time.Duration // 本次尝试使用的服务端等待覆盖值，0 表示未覆盖
}

// Option Do 的可选项
type Option func(*options)

type options struct {
	clock     Clock
	logger    clog.Logger
	onAttempt func(Attempt)
}

// WithClock 替换时间来源
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger 每次尝试以 Debug 级别记录
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOnAttempt 每次尝试结束后回调，用于指标统计
func WithOnAttempt(fn func(Attempt)) Option {
	return func(o *options) {
		o.onAttempt = fn
	}
}

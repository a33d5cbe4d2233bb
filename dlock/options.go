package dlock

import (
	"context"

	"github.com/ceyewan/distlock/breaker"
	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/metrics"
	"github.com/ceyewan/distlock/ratelimit"
	"github.com/ceyewan/distlock/retry"
	"github.com/ceyewan/distlock/transport"
)

// Doer 执行单次 HTTP 交换，*transport.Transport 实现了该接口
type Doer interface {
	Do(ctx context.Context, req *transport.Request) (*transport.Response, error)
	Close() error
}

// Option DLock 组件初始化选项函数
type Option func(*options)

// options 选项结构（内部使用，小写）
type options struct {
	logger  clog.Logger
	meter   metrics.Meter
	doer    Doer
	breaker breaker.Breaker
	limiter ratelimit.Limiter
	limit   ratelimit.Limit
	clock   retry.Clock
}

// WithLogger 注入日志记录器
// 组件会自动添加 "dlock" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("dlock")
		}
	}
}

// WithMeter 注入指标收集器，同时用于传输层的 HTTP 客户端指标
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithTransport 使用自定义的交换实现，此时 Config.Transport、WithBreaker、
// WithRateLimiter 不再生效，Close 也不会关闭它
func WithTransport(d Doer) Option {
	return func(o *options) {
		if d != nil {
			o.doer = d
		}
	}
}

// WithBreaker 为默认传输层挂上按 host 的熔断器，
// 建议以 breaker.WithIsSuccessful(transport.BreakerSuccessful) 创建，调用方取消不会触发熔断
func WithBreaker(b breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = b
	}
}

// WithRateLimiter 为默认传输层挂上客户端侧限流
func WithRateLimiter(l ratelimit.Limiter, limit ratelimit.Limit) Option {
	return func(o *options) {
		o.limiter = l
		o.limit = limit
	}
}

// WithClock 替换重试循环和持有时长统计使用的时钟
func WithClock(c retry.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

package breaker

import (
	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger       clog.Logger
	meter        metrics.Meter
	isSuccessful func(err error) bool
}

// WithLogger 设置 Logger，内部会自动添加 namespace: "breaker"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("breaker")
		}
	}
}

// WithMeter 设置指标，记录状态变更和拒绝次数
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithIsSuccessful 自定义哪些错误不计入失败统计。
// 默认只有 nil 视为成功；锁客户端传入 transport.BreakerSuccessful，
// 排除调用方取消之类与服务健康无关的失败。
func WithIsSuccessful(fn func(err error) bool) Option {
	return func(o *options) {
		o.isSuccessful = fn
	}
}

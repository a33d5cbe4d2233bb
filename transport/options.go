package transport

import (
	"net/http"

	"github.com/ceyewan/distlock/breaker"
	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/metrics"
	"github.com/ceyewan/distlock/ratelimit"
)

// Option Transport 的可选项
type Option func(*options)

type options struct {
	logger  clog.Logger
	meter   metrics.Meter
	client  *http.Client
	breaker breaker.Breaker
	limiter ratelimit.Limiter
	limit   ratelimit.Limit
	tracing bool
}

// WithLogger 注入日志记录器，组件会自动添加 "transport" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("transport")
		}
	}
}

// WithMeter 记录 http_client_requests_total 等 RED 指标
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithHTTPClient 使用调用方提供的 http.Client，此时连接池参数由调用方负责，
// 分阶段超时仍然生效
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithBreaker 按目标 host 熔断。5xx 和传输失败计为失败，4xx 不计。
func WithBreaker(b breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = b
	}
}

// WithRateLimiter 每次交换前按目标 host 等待一个令牌
func WithRateLimiter(l ratelimit.Limiter, limit ratelimit.Limit) Option {
	return func(o *options) {
		o.limiter = l
		o.limit = limit
	}
}

// WithTracing 为出站请求创建 Span 并注入 traceparent
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracing = enabled
	}
}

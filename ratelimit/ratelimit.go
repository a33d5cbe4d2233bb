// Package ratelimit 提供基于令牌桶的单机限流器。
//
// 锁客户端在每次发出 HTTP 请求前调用 Wait，按目标 host 做客户端侧节流，
// 避免在大量并发重试时把锁服务打到 429；测试用的锁服务替身则通过
// GinMiddleware 在服务端产生 429。
//
//	limiter, _ := ratelimit.New(nil, ratelimit.WithLogger(logger))
//	defer limiter.Close()
//
//	if err := limiter.Wait(ctx, "europe-free.distributed-lock.com", ratelimit.Limit{Rate: 10, Burst: 20}); err != nil {
//		return err
//	}
package ratelimit

import (
	"context"
	"time"

	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/metrics"
)

// Limit 定义限流规则（令牌桶算法）
type Limit struct {
	Rate  float64 `mapstructure:"rate"`  // 令牌生成速率（每秒）
	Burst int     `mapstructure:"burst"` // 令牌桶容量
}

// Valid 判断规则是否可用，Rate 或 Burst 非正时视为不限流
func (l Limit) Valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

// Limiter 限流器核心接口
type Limiter interface {
	// Allow 尝试获取 1 个令牌（非阻塞）
	Allow(ctx context.Context, key string, limit Limit) (bool, error)

	// AllowN 尝试获取 N 个令牌（非阻塞）
	AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error)

	// Wait 阻塞直到获取 1 个令牌，ctx 取消或截止时间不足以等到令牌时返回错误
	Wait(ctx context.Context, key string, limit Limit) error

	// Close 停止后台清理
	Close() error
}

// Config 单机限流配置
type Config struct {
	// CleanupInterval 清理空闲限流器的间隔（默认：1 分钟）
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// IdleTimeout 限流器空闲超时时间（默认：5 分钟）
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

func (c *Config) setDefaults() {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

// New 创建单机限流器，cfg 为 nil 时使用默认配置
func New(cfg *Config, opts ...Option) (Limiter, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	opt := options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, o := range opts {
		o(&opt)
	}

	return newStandalone(&c, opt)
}

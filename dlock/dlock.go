// Package dlock 是远程互斥锁服务的 HTTP 客户端。
//
// 锁的仲裁完全由服务端完成，客户端只负责：按资源名发起获取和释放请求，
// 在调用方给定的总等待时长内重试，并把失败区分为争用和硬错误。
// 服务端支持在单次请求内挂起等待（server wait），当剩余预算不足时
// 客户端会下调请求里的 wait，保证单次调用不会越过总时限。
//
// 基本使用：
//
//	client, err := dlock.New(&dlock.Config{
//		Token:    os.Getenv("DLOCK_TOKEN"),
//		TenantID: "acme",
//	}, dlock.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	err = client.WithLock(ctx, "nightly-report", func(ctx context.Context, lock *dlock.AcquiredLock) error {
//		return generateReport(ctx)
//	}, dlock.WithWait(30*time.Second))
//	if dlock.IsContention(err) {
//		// 其他实例正在执行
//	}
//
// 锁服务不提供 fencing token，需要防止过期持有者写入的调用方必须自行实现。
package dlock

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/metrics"
	"github.com/ceyewan/distlock/retry"
	"github.com/ceyewan/distlock/transport"
	"github.com/ceyewan/distlock/xerrors"
)

// Client 锁服务客户端，并发安全
//
// 每个 Client 持有一个连接池，所有调用共享。用完后必须调用 Close。
type Client struct {
	cfg      *Config
	baseURL  string
	header   http.Header
	doer     Doer
	ownsDoer bool
	logger   clog.Logger
	clock    retry.Clock
	metrics  *lockMetrics

	closeOnce sync.Once
	closeErr  error
}

// New 创建锁服务客户端
//
// 参数:
//   - cfg: 客户端配置，Token 和 TenantID 必填
//   - opts: 可选参数 (Logger, Meter, Transport, Breaker, RateLimiter, Clock)
//
// 缺少必需配置时返回 ErrBadConfiguration，不会发起任何请求。
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, configError(ErrConfigNil)
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, configError(err)
	}

	o := options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		clock:  retry.SystemClock{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	lm, err := newLockMetrics(o.meter)
	if err != nil {
		return nil, err
	}

	client := &Client{
		cfg:     &c,
		baseURL: c.BaseURL,
		logger:  o.logger.With(clog.String("cluster", c.Cluster), clog.String("tenant_id", c.TenantID)),
		clock:   o.clock,
		metrics: lm,
		doer:    o.doer,
	}
	if client.baseURL == "" {
		client.baseURL = "https://" + c.Cluster + ".distributed-lock.com"
	}

	client.header = http.Header{}
	client.header.Set("Authorization", "Bearer "+c.Token)
	if c.UserAgent != "" {
		client.header.Set("User-Agent", c.UserAgent)
	}

	if client.doer == nil {
		topts := []transport.Option{
			transport.WithLogger(o.logger),
			transport.WithMeter(o.meter),
			transport.WithTracing(true),
		}
		if o.breaker != nil {
			topts = append(topts, transport.WithBreaker(o.breaker))
		}
		if o.limiter != nil {
			topts = append(topts, transport.WithRateLimiter(o.limiter, o.limit))
		}
		t, err := transport.New(&c.Transport, topts...)
		if err != nil {
			return nil, xerrors.Wrap(err, "dlock: create transport")
		}
		client.doer = t
		client.ownsDoer = true
	}

	client.logger.Debug("dlock client created",
		clog.String("base_url", client.baseURL),
		clog.Duration("server_wait", c.ServerWait),
		clog.Duration("wait", c.Wait))
	return client, nil
}

// Config 返回生效的配置副本（已填充默认值）
func (c *Client) Config() Config {
	return *c.cfg
}

// ResourceURL 返回资源的锁地址 <base>/exclusive_locks/<tenant>/<resource>
func (c *Client) ResourceURL(resource string) string {
	return c.baseURL + "/exclusive_locks/" + url.PathEscape(c.cfg.TenantID) + "/" + url.PathEscape(resource)
}

// Close 释放连接池，可重复调用
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.ownsDoer {
			c.closeErr = c.doer.Close()
		}
	})
	return c.closeErr
}

func (c *Client) lockOptions(wait time.Duration, opts []LockOption) *lockOptions {
	o := &lockOptions{
		lifetime:       c.cfg.Lifetime,
		wait:           wait,
		backoff:        c.cfg.RetryBackoff,
		automaticRetry: *c.cfg.AutomaticRetry,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func validateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return xerrors.Wrapf(ErrInvalidResource, "%s is empty", kind)
	}
	return nil
}

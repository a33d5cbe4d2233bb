package dlock

import (
	"strings"
	"time"

	"github.com/ceyewan/distlock/transport"
	"github.com/ceyewan/distlock/xerrors"
)

const (
	// DefaultCluster 未配置时使用的集群
	DefaultCluster = "europe-free"
	// DefaultServerWait 服务端单次挂起等待的默认上限
	DefaultServerWait = 60 * time.Second
	// DefaultLifetime 默认租约时长
	DefaultLifetime = 3600 * time.Second
	// DefaultReleaseWait 释放锁的默认总等待时长
	DefaultReleaseWait = 30 * time.Second
	// DefaultRetryBackoff 两次尝试之间的默认休眠
	DefaultRetryBackoff = time.Second
)

// Config 组件静态配置
type Config struct {
	// Cluster 锁服务集群名，决定默认的服务地址（默认 europe-free）
	Cluster string `mapstructure:"cluster" yaml:"cluster"`

	// Token 服务令牌，必填
	Token string `mapstructure:"token" yaml:"token"`

	// TenantID 租户标识，必填
	TenantID string `mapstructure:"tenant_id" yaml:"tenant_id"`

	// BaseURL 覆盖默认的 https://<cluster>.distributed-lock.com，主要用于测试和私有部署
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// UserAgent 随锁记录保存的调用方标识，可选
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	// ServerWait 服务端单次挂起等待的上限
	ServerWait time.Duration `mapstructure:"server_wait" yaml:"server_wait"`

	// Lifetime 默认租约时长
	Lifetime time.Duration `mapstructure:"lifetime" yaml:"lifetime"`

	// Wait 获取锁的默认总等待时长，默认与 ServerWait 相同
	Wait time.Duration `mapstructure:"wait" yaml:"wait"`

	// ReleaseWait 释放锁的默认总等待时长
	ReleaseWait time.Duration `mapstructure:"release_wait" yaml:"release_wait"`

	// RetryBackoff 两次尝试之间的休眠
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`

	// AutomaticRetry 硬错误是否重试，nil 表示 true
	AutomaticRetry *bool `mapstructure:"automatic_retry" yaml:"automatic_retry"`

	// Transport HTTP 传输层配置
	Transport transport.Config `mapstructure:"transport" yaml:"transport"`
}

func (c *Config) setDefaults() {
	if c == nil {
		return
	}
	c.Cluster = strings.ToLower(strings.TrimSpace(c.Cluster))
	if c.Cluster == "" {
		c.Cluster = DefaultCluster
	}
	c.Token = strings.TrimSpace(c.Token)
	c.TenantID = strings.ToLower(strings.TrimSpace(c.TenantID))
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.ServerWait <= 0 {
		c.ServerWait = DefaultServerWait
	}
	if c.Lifetime <= 0 {
		c.Lifetime = DefaultLifetime
	}
	if c.Wait <= 0 {
		c.Wait = c.ServerWait
	}
	if c.ReleaseWait <= 0 {
		c.ReleaseWait = DefaultReleaseWait
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.AutomaticRetry == nil {
		enabled := true
		c.AutomaticRetry = &enabled
	}
	// 读超时必须覆盖服务端挂起的时间，否则每次争用都会变成读超时
	if floor := c.ServerWait + 5*time.Second; c.Transport.ReadTimeout < floor {
		c.Transport.ReadTimeout = floor
	}
}

func (c *Config) validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.Token == "" {
		return xerrors.Wrap(ErrBadConfiguration, "token is required (set DLOCK_TOKEN)")
	}
	if c.TenantID == "" {
		return xerrors.Wrap(ErrBadConfiguration, "tenant id is required (set DLOCK_TENANT_ID)")
	}
	if c.ServerWait < time.Second {
		return xerrors.Wrapf(ErrBadConfiguration, "server wait must be at least 1s, got %s", c.ServerWait)
	}
	if c.Lifetime < time.Second {
		return xerrors.Wrapf(ErrBadConfiguration, "lifetime must be at least 1s, got %s", c.Lifetime)
	}
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return xerrors.Wrapf(ErrBadConfiguration, "base url must be http or https: %q", c.BaseURL)
	}
	return nil
}

// AcquiredLock 一次成功获取得到的锁记录
//
// 只由 Acquire 创建，释放时只需要 Resource 和 LockID，客户端不保留任何引用。
type AcquiredLock struct {
	Resource  string
	LockID    string
	TenantID  string
	Created   time.Time
	Expires   time.Time
	UserAgent string
	UserData  any
}

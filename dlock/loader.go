package dlock

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ceyewan/distlock/config"
	"github.com/ceyewan/distlock/transport"
	"github.com/ceyewan/distlock/xerrors"
)

// 时长类配置项，既接受秒数（"60"、60）也接受 Go 时长字符串（"1m"）
var durationKeys = []string{"server_wait", "lifetime", "wait", "release_wait", "retry_backoff"}

// LoadConfig 从 dlock.yaml、.env 和 DLOCK_* 环境变量加载配置
//
// lc 为 nil 时使用文件名 dlock、环境变量前缀 DLOCK。优先级为
// 环境变量 > .env > dlock.<env>.yaml > dlock.yaml > 默认值。
// Token 或 TenantID 缺失时返回 ErrBadConfiguration，并指出对应的环境变量。
//
//	cfg, err := dlock.LoadConfig(ctx, nil)
//	client, err := dlock.New(cfg)
func LoadConfig(ctx context.Context, lc *config.Config, opts ...config.Option) (*Config, error) {
	cfg, err := ReadConfig(ctx, lc, opts...)
	if err != nil {
		return nil, err
	}
	prefix := envPrefix(lc)
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, configError(xerrors.Wrapf(ErrBadConfiguration, "token is required (set %s_TOKEN)", prefix))
	}
	if strings.TrimSpace(cfg.TenantID) == "" {
		return nil, configError(xerrors.Wrapf(ErrBadConfiguration, "tenant id is required (set %s_TENANT_ID)", prefix))
	}
	return cfg, nil
}

// ReadConfig 与 LoadConfig 相同，但不检查必填项，供命令行在合并 flag 后再交给 New 校验
func ReadConfig(ctx context.Context, lc *config.Config, opts ...config.Option) (*Config, error) {
	cfg, err := readConfig(ctx, lc, opts...)
	if err != nil {
		return nil, configError(err)
	}
	return cfg, nil
}

func readConfig(ctx context.Context, lc *config.Config, opts ...config.Option) (*Config, error) {
	c := config.Config{}
	if lc != nil {
		c = *lc
	}
	if c.Name == "" {
		c.Name = "dlock"
	}
	prefix := envPrefix(lc)
	c.EnvPrefix = prefix

	all := append([]config.Option{config.WithDefaults(loaderDefaults()), config.WithoutWatch()}, opts...)
	loader, err := config.New(&c, all...)
	if err != nil {
		return nil, err
	}
	if err := loader.Load(ctx); err != nil {
		return nil, xerrors.Wrap(err, "dlock: load config")
	}

	cfg := &Config{
		Cluster:   loader.GetString("cluster"),
		Token:     loader.GetString("token"),
		TenantID:  loader.GetString("tenant_id"),
		BaseURL:   loader.GetString("base_url"),
		UserAgent: loader.GetString("user_agent"),
	}

	durations := map[string]*time.Duration{
		"server_wait":   &cfg.ServerWait,
		"lifetime":      &cfg.Lifetime,
		"wait":          &cfg.Wait,
		"release_wait":  &cfg.ReleaseWait,
		"retry_backoff": &cfg.RetryBackoff,
	}
	for _, key := range durationKeys {
		d, err := ParseSeconds(loader.Get(key))
		if err != nil {
			return nil, xerrors.Mark(xerrors.Wrapf(err, "%s_%s", prefix, strings.ToUpper(key)), ErrBadConfiguration)
		}
		*durations[key] = d
	}

	if raw := strings.TrimSpace(loader.GetString("automatic_retry")); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.Wrapf(ErrBadConfiguration, "%s_AUTOMATIC_RETRY: %v", prefix, err)
		}
		cfg.AutomaticRetry = &enabled
	}

	// 整体反序列化才能让 DLOCK_TRANSPORT_* 覆盖嵌套的 key
	var nested struct {
		Transport transport.Config `mapstructure:"transport"`
	}
	if err := loader.Unmarshal(&nested); err != nil {
		return nil, xerrors.Mark(xerrors.Wrap(err, "transport"), ErrBadConfiguration)
	}
	cfg.Transport = nested.Transport
	return cfg, nil
}

func envPrefix(lc *config.Config) string {
	if lc == nil || lc.EnvPrefix == "" {
		return "DLOCK"
	}
	return strings.ToUpper(lc.EnvPrefix)
}

// ParseSeconds 把配置值解析为时长：数字按秒计，字符串可以是数字或 Go 时长写法，空值为 0
func ParseSeconds(v any) (time.Duration, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return x, nil
	case int:
		return time.Duration(x) * time.Second, nil
	case int64:
		return time.Duration(x) * time.Second, nil
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(f * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, xerrors.Wrapf(xerrors.ErrInvalidInput, "invalid duration %q", s)
		}
		return d, nil
	default:
		return 0, xerrors.Wrapf(xerrors.ErrInvalidInput, "invalid duration %v", v)
	}
}

// loaderDefaults 注册所有 key，纯环境变量场景下 Unmarshal 才能读到它们
func loaderDefaults() map[string]any {
	tc := transport.DefaultConfig()
	return map[string]any{
		"cluster":         DefaultCluster,
		"token":           "",
		"tenant_id":       "",
		"base_url":        "",
		"user_agent":      "",
		"server_wait":     "",
		"lifetime":        "",
		"wait":            "",
		"release_wait":    "",
		"retry_backoff":   "",
		"automatic_retry": "",

		"transport.connect_timeout":    tc.ConnectTimeout.String(),
		"transport.read_timeout":       tc.ReadTimeout.String(),
		"transport.write_timeout":      tc.WriteTimeout.String(),
		"transport.pool_timeout":       tc.PoolTimeout.String(),
		"transport.max_conns_per_host": tc.MaxConnsPerHost,
		"transport.max_idle_conns":     tc.MaxIdleConns,
		"transport.max_response_bytes": tc.MaxResponseBytes,
	}
}

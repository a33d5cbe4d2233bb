package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ceyewan/distlock/breaker"
	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/config"
	"github.com/ceyewan/distlock/dlock"
	"github.com/ceyewan/distlock/ratelimit"
	"github.com/ceyewan/distlock/trace"
	"github.com/ceyewan/distlock/transport"
	"github.com/ceyewan/distlock/xerrors"
)

const (
	keyConfigDir    = "config_dir"
	keyCluster      = "cluster"
	keyToken        = "token"
	keyTenantID     = "tenant_id"
	keyBaseURL      = "base_url"
	keyUserAgent    = "user_agent"
	keyServerWait   = "server_wait"
	keyLogLevel     = "log.level"
	keyLogFormat    = "log.format"
	keyOTLPEndpoint = "otlp_endpoint"
	keyBreaker      = "breaker"
	keyRate         = "rate"

	envLockID   = "DLOCK_LOCK_ID"
	envResource = "DLOCK_RESOURCE"
	envExpires  = "DLOCK_EXPIRES"

	defaultUserAgent = "dlock-cli"
)

// cli 持有一次命令执行期间的共享状态
type cli struct {
	v       *viper.Viper
	logger  clog.Logger
	cleanup []func()
}

func newRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}
	cmd := &cobra.Command{
		Use:           "dlock",
		Short:         "Acquire and release locks on the distributed-lock service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("config-dir", "", "directory containing dlock.yaml and .env (default . and ./config)")
	flags.String("cluster", "", "lock service cluster (env DLOCK_CLUSTER, default europe-free)")
	flags.String("token", "", "service token (env DLOCK_TOKEN)")
	flags.String("tenant-id", "", "tenant identifier (env DLOCK_TENANT_ID)")
	flags.String("base-url", "", "override the service base URL (env DLOCK_BASE_URL)")
	flags.String("user-agent", defaultUserAgent, "user agent stored with acquired locks")
	flags.Duration("server-wait", 0, "maximum server side wait per request (env DLOCK_SERVER_WAIT)")
	flags.String("log-level", "warn", "log level (debug|info|warn|error)")
	flags.String("log-format", "console", "log format (console|json)")
	flags.String("otlp-endpoint", "", "export traces to this OTLP gRPC endpoint")
	flags.Bool("breaker", false, "open a circuit breaker when the service keeps failing")
	flags.Float64("rate", 0, "client side request rate limit per second (0 disables)")

	c.mustBindFlag(keyConfigDir, flags.Lookup("config-dir"))
	c.mustBindFlag(keyCluster, flags.Lookup("cluster"))
	c.mustBindFlag(keyToken, flags.Lookup("token"))
	c.mustBindFlag(keyTenantID, flags.Lookup("tenant-id"))
	c.mustBindFlag(keyBaseURL, flags.Lookup("base-url"))
	c.mustBindFlag(keyUserAgent, flags.Lookup("user-agent"))
	c.mustBindFlag(keyServerWait, flags.Lookup("server-wait"))
	c.mustBindFlag(keyLogLevel, flags.Lookup("log-level"))
	c.mustBindFlag(keyLogFormat, flags.Lookup("log-format"))
	c.mustBindFlag(keyOTLPEndpoint, flags.Lookup("otlp-endpoint"))
	c.mustBindFlag(keyBreaker, flags.Lookup("breaker"))
	c.mustBindFlag(keyRate, flags.Lookup("rate"))

	cmd.AddCommand(
		newAcquireCommand(c),
		newReleaseCommand(c),
		newRunCommand(c),
	)
	return cmd
}

func (c *cli) mustBindFlag(key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := c.v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// client 读取配置文件和环境变量，再用显式给出的 flag 覆盖。
// 同时安装 TracerProvider，并把环境变量中的链路信息接到 cmd 的 Context 上。
// 调用方负责在命令结束时调用 close。
func (c *cli) client(cmd *cobra.Command) (*dlock.Client, error) {
	ctx := cmd.Context()
	lc := clog.NewProdDefaultConfig("distlock")
	lc.Level = c.v.GetString(keyLogLevel)
	lc.Format = c.v.GetString(keyLogFormat)
	// stdout 留给 acquire 的输出和子进程
	lc.Output = "stderr"
	logger, err := clog.New(lc, clog.WithTraceContext())
	if err != nil {
		return nil, err
	}
	c.logger = logger

	cfg, err := dlock.ReadConfig(ctx, c.loaderConfig(), config.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	c.applyFlags(cfg)

	if err := c.initTracing(logger); err != nil {
		return nil, err
	}
	cmd.SetContext(trace.Extract(ctx, traceCarrierFromEnv()))

	opts := []dlock.Option{dlock.WithLogger(logger)}
	if c.v.GetBool(keyBreaker) {
		brk, err := breaker.New(&breaker.Config{},
			breaker.WithLogger(logger),
			breaker.WithIsSuccessful(transport.BreakerSuccessful))
		if err != nil {
			return nil, err
		}
		opts = append(opts, dlock.WithBreaker(brk))
	}
	if rate := c.v.GetFloat64(keyRate); rate > 0 {
		limiter, err := ratelimit.New(nil, ratelimit.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		c.onClose(func() { _ = limiter.Close() })
		opts = append(opts, dlock.WithRateLimiter(limiter, ratelimit.Limit{Rate: rate, Burst: max(1, int(rate))}))
	}

	client, err := dlock.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	c.onClose(func() { _ = client.Close() })
	return client, nil
}

// initTracing 没有 OTLP 地址时也安装不导出的 Provider，
// 这样 traceparent 仍会传给锁服务和 run 启动的子进程
func (c *cli) initTracing(logger clog.Logger) error {
	var (
		shutdown func(context.Context) error
		err      error
	)
	if endpoint := c.v.GetString(keyOTLPEndpoint); endpoint != "" {
		tc := trace.DefaultConfig("dlock-cli")
		tc.Endpoint = endpoint
		shutdown, err = trace.Init(tc, trace.WithLogger(logger))
	} else {
		shutdown, err = trace.Discard("dlock-cli")
	}
	if err != nil {
		return err
	}
	c.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	})
	return nil
}

// loaderConfig 与 dlock.ReadConfig 使用相同的文件名和搜索路径
func (c *cli) loaderConfig() *config.Config {
	lc := &config.Config{Name: "dlock", EnvPrefix: "DLOCK"}
	if dir := c.v.GetString(keyConfigDir); dir != "" {
		lc.Paths = []string{dir}
	}
	return lc
}

func (c *cli) applyFlags(cfg *dlock.Config) {
	set := func(key string, dst *string) {
		if c.v.IsSet(key) {
			*dst = c.v.GetString(key)
		}
	}
	set(keyCluster, &cfg.Cluster)
	set(keyToken, &cfg.Token)
	set(keyTenantID, &cfg.TenantID)
	set(keyBaseURL, &cfg.BaseURL)
	if c.v.IsSet(keyUserAgent) || cfg.UserAgent == "" {
		cfg.UserAgent = c.v.GetString(keyUserAgent)
	}
	if c.v.IsSet(keyServerWait) {
		cfg.ServerWait = c.v.GetDuration(keyServerWait)
	}
}

func (c *cli) onClose(fn func()) {
	c.cleanup = append(c.cleanup, fn)
}

func (c *cli) close() {
	for i := len(c.cleanup) - 1; i >= 0; i-- {
		c.cleanup[i]()
	}
	c.cleanup = nil
	if c.logger != nil {
		c.logger.Flush()
	}
}

// exitError 携带子进程的退出码
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.code)
}

// 退出码，沿用 sysexits 的 EX_CONFIG 表示配置错误
const (
	exitFailure       = 1
	exitContention    = 2
	exitLockMismatch  = 3
	exitConfiguration = 78
)

// exitCode 子进程失败时沿用它的退出码，其余按 dlock 错误码映射
func exitCode(err error) int {
	var ee *exitError
	if xerrors.As(err, &ee) && ee.code > 0 {
		return ee.code
	}
	switch xerrors.GetCode(err) {
	case dlock.CodeContention:
		return exitContention
	case dlock.CodeLockMismatch:
		return exitLockMismatch
	case dlock.CodeBadConfiguration:
		return exitConfiguration
	default:
		return exitFailure
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Package trace 初始化 OpenTelemetry 链路追踪，并提供锁操作的标准 Span 辅助函数。
//
//	shutdown, err := trace.Init(trace.DefaultConfig("billing-worker"))
//	if err != nil {
//		return err
//	}
//	defer shutdown(context.Background())
//
// 客户端通过 trace.HTTPTransport 为出站请求注入 traceparent，
// 锁服务端（或测试替身）通过 trace.GinMiddleware 恢复链路。
package trace

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"

	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/xerrors"
)

// Option Init 的可选项
type Option func(*options)

type options struct {
	logger   clog.Logger
	exporter sdktrace.SpanExporter
}

// WithLogger 注入日志记录器，组件会自动添加 "trace" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("trace")
		}
	}
}

// WithExporter 使用自定义 Exporter 替代 OTLP gRPC Exporter，
// 此时 Config.Endpoint 可以为空
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.exporter = exp
	}
}

// Init 初始化全局 TracerProvider 和 W3C Propagator
//
// 返回的 Shutdown 函数应在进程退出前调用，以刷新尚未导出的 Span。
func Init(cfg *Config, opts ...Option) (func(context.Context) error, error) {
	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	if err := validateConfig(cfg, o.exporter != nil); err != nil {
		return nil, err
	}

	ctx := context.Background()
	exporter := o.exporter
	if exporter == nil {
		grpcOpts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTimeout(5 * time.Second),
		}
		if cfg.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, xerrors.Wrap(err, "trace: failed to create otlp exporter")
		}
		exporter = exp
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Sampler))),
	}
	if cfg.Batcher == "simple" {
		tpOpts = append(tpOpts, sdktrace.WithSyncer(exporter))
	} else {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	shutdown, err := install(ctx, cfg.ServiceName, tpOpts...)
	if err != nil {
		return nil, err
	}
	o.logger.Info("tracer provider installed",
		clog.String("service", cfg.ServiceName),
		clog.String("endpoint", cfg.Endpoint),
		clog.Float64("sampler", cfg.Sampler),
	)
	return shutdown, nil
}

// install 创建 TracerProvider 并设置为全局 Provider
func install(ctx context.Context, serviceName string, tpOpts ...sdktrace.TracerProviderOption) (func(context.Context) error, error) {
	var resOpts []resource.Option
	if serviceName != "" {
		resOpts = append(resOpts, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	}
	res, err := resource.New(ctx, resOpts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "trace: failed to create resource")
	}

	tp := sdktrace.NewTracerProvider(append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, tpOpts...)...)
	otel.SetTracerProvider(tp)
	// TraceContext 对应 traceparent 头，Baggage 用于透传自定义 KV
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func validateConfig(cfg *Config, customExporter bool) error {
	if cfg == nil {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "trace: config is required")
	}
	if cfg.ServiceName == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "trace: service_name is required")
	}
	if cfg.Endpoint == "" && !customExporter {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "trace: endpoint is required")
	}
	if cfg.Sampler < 0 || cfg.Sampler > 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "trace: sampler must be between 0 and 1, got %v", cfg.Sampler)
	}
	if cfg.Batcher != "" && cfg.Batcher != "batch" && cfg.Batcher != "simple" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "trace: batcher must be \"batch\" or \"simple\", got %q", cfg.Batcher)
	}
	return nil
}

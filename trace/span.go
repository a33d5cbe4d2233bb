package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName 组件默认使用的 Tracer 名称
const TracerName = "github.com/ceyewan/distlock"

// LockMeta 描述一次锁操作的标准化属性
type LockMeta struct {
	Operation string
	Resource  string
	TenantID  string
	Cluster   string
}

func normalizeContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normalizeTracer(tracer oteltrace.Tracer) oteltrace.Tracer {
	if tracer == nil {
		return otel.Tracer(TracerName)
	}
	return tracer
}

func lockAttributes(meta LockMeta, attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)+3)
	if meta.Resource != "" {
		out = append(out, attribute.String(AttrLockResource, meta.Resource))
	}
	if meta.TenantID != "" {
		out = append(out, attribute.String(AttrLockTenant, meta.TenantID))
	}
	if meta.Cluster != "" {
		out = append(out, attribute.String(AttrLockCluster, meta.Cluster))
	}
	return append(out, attrs...)
}

// StartLockSpan 启动一个客户端类型的锁操作 Span。
// tracer 为 nil 时使用全局 TracerProvider。
func StartLockSpan(
	ctx context.Context,
	tracer oteltrace.Tracer,
	meta LockMeta,
	attrs ...attribute.KeyValue,
) (context.Context, oteltrace.Span) {
	ctx = normalizeContext(ctx)
	tracer = normalizeTracer(tracer)

	spanCtx, span := tracer.Start(ctx, SpanNameLock(meta.Operation), oteltrace.WithSpanKind(oteltrace.SpanKindClient))
	span.SetAttributes(lockAttributes(meta, attrs...)...)
	return spanCtx, span
}

// MarkSpanError 当 err 不为 nil 时记录错误并把 Span 标记为失败
func MarkSpanError(span oteltrace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Inject 将 ctx 中的链路信息写入 carrier
func Inject(ctx context.Context, carrier map[string]string) {
	otel.GetTextMapPropagator().Inject(normalizeContext(ctx), propagation.MapCarrier(carrier))
}

// Extract 从 carrier 中恢复链路信息
func Extract(ctx context.Context, carrier map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(normalizeContext(ctx), propagation.MapCarrier(carrier))
}

package trace

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Discard 安装一个不导出任何数据的 TracerProvider。
// Span 依旧会生成 TraceID，日志中的 trace_id 关联仍然可用。
func Discard(serviceName string) (func(context.Context) error, error) {
	return install(context.Background(), serviceName,
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
}

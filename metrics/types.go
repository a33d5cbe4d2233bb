// Package metrics 提供统一的指标收集能力。
//
// 基于 OpenTelemetry 构建，通过 Prometheus Exporter 暴露，
// 对外只提供 Counter、Gauge、Histogram 三种指标接口。
//
// 快速开始：
//
//	meter, err := metrics.New(metrics.NewProdDefaultConfig("billing-worker", "v1.0.0"))
//	if err != nil {
//	    return err
//	}
//	defer meter.Shutdown(ctx)
//
//	acquired, _ := meter.Counter("dlock_lock_acquired_total", "Locks acquired")
//	acquired.Inc(ctx)
//
// Config.Enabled 为 false 或者使用 Discard() 时，所有记录都是空操作，
// 组件可以无条件地调用指标接口。
package metrics

import (
	"context"
	"net/http"
)

// Counter 计数器，只增不减
type Counter interface {
	// Inc 将计数器增加 1
	Inc(ctx context.Context, labels ...Label)
	// Add 将计数器增加给定的值，负数会被忽略
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 仪表盘，记录可以任意增减的瞬时值
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 直方图，记录值的分布（耗时、大小等）
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标创建工厂
//
// 创建出来的指标是并发安全的，可以在多个 goroutine 中共享。
type Meter interface {
	// Counter 创建计数器，name 应符合 Prometheus 命名规范（如 dlock_lock_acquired_total）
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)

	// Gauge 创建仪表盘
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)

	// Histogram 创建直方图
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)

	// Handler 返回 Prometheus 文本格式的采集 Handler，
	// 便于挂到调用方已有的 HTTP 服务上
	Handler() http.Handler

	// Shutdown 刷新并关闭，同时停止内置的 HTTP 服务器
	Shutdown(ctx context.Context) error
}

// MetricOption 指标配置选项
type MetricOption func(*MetricOptions)

// MetricOptions 指标选项
type MetricOptions struct {
	// Unit 指标单位，建议使用 UCUM 单位代码，如 "s"、"By"
	Unit string
	// Buckets 直方图的显式桶边界，仅对 Histogram 生效
	Buckets []float64
}

// WithUnit 设置指标的单位
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}

// WithBuckets 设置直方图的桶边界
func WithBuckets(buckets []float64) MetricOption {
	return func(o *MetricOptions) {
		o.Buckets = append([]float64(nil), buckets...)
	}
}

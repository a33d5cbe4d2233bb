package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ceyewan/distlock/xerrors"
)

const (
	MetricHTTPServerRequestTotal    = "http_server_requests_total"
	MetricHTTPServerDurationSeconds = "http_server_request_duration_seconds"
	MetricHTTPClientRequestTotal    = "http_client_requests_total"
	MetricHTTPClientDurationSeconds = "http_client_request_duration_seconds"
)

// 锁请求可能在服务端挂起等待数十秒，桶上限放宽到 120s
var defaultHTTPDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// HTTPMetricsConfig 配置可重用的 HTTP RED 指标
type HTTPMetricsConfig struct {
	Service             string
	RequestTotalName    string
	RequestDurationName string
	DurationBuckets     []float64
	StaticLabels        []Label
}

// DefaultHTTPServerMetricsConfig 返回默认的 HTTP 服务端指标配置
func DefaultHTTPServerMetricsConfig(service string) *HTTPMetricsConfig {
	return &HTTPMetricsConfig{
		Service:             service,
		RequestTotalName:    MetricHTTPServerRequestTotal,
		RequestDurationName: MetricHTTPServerDurationSeconds,
		DurationBuckets:     defaultHTTPDurationBuckets,
	}
}

// DefaultHTTPClientMetricsConfig 返回默认的 HTTP 客户端指标配置
func DefaultHTTPClientMetricsConfig(service string) *HTTPMetricsConfig {
	return &HTTPMetricsConfig{
		Service:             service,
		RequestTotalName:    MetricHTTPClientRequestTotal,
		RequestDurationName: MetricHTTPClientDurationSeconds,
		DurationBuckets:     defaultHTTPDurationBuckets,
	}
}

// HTTPMetrics 封装一组 HTTP RED 指标，服务端和客户端共用
type HTTPMetrics struct {
	service      string
	operation    string
	requestTotal Counter
	duration     Histogram
	staticLabels []Label
}

// NewHTTPServerMetrics 创建 HTTP 服务端指标
func NewHTTPServerMetrics(m Meter, cfg *HTTPMetricsConfig) (*HTTPMetrics, error) {
	return newHTTPMetrics(m, cfg, OperationHTTPServer, MetricHTTPServerRequestTotal, MetricHTTPServerDurationSeconds)
}

// NewHTTPClientMetrics 创建 HTTP 客户端指标
func NewHTTPClientMetrics(m Meter, cfg *HTTPMetricsConfig) (*HTTPMetrics, error) {
	return newHTTPMetrics(m, cfg, OperationHTTPClient, MetricHTTPClientRequestTotal, MetricHTTPClientDurationSeconds)
}

func newHTTPMetrics(m Meter, cfg *HTTPMetricsConfig, operation, totalName, durationName string) (*HTTPMetrics, error) {
	if m == nil {
		return nil, xerrors.New("metrics: meter is nil")
	}
	if cfg == nil {
		return nil, ErrConfigNil
	}

	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = "unknown"
	}
	if name := strings.TrimSpace(cfg.RequestTotalName); name != "" {
		totalName = name
	}
	if name := strings.TrimSpace(cfg.RequestDurationName); name != "" {
		durationName = name
	}

	counter, err := m.Counter(totalName, "Total number of HTTP requests.")
	if err != nil {
		return nil, xerrors.Wrap(err, "create http request counter")
	}

	histogramOpts := []MetricOption{WithUnit("s")}
	if len(cfg.DurationBuckets) > 0 {
		histogramOpts = append(histogramOpts, WithBuckets(cfg.DurationBuckets))
	}
	duration, err := m.Histogram(durationName, "HTTP request duration in seconds.", histogramOpts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "create http request duration histogram")
	}

	return &HTTPMetrics{
		service:      service,
		operation:    operation,
		requestTotal: counter,
		duration:     duration,
		staticLabels: append([]Label(nil), cfg.StaticLabels...),
	}, nil
}

// Observe 记录一次 HTTP 请求
//
// route 在服务端是路由模板，在客户端是目标 host；status 为 0 表示请求没有拿到响应。
func (m *HTTPMetrics) Observe(ctx context.Context, method string, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	safeMethod := strings.ToUpper(strings.TrimSpace(method))
	if safeMethod == "" {
		safeMethod = http.MethodGet
	}
	safeRoute := strings.TrimSpace(route)
	if safeRoute == "" {
		safeRoute = UnknownRoute
	}

	routeKey := LabelRoute
	if m.operation == OperationHTTPClient {
		routeKey = LabelHost
	}

	labels := make([]Label, 0, len(m.staticLabels)+6)
	labels = append(labels, m.staticLabels...)
	labels = append(labels,
		L(LabelService, m.service),
		L(LabelOperation, m.operation),
		L(LabelMethod, safeMethod),
		L(routeKey, safeRoute),
		L(LabelStatusClass, HTTPStatusClass(status)),
		L(LabelOutcome, HTTPOutcome(status)),
	)

	m.requestTotal.Inc(ctx, labels...)
	m.duration.Record(ctx, duration.Seconds(), labels...)
}

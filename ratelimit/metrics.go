package ratelimit

const (
	// MetricAllowed 允许通过的请求数 (Counter)
	MetricAllowed = "ratelimit_allowed_total"

	// MetricDenied 被拒绝的请求数 (Counter)
	MetricDenied = "ratelimit_denied_total"

	// MetricWaitSeconds Wait 的阻塞时长 (Histogram)
	MetricWaitSeconds = "ratelimit_wait_duration_seconds"

	// LabelKey 限流键标签
	LabelKey = "key"
)

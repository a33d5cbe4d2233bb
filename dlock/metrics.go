package dlock

import (
	"github.com/ceyewan/distlock/metrics"
	"github.com/ceyewan/distlock/xerrors"
)

// Metrics 指标常量定义
const (
	// MetricLockAcquired 锁获取成功次数 (Counter)
	MetricLockAcquired = "dlock_lock_acquired_total"

	// MetricLockFailed 锁获取失败次数 (Counter)
	MetricLockFailed = "dlock_lock_failed_total"

	// MetricLockReleased 锁释放成功次数 (Counter)
	MetricLockReleased = "dlock_lock_released_total"

	// MetricAttempts 单次尝试次数 (Counter)
	MetricAttempts = "dlock_attempts_total"

	// MetricAcquireDuration 获取锁耗时，包含所有重试 (Histogram)
	MetricAcquireDuration = "dlock_acquire_duration_seconds"

	// MetricLockHoldDuration 锁持有时长，仅 WithLock 统计 (Histogram)
	MetricLockHoldDuration = "dlock_lock_hold_duration_seconds"

	// LabelOperation 操作类型标签 (acquire | release)
	LabelOperation = "operation"

	// LabelOutcome 尝试结果标签 (success | contention | hard)
	LabelOutcome = "outcome"

	// LabelReason 失败原因标签 (contention | error | canceled)
	LabelReason = "reason"
)

const (
	reasonContention = "contention"
	reasonError      = "error"
	reasonCanceled   = "canceled"
)

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900, 3600}

type lockMetrics struct {
	acquired        metrics.Counter
	failed          metrics.Counter
	released        metrics.Counter
	attempts        metrics.Counter
	acquireDuration metrics.Histogram
	holdDuration    metrics.Histogram
}

func newLockMetrics(m metrics.Meter) (*lockMetrics, error) {
	var (
		lm  lockMetrics
		err error
		c   xerrors.Collector
	)
	lm.acquired, err = m.Counter(MetricLockAcquired, "Number of locks acquired")
	c.Collect(err)
	lm.failed, err = m.Counter(MetricLockFailed, "Number of failed lock acquisitions")
	c.Collect(err)
	lm.released, err = m.Counter(MetricLockReleased, "Number of locks released")
	c.Collect(err)
	lm.attempts, err = m.Counter(MetricAttempts, "Number of single lock service calls")
	c.Collect(err)
	lm.acquireDuration, err = m.Histogram(MetricAcquireDuration, "Time spent acquiring a lock",
		metrics.WithUnit("s"), metrics.WithBuckets(durationBuckets))
	c.Collect(err)
	lm.holdDuration, err = m.Histogram(MetricLockHoldDuration, "Time a lock was held by WithLock",
		metrics.WithUnit("s"), metrics.WithBuckets(durationBuckets))
	c.Collect(err)
	if err := c.Err(); err != nil {
		return nil, xerrors.Wrap(err, "dlock: create metrics")
	}
	return &lm, nil
}

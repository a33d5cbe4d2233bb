package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/metrics"
	"github.com/ceyewan/distlock/xerrors"
)

// limiterEntry 包装 rate.Limiter 并记录最后访问时间（UnixNano）
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

func (e *limiterEntry) touch() {
	e.lastSeen.Store(time.Now().UnixNano())
}

type standaloneLimiter struct {
	cfg    *Config
	logger clog.Logger

	allowed  metrics.Counter
	denied   metrics.Counter
	waitTime metrics.Histogram

	limiters  sync.Map // map[string]*limiterEntry
	stopCh    chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newStandalone(cfg *Config, opt options) (Limiter, error) {
	allowed, err := opt.meter.Counter(MetricAllowed, "Requests allowed by the rate limiter")
	if err != nil {
		return nil, err
	}
	denied, err := opt.meter.Counter(MetricDenied, "Requests denied by the rate limiter")
	if err != nil {
		return nil, err
	}
	waitTime, err := opt.meter.Histogram(MetricWaitSeconds, "Time spent waiting for a token", metrics.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	l := &standaloneLimiter{
		cfg:      cfg,
		logger:   opt.logger,
		allowed:  allowed,
		denied:   denied,
		waitTime: waitTime,
		stopCh:   make(chan struct{}),
	}
	go l.cleanup()

	l.logger.Debug("standalone rate limiter created",
		clog.Duration("cleanup_interval", cfg.CleanupInterval),
		clog.Duration("idle_timeout", cfg.IdleTimeout))

	return l, nil
}

func (l *standaloneLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	return l.AllowN(ctx, key, limit, 1)
}

func (l *standaloneLimiter) AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error) {
	if err := l.check(key, limit); err != nil {
		return false, err
	}
	if n <= 0 {
		return false, xerrors.Wrapf(xerrors.ErrInvalidInput, "ratelimit: n must be positive, got %d", n)
	}

	entry := l.entry(key, limit)
	allowed := entry.limiter.AllowN(time.Now(), n)
	entry.touch()

	if allowed {
		l.allowed.Inc(ctx, metrics.L(LabelKey, key))
	} else {
		l.denied.Inc(ctx, metrics.L(LabelKey, key))
		l.logger.DebugContext(ctx, "rate limit exceeded",
			clog.String("key", key),
			clog.Float64("rate", limit.Rate),
			clog.Int("burst", limit.Burst),
			clog.Int("requested", n))
	}
	return allowed, nil
}

func (l *standaloneLimiter) Wait(ctx context.Context, key string, limit Limit) error {
	if err := l.check(key, limit); err != nil {
		return err
	}

	entry := l.entry(key, limit)
	start := time.Now()
	err := entry.limiter.Wait(ctx)
	entry.touch()
	l.waitTime.Record(ctx, time.Since(start).Seconds(), metrics.L(LabelKey, key))

	if err != nil {
		l.denied.Inc(ctx, metrics.L(LabelKey, key))
		return xerrors.Wrapf(err, "ratelimit: wait for %s", key)
	}
	l.allowed.Inc(ctx, metrics.L(LabelKey, key))
	return nil
}

func (l *standaloneLimiter) check(key string, limit Limit) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrKeyEmpty
	}
	if !limit.Valid() {
		return ErrInvalidLimit
	}
	return nil
}

// entry 获取或创建指定 key 的限流器，规则不同的同名 key 各自独立
func (l *standaloneLimiter) entry(key string, limit Limit) *limiterEntry {
	cacheKey := fmt.Sprintf("%s:%v:%d", key, limit.Rate, limit.Burst)
	if v, ok := l.limiters.Load(cacheKey); ok {
		return v.(*limiterEntry)
	}

	e := &limiterEntry{limiter: rate.NewLimiter(rate.Limit(limit.Rate), limit.Burst)}
	e.touch()
	actual, _ := l.limiters.LoadOrStore(cacheKey, e)
	return actual.(*limiterEntry)
}

// cleanup 定期清理空闲的限流器
func (l *standaloneLimiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

func (l *standaloneLimiter) sweep(now time.Time) int {
	count := 0
	l.limiters.Range(func(key, value any) bool {
		e := value.(*limiterEntry)
		if now.Sub(time.Unix(0, e.lastSeen.Load())) > l.cfg.IdleTimeout {
			l.limiters.Delete(key)
			count++
		}
		return true
	})
	if count > 0 {
		l.logger.Debug("cleaned up idle limiters", clog.Int("count", count))
	}
	return count
}

func (l *standaloneLimiter) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.stopCh)
	})
	return nil
}

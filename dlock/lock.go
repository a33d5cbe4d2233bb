package dlock

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/metrics"
	"github.com/ceyewan/distlock/retry"
	"github.com/ceyewan/distlock/trace"
	"github.com/ceyewan/distlock/transport"
	"github.com/ceyewan/distlock/xerrors"
)

// acquireBody POST 请求体，时长单位为秒
type acquireBody struct {
	Wait      int    `json:"wait"`
	Lifetime  int    `json:"lifetime"`
	UserAgent string `json:"user_agent,omitempty"`
	UserData  any    `json:"user_data,omitempty"`
}

// Acquire 获取资源上的互斥锁
//
// 在总等待时长（默认 Config.Wait，可用 WithWait 覆盖）内重试：
// 争用总是重试，硬错误只在 AutomaticRetry 打开时重试。
// 最终因争用失败时返回的错误满足 errors.Is(err, ErrContention)，
// 其他失败满足 errors.Is(err, ErrNotAcquired)。
func (c *Client) Acquire(ctx context.Context, resource string, opts ...LockOption) (*AcquiredLock, error) {
	if err := validateName("resource", resource); err != nil {
		return nil, err
	}
	o := c.lockOptions(c.cfg.Wait, opts)

	ctx, span := trace.StartLockSpan(ctx, nil, c.spanMeta(trace.LockOperationAcquire, resource))
	defer span.End()

	target := c.ResourceURL(resource)
	ceiling := serverWait(o.wait, c.cfg.ServerWait)
	policy := retry.Policy{
		TotalWait:           o.wait,
		AutomaticRetry:      o.automaticRetry,
		Backoff:             o.backoff,
		ServerWaitCeiling:   ceiling,
		NegotiateServerWait: true,
	}

	start := c.clock.Now()
	lock, err := retry.Do(ctx, policy, func(ctx context.Context, forced time.Duration) retry.Outcome[*AcquiredLock] {
		wait := ceiling
		if forced > 0 {
			wait = forced
		}
		return c.tryAcquire(ctx, target, wait, o)
	}, c.retryOptions(ctx, trace.LockOperationAcquire)...)
	elapsed := c.clock.Now().Sub(start)
	c.metrics.acquireDuration.Record(ctx, elapsed.Seconds())

	if err != nil {
		err = acquireError(err)
		reason := failureReason(ctx, err)
		c.metrics.failed.Inc(ctx, metrics.L(LabelReason, reason))
		span.SetAttributes(
			attribute.Int(trace.AttrLockAttempts, retry.AttemptsOf(err)),
			attribute.String(trace.AttrLockOutcome, reason))
		trace.MarkSpanError(span, err)
		if reason == reasonContention {
			c.logger.InfoContext(ctx, "lock not acquired due to contention",
				clog.String("resource", resource),
				clog.Int("attempts", retry.AttemptsOf(err)),
				clog.Duration("elapsed", elapsed))
		} else {
			c.logger.WarnContext(ctx, "lock not acquired",
				clog.String("resource", resource),
				clog.Int("attempts", retry.AttemptsOf(err)),
				clog.Duration("elapsed", elapsed),
				clog.ErrorWithCode(err, CodeNotAcquired))
		}
		return nil, err
	}

	c.metrics.acquired.Inc(ctx)
	span.SetAttributes(
		attribute.String(trace.AttrLockID, lock.LockID),
		attribute.String(trace.AttrLockOutcome, "acquired"))
	c.logger.InfoContext(ctx, "lock acquired",
		clog.String("resource", resource),
		clog.String("lock_id", lock.LockID),
		clog.Time("expires", lock.Expires),
		clog.Duration("elapsed", elapsed))
	return lock, nil
}

func (c *Client) tryAcquire(ctx context.Context, target string, wait time.Duration, o *lockOptions) retry.Outcome[*AcquiredLock] {
	body := acquireBody{
		Wait:      wholeSeconds(wait),
		Lifetime:  wholeSeconds(o.lifetime),
		UserAgent: c.cfg.UserAgent,
		UserData:  o.userData,
	}
	c.logger.DebugContext(ctx, "try to acquire lock",
		clog.String("url", target),
		clog.Int("wait", body.Wait),
		clog.Int("lifetime", body.Lifetime))

	resp, err := c.doer.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    target,
		Header: c.header.Clone(),
		Body:   body,
	})
	if err != nil {
		return retry.Hard[*AcquiredLock](err)
	}
	if resp.Success() {
		lock, err := DecodeLock(resp.Body)
		if err != nil {
			return retry.Hard[*AcquiredLock](err)
		}
		return retry.Success(lock)
	}

	se := &StatusError{StatusCode: resp.StatusCode, Message: resp.Message()}
	switch resp.StatusCode {
	case http.StatusConflict:
		return retry.Contention[*AcquiredLock](se)
	case http.StatusTooManyRequests:
		c.logger.WarnContext(ctx, "rate limited by lock service", clog.String("message", se.Message))
		return retry.Hard[*AcquiredLock](se)
	default:
		return retry.Hard[*AcquiredLock](se)
	}
}

// Release 释放资源上 lockID 对应的锁
//
// 默认总等待 Config.ReleaseWait。409 表示锁已由其他 lock_id 持有（通常是租约已过期后
// 被他人获取），返回 ErrLockMismatch 且不重试。其他失败满足 errors.Is(err, ErrNotReleased)。
func (c *Client) Release(ctx context.Context, resource, lockID string, opts ...LockOption) error {
	if err := validateName("resource", resource); err != nil {
		return err
	}
	if err := validateName("lock id", lockID); err != nil {
		return err
	}
	o := c.lockOptions(c.cfg.ReleaseWait, opts)

	ctx, span := trace.StartLockSpan(ctx, nil, c.spanMeta(trace.LockOperationRelease, resource),
		attribute.String(trace.AttrLockID, lockID))
	defer span.End()

	target := c.ResourceURL(resource) + "/" + url.PathEscape(lockID)
	policy := retry.Policy{
		TotalWait:      o.wait,
		AutomaticRetry: o.automaticRetry,
		Backoff:        o.backoff,
	}

	_, err := retry.Do(ctx, policy, func(ctx context.Context, _ time.Duration) retry.Outcome[struct{}] {
		return c.tryRelease(ctx, target)
	}, c.retryOptions(ctx, trace.LockOperationRelease)...)
	if err != nil {
		err = releaseError(err)
		span.SetAttributes(attribute.Int(trace.AttrLockAttempts, retry.AttemptsOf(err)))
		trace.MarkSpanError(span, err)
		c.logger.WarnContext(ctx, "lock not released",
			clog.String("resource", resource),
			clog.String("lock_id", lockID),
			clog.ErrorWithCode(err, xerrors.GetCode(err)))
		return err
	}

	c.metrics.released.Inc(ctx)
	c.logger.InfoContext(ctx, "lock released",
		clog.String("resource", resource),
		clog.String("lock_id", lockID))
	return nil
}

// ReleaseLock 释放 Acquire 返回的锁
func (c *Client) ReleaseLock(ctx context.Context, lock *AcquiredLock, opts ...LockOption) error {
	if lock == nil {
		return xerrors.Wrap(ErrInvalidResource, "lock is nil")
	}
	return c.Release(ctx, lock.Resource, lock.LockID, opts...)
}

func (c *Client) tryRelease(ctx context.Context, target string) retry.Outcome[struct{}] {
	c.logger.DebugContext(ctx, "try to release lock", clog.String("url", target))

	resp, err := c.doer.Do(ctx, &transport.Request{
		Method: http.MethodDelete,
		URL:    target,
		Header: c.header.Clone(),
	})
	if err != nil {
		return retry.Hard[struct{}](err)
	}
	if resp.Success() {
		return retry.Success(struct{}{})
	}

	se := &StatusError{StatusCode: resp.StatusCode, Message: resp.Message()}
	switch resp.StatusCode {
	case http.StatusConflict:
		return retry.Permanent[struct{}](xerrors.Mark(se, ErrLockMismatch))
	case http.StatusTooManyRequests:
		c.logger.WarnContext(ctx, "rate limited by lock service", clog.String("message", se.Message))
		return retry.Hard[struct{}](se)
	default:
		return retry.Hard[struct{}](se)
	}
}

// WithLock 获取锁后执行 fn，结束后总是释放恰好一次
//
// 获取失败时直接返回获取错误，不会调用 fn 也不会释放。fn 返回错误或 panic 时同样会释放
// （panic 在释放后重新抛出）。释放失败不会被吞掉：与 fn 的错误合并后返回。
// 释放使用与获取相同的选项（没有 WithWait 时按 ReleaseWait），并且不受 ctx 取消的影响。
func (c *Client) WithLock(ctx context.Context, resource string, fn func(ctx context.Context, lock *AcquiredLock) error, opts ...LockOption) (err error) {
	lock, err := c.Acquire(ctx, resource, opts...)
	if err != nil {
		return err
	}

	start := c.clock.Now()
	defer func() {
		c.metrics.holdDuration.Record(ctx, c.clock.Now().Sub(start).Seconds())
		releaseErr := c.Release(context.WithoutCancel(ctx), lock.Resource, lock.LockID, opts...)
		if r := recover(); r != nil {
			if releaseErr != nil {
				c.logger.ErrorContext(ctx, "release after panic failed",
					clog.String("resource", resource),
					clog.String("lock_id", lock.LockID),
					clog.Error(releaseErr))
			}
			panic(r)
		}
		err = xerrors.Combine(err, releaseErr)
	}()

	return fn(ctx, lock)
}

func (c *Client) spanMeta(operation, resource string) trace.LockMeta {
	return trace.LockMeta{
		Operation: operation,
		Resource:  resource,
		TenantID:  c.cfg.TenantID,
		Cluster:   c.cfg.Cluster,
	}
}

// retryOptions 的尝试计数记在 ctx 上，与本次操作的 Span 关联
func (c *Client) retryOptions(ctx context.Context, operation string) []retry.Option {
	return []retry.Option{
		retry.WithClock(c.clock),
		retry.WithLogger(c.logger),
		retry.WithOnAttempt(func(a retry.Attempt) {
			c.metrics.attempts.Inc(ctx,
				metrics.L(LabelOperation, operation),
				metrics.L(LabelOutcome, a.Kind.String()))
		}),
	}
}

// acquireError 把重试结果归入 ErrContention 或 ErrNotAcquired
func acquireError(err error) error {
	if retry.IsContention(err) {
		return xerrors.WithCode(xerrors.Mark(err, ErrContention), CodeContention)
	}
	return xerrors.WithCode(xerrors.Mark(err, ErrNotAcquired), CodeNotAcquired)
}

// releaseError 释放失败统一满足 ErrNotReleased，锁被他人持有时单独给出错误码
func releaseError(err error) error {
	code := CodeNotReleased
	if xerrors.Is(err, ErrLockMismatch) {
		code = CodeLockMismatch
	}
	return xerrors.WithCode(xerrors.Mark(err, ErrNotReleased), code)
}

func failureReason(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return reasonCanceled
	case IsContention(err):
		return reasonContention
	default:
		return reasonError
	}
}

// serverWait 请求服务端挂起的时长：不超过总等待，也不超过上限，至少 1s
func serverWait(wait, ceiling time.Duration) time.Duration {
	return min(max(wait.Truncate(time.Second), time.Second), ceiling)
}

func wholeSeconds(d time.Duration) int {
	return max(int(d.Round(time.Second)/time.Second), 1)
}


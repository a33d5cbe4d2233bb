// Package retry 实现带总时限的等待重试循环。
//
// 一次逻辑操作（获取锁或释放锁）被拆成若干次尝试，每次尝试返回一个 Outcome：
// 成功立即返回；争用总是继续重试；硬错误只在 AutomaticRetry 打开时重试，
// Permanent 构造的硬错误从不重试。
// 循环在剩余时间不够再睡一个 Backoff 时停止，并返回最后一次失败。
//
// 对于会在服务端挂起等待的操作（NegotiateServerWait），当剩余预算不足以容纳
// 一次完整的服务端等待时，后续尝试会收到一个收紧后的 forcedWait（整秒，至少 1s），
// 保证单次服务端调用不会越过调用方的总时限。
//
//	lock, err := retry.Do(ctx, retry.Policy{
//		TotalWait:           60 * time.Second,
//		AutomaticRetry:      true,
//		Backoff:             time.Second,
//		ServerWaitCeiling:   60 * time.Second,
//		NegotiateServerWait: true,
//	}, func(ctx context.Context, forcedWait time.Duration) retry.Outcome[*Lock] {
//		return tryAcquire(ctx, forcedWait)
//	})
package retry

import (
	"context"
	"time"

	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/xerrors"
)

// Policy 单次逻辑调用的重试策略，不做持久化
type Policy struct {
	// TotalWait 调用方愿意为所有尝试付出的总时长
	TotalWait time.Duration
	// AutomaticRetry 硬错误是否继续重试
	AutomaticRetry bool
	// Backoff 两次尝试之间的固定休眠，必须大于 0
	Backoff time.Duration
	// ServerWaitCeiling 单次服务端挂起等待的上限
	ServerWaitCeiling time.Duration
	// NegotiateServerWait 是否在预算收紧时下调服务端等待
	NegotiateServerWait bool
}

// Validate 拒绝无法终止的策略
func (p Policy) Validate() error {
	if p.Backoff <= 0 {
		return xerrors.Wrapf(ErrInvalidPolicy, "backoff must be positive, got %s", p.Backoff)
	}
	if p.TotalWait < 0 {
		return xerrors.Wrapf(ErrInvalidPolicy, "total wait must not be negative, got %s", p.TotalWait)
	}
	if p.ServerWaitCeiling < 0 {
		return xerrors.Wrapf(ErrInvalidPolicy, "server wait ceiling must not be negative, got %s", p.ServerWaitCeiling)
	}
	return nil
}

// Operation 单次尝试。forcedWait 为 0 表示不覆盖服务端等待。
type Operation[T any] func(ctx context.Context, forcedWait time.Duration) Outcome[T]

// Do 重复执行 op 直到成功、遇到不可重试的失败或超出总时限
//
// 失败时返回 *Error，其中 Err 是最后一次失败的原始错误。
// ctx 取消会中断休眠，此时错误同时包含 ctx 的错误和最后一次失败。
func Do[T any](ctx context.Context, p Policy, op Operation[T], opts ...Option) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	o := &options{clock: SystemClock{}, logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	start := o.clock.Now()
	var forced time.Duration

	for attempt := 1; ; attempt++ {
		out := op(ctx, forced)
		elapsed := o.clock.Now().Sub(start)

		if out.Kind != KindSuccess && out.Err == nil {
			out.Err = errHard
			if out.Kind == KindContention {
				out.Err = errContention
			}
		}
		if o.onAttempt != nil {
			o.onAttempt(Attempt{Number: attempt, Kind: out.Kind, Err: out.Err, Elapsed: elapsed, ForcedWait: forced})
		}

		if out.Kind == KindSuccess {
			return out.Value, nil
		}

		fail := &Error{Kind: out.Kind, Attempts: attempt, Elapsed: elapsed, Err: out.Err}
		if out.Kind == KindHard && (out.permanent || !p.AutomaticRetry) {
			o.logger.DebugContext(ctx, "hard failure, not retrying",
				clog.Int("attempt", attempt),
				clog.Bool("permanent", out.permanent),
				clog.Error(out.Err))
			return zero, fail
		}

		// 剩余时间不足以再睡一个 Backoff，返回最后一次失败
		if elapsed > p.TotalWait-p.Backoff {
			o.logger.DebugContext(ctx, "retry budget exhausted",
				clog.Int("attempts", attempt),
				clog.Duration("elapsed", elapsed),
				clog.String("last", out.Kind.String()))
			return zero, fail
		}

		o.logger.DebugContext(ctx, "attempt failed, backing off",
			clog.Int("attempt", attempt),
			clog.String("kind", out.Kind.String()),
			clog.Duration("elapsed", elapsed),
			clog.Duration("backoff", p.Backoff),
			clog.Error(out.Err))

		if err := o.clock.Sleep(ctx, p.Backoff); err != nil {
			fail.Elapsed = o.clock.Now().Sub(start)
			fail.Err = xerrors.Combine(err, out.Err)
			return zero, fail
		}

		if p.NegotiateServerWait && elapsed+p.Backoff+p.ServerWaitCeiling > p.TotalWait {
			forced = max((p.TotalWait - elapsed - p.Backoff).Truncate(time.Second), time.Second)
		}
	}
}

package transport

import (
	"context"
	"fmt"
	"net/http/httptrace"
	"sync"
	"time"
)

// phase 一次交换所处的阶段，只会向前推进
type phase int

const (
	phaseIdle phase = iota
	phasePool
	phaseConnect
	phaseWrite
	phaseRead
)

func (p phase) kind() Kind {
	switch p {
	case phasePool:
		return KindPoolTimeout
	case phaseConnect:
		return KindConnectTimeout
	case phaseWrite:
		return KindWriteTimeout
	case phaseRead:
		return KindReadTimeout
	default:
		return KindGeneric
	}
}

func (p phase) String() string {
	switch p {
	case phasePool:
		return "pool"
	case phaseConnect:
		return "connect"
	case phaseWrite:
		return "write"
	case phaseRead:
		return "read"
	default:
		return "idle"
	}
}

// phaseTimeout 作为请求 context 的取消原因
type phaseTimeout struct {
	phase  phase
	budget time.Duration
}

func (e *phaseTimeout) Error() string {
	return fmt.Sprintf("%s phase exceeded %s", e.phase, e.budget)
}

// watchdog 通过 httptrace 跟踪交换阶段，每个阶段单独计时，
// 超时后以 phaseTimeout 为原因取消请求
type watchdog struct {
	cfg    *Config
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	phase   phase
	timer   *time.Timer
	stopped bool
}

func newWatchdog(ctx context.Context, cfg *Config) (context.Context, *watchdog) {
	ctx, cancel := context.WithCancelCause(ctx)
	w := &watchdog{cfg: cfg, cancel: cancel}
	trace := &httptrace.ClientTrace{
		GetConn:           func(string) { w.enter(phasePool) },
		DNSStart:          func(httptrace.DNSStartInfo) { w.enter(phaseConnect) },
		ConnectStart:      func(string, string) { w.enter(phaseConnect) },
		TLSHandshakeStart: func() { w.enter(phaseConnect) },
		GotConn:           func(httptrace.GotConnInfo) { w.enter(phaseWrite) },
		WroteRequest:      func(httptrace.WroteRequestInfo) { w.enter(phaseRead) },
	}
	return httptrace.WithClientTrace(ctx, trace), w
}

func (w *watchdog) budget(p phase) time.Duration {
	switch p {
	case phasePool:
		return w.cfg.PoolTimeout
	case phaseConnect:
		return w.cfg.ConnectTimeout
	case phaseWrite:
		return w.cfg.WriteTimeout
	case phaseRead:
		return w.cfg.ReadTimeout
	default:
		return 0
	}
}

func (w *watchdog) enter(p phase) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || p <= w.phase {
		return
	}
	w.phase = p
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	d := w.budget(p)
	if d <= 0 {
		return
	}
	w.timer = time.AfterFunc(d, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.stopped || w.phase != p {
			return
		}
		w.cancel(&phaseTimeout{phase: p, budget: d})
	})
}

// current 返回当前阶段
func (w *watchdog) current() phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// stop 停止计时并释放 context
func (w *watchdog) stop() {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	w.cancel(nil)
}

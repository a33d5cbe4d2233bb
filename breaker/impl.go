package breaker

import (
	"context"
	"sync"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/metrics"
	"github.com/ceyewan/distlock/xerrors"
)

type circuitBreaker struct {
	cfg          *Config
	logger       clog.Logger
	isSuccessful func(err error) bool

	stateChanges metrics.Counter
	rejects      metrics.Counter

	breakers sync.Map // map[string]*gobreaker.CircuitBreaker[any]
}

func newBreaker(cfg *Config, opt options) (Breaker, error) {
	stateChanges, err := opt.meter.Counter(MetricStateChanges, "Circuit breaker state changes")
	if err != nil {
		return nil, err
	}
	rejects, err := opt.meter.Counter(MetricRejectsTotal, "Requests rejected by an open circuit breaker")
	if err != nil {
		return nil, err
	}

	cb := &circuitBreaker{
		cfg:          cfg,
		logger:       opt.logger,
		isSuccessful: opt.isSuccessful,
		stateChanges: stateChanges,
		rejects:      rejects,
	}

	cb.logger.Debug("circuit breaker created",
		clog.Int("max_requests", int(cfg.MaxRequests)),
		clog.Duration("timeout", cfg.Timeout),
		clog.Float64("failure_ratio", cfg.FailureRatio),
		clog.Int("minimum_requests", int(cfg.MinimumRequests)))

	return cb, nil
}

func (cb *circuitBreaker) Execute(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	result, err := cb.getOrCreate(key).Execute(fn)
	if err == nil {
		return result, nil
	}
	if !xerrors.Is(err, gobreaker.ErrOpenState) && !xerrors.Is(err, gobreaker.ErrTooManyRequests) {
		return result, err
	}

	cb.rejects.Inc(ctx, metrics.L(LabelKey, key))
	cb.logger.WarnContext(ctx, "circuit breaker rejected request",
		clog.String("key", key),
		clog.Error(err))
	return nil, xerrors.Wrapf(ErrOpenState, "key %s", key)
}

func (cb *circuitBreaker) State(key string) (State, error) {
	if key == "" {
		return StateClosed, ErrKeyEmpty
	}

	val, ok := cb.breakers.Load(key)
	if !ok {
		return StateClosed, nil
	}
	return fromGobreaker(val.(*gobreaker.CircuitBreaker[any]).State()), nil
}

func (cb *circuitBreaker) getOrCreate(key string) *gobreaker.CircuitBreaker[any] {
	if val, ok := cb.breakers.Load(key); ok {
		return val.(*gobreaker.CircuitBreaker[any])
	}

	settings := gobreaker.Settings{
		Name:         key,
		MaxRequests:  cb.cfg.MaxRequests,
		Interval:     cb.cfg.Interval,
		Timeout:      cb.cfg.Timeout,
		ReadyToTrip:  cb.readyToTrip,
		IsSuccessful: cb.isSuccessful,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			cb.onStateChange(name, from, to)
		},
	}

	// 并发创建时以先存入的为准
	actual, _ := cb.breakers.LoadOrStore(key, gobreaker.NewCircuitBreaker[any](settings))
	return actual.(*gobreaker.CircuitBreaker[any])
}

func (cb *circuitBreaker) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < cb.cfg.MinimumRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= cb.cfg.FailureRatio
}

func (cb *circuitBreaker) onStateChange(name string, from gobreaker.State, to gobreaker.State) {
	fromState, toState := fromGobreaker(from).String(), fromGobreaker(to).String()
	cb.logger.Info("circuit breaker state changed",
		clog.String("key", name),
		clog.String("from", fromState),
		clog.String("to", toState))
	cb.stateChanges.Inc(context.Background(),
		metrics.L(LabelKey, name),
		metrics.L(LabelFromState, fromState),
		metrics.L(LabelToState, toState))
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

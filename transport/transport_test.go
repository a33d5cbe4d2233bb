package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ceyewan/distlock/breaker"
	"github.com/ceyewan/distlock/metrics"
	"github.com/ceyewan/distlock/ratelimit"
	"github.com/ceyewan/distlock/testkit"
)

func newTestTransport(t *testing.T, cfg *Config, opts ...Option) *Transport {
	t.Helper()
	tr, err := New(cfg, append([]Option{WithLogger(testkit.NewLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// blockDial 模拟一直不返回的拨号；新版本 net/http 的拨号 context 不随请求取消，这里自带上限
func blockDial(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return context.DeadlineExceeded
	}
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 10*time.Second, c.ConnectTimeout)
	assert.Equal(t, 65*time.Second, c.ReadTimeout)
	assert.Equal(t, 10*time.Second, c.WriteTimeout)
	assert.Equal(t, 10*time.Second, c.PoolTimeout)
	assert.Equal(t, 16, c.MaxConnsPerHost)
	assert.EqualValues(t, 1<<20, c.MaxResponseBytes)
}

func TestDo_JSONExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"wait":5,"lifetime":60}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"lock_id":"abc"}`))
	}))
	defer srv.Close()

	tr := newTestTransport(t, nil)
	resp, err := tr.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/exclusive_locks/t/r",
		Header: http.Header{"Authorization": []string{"Bearer tok"}},
		Body:   map[string]int{"wait": 5, "lifetime": 60},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, resp.Success())

	var got struct {
		LockID string `json:"lock_id"`
	}
	require.NoError(t, resp.JSON(&got))
	assert.Equal(t, "abc", got.LockID)
}

func TestDo_ErrorStatusIsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":" token revoked "}`))
	}))
	defer srv.Close()

	resp, err := newTestTransport(t, nil).Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, resp.Success())
	assert.Equal(t, "token revoked", resp.Message())
}

func TestResponse_Message(t *testing.T) {
	assert.Equal(t, "", (&Response{}).Message())
	assert.Equal(t, "", (&Response{Body: []byte("not json")}).Message())
	assert.Equal(t, "", (&Response{Body: []byte(`{"message":null}`)}).Message())
	assert.Equal(t, `{"code":1}`, (&Response{Body: []byte(`{"message":{"code":1}}`)}).Message())
}

func TestDo_InvalidURL(t *testing.T) {
	_, err := newTestTransport(t, nil).Do(context.Background(), &Request{Method: http.MethodGet, URL: "::not a url"})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindGeneric, kind)
}

func TestDo_ReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := newTestTransport(t, &Config{ReadTimeout: 50 * time.Millisecond})
	_, err := tr.Do(context.Background(), &Request{Method: http.MethodPost, URL: srv.URL, Body: map[string]int{"wait": 1}})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindReadTimeout, kind)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "timeout during read")
}

func TestDo_WriteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 不读取请求体，客户端写满 socket 缓冲后阻塞
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := newTestTransport(t, &Config{WriteTimeout: 100 * time.Millisecond})
	_, err := tr.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   make([]byte, 64<<20),
	})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindWriteTimeout, kind)
}

func TestDo_ConnectTimeout(t *testing.T) {
	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if tr := httptrace.ContextClientTrace(ctx); tr != nil && tr.ConnectStart != nil {
				tr.ConnectStart(network, addr)
			}
			return nil, blockDial(ctx)
		},
	}}

	tr := newTestTransport(t, &Config{ConnectTimeout: 50 * time.Millisecond}, WithHTTPClient(client))
	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: "http://lock.invalid/"})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindConnectTimeout, kind)
	assert.Contains(t, err.Error(), "timeout during connect")
}

func TestDo_PoolTimeout(t *testing.T) {
	// 拨号从未真正开始，请求一直停留在等待连接阶段
	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, blockDial(ctx)
		},
	}}

	tr := newTestTransport(t, &Config{PoolTimeout: 50 * time.Millisecond}, WithHTTPClient(client))
	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: "http://lock.invalid/"})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindPoolTimeout, kind)
	assert.Contains(t, err.Error(), "timeout in connection pool")
}

func TestDo_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestTransport(t, nil).Do(ctx, &Request{Method: http.MethodGet, URL: srv.URL})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindCanceled, kind)
	assert.False(t, IsTimeout(err))
}

func TestDo_GenericError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = newTestTransport(t, nil).Do(context.Background(), &Request{Method: http.MethodGet, URL: "http://" + addr})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindGeneric, kind)
	assert.Contains(t, err.Error(), "generic http error")
}

func TestDo_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	_, err := newTestTransport(t, &Config{MaxResponseBytes: 1024}).Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestDo_Breaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	brk, err := breaker.New(&breaker.Config{MinimumRequests: 2, FailureRatio: 0.5, Timeout: time.Minute})
	require.NoError(t, err)
	tr := newTestTransport(t, nil, WithBreaker(brk))

	for i := 0; i < 2; i++ {
		resp, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}

	_, err = tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindCircuitOpen, kind)
	assert.ErrorIs(t, err, breaker.ErrOpenState)
	assert.EqualValues(t, 2, hits.Load())
}

func TestDo_BreakerIgnores4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	brk, err := breaker.New(&breaker.Config{MinimumRequests: 1, FailureRatio: 0.1})
	require.NoError(t, err)
	tr := newTestTransport(t, nil, WithBreaker(brk))

	for i := 0; i < 5; i++ {
		resp, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	}
}

func TestDo_BreakerIgnoresCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	brk, err := breaker.New(&breaker.Config{MinimumRequests: 1, FailureRatio: 0.1, Timeout: time.Minute},
		breaker.WithIsSuccessful(BreakerSuccessful))
	require.NoError(t, err)
	tr := newTestTransport(t, nil, WithBreaker(brk))

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := tr.Do(ctx, &Request{Method: http.MethodPost, URL: srv.URL})
		cancel()
		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, KindCanceled, kind)
	}

	host := strings.TrimPrefix(srv.URL, "http://")
	state, err := brk.State(host)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, state)
}

func TestBreakerSuccessful(t *testing.T) {
	assert.True(t, BreakerSuccessful(nil))
	assert.True(t, BreakerSuccessful(&Error{Kind: KindCanceled}))
	assert.False(t, BreakerSuccessful(&Error{Kind: KindReadTimeout}))
	assert.False(t, BreakerSuccessful(&serverFailure{status: http.StatusBadGateway}))
}

func TestDo_RateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	limiter, err := ratelimit.New(nil)
	require.NoError(t, err)
	defer limiter.Close()
	tr := newTestTransport(t, nil, WithRateLimiter(limiter, ratelimit.Limit{Rate: 0.01, Burst: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = tr.Do(ctx, &Request{Method: http.MethodDelete, URL: srv.URL})
	require.NoError(t, err)

	_, err = tr.Do(ctx, &Request{Method: http.MethodDelete, URL: srv.URL})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindRateLimited, kind)
}

func TestDo_Tracing(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	defer span.End()

	_, err := newTestTransport(t, nil, WithTracing(true)).Do(ctx, &Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Contains(t, traceparent, span.SpanContext().TraceID().String())
}

func TestDo_Metrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	reader := sdkmetric.NewManualReader()
	meter, err := metrics.New(metrics.NewDevDefaultConfig("transport-test"), metrics.WithReader(reader))
	require.NoError(t, err)
	defer meter.Shutdown(context.Background())

	_, err = newTestTransport(t, nil, WithMeter(meter)).Do(context.Background(), &Request{Method: http.MethodPost, URL: srv.URL})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == metrics.MetricHTTPClientRequestTotal {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestClose_Idempotent(t *testing.T) {
	tr, err := New(nil)
	require.NoError(t, err)
	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
}

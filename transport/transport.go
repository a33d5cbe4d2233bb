// Package transport 执行单次 HTTP 交换，并把传输层失败归类。
//
// Transport 只负责"一次"：它从不在内部重试，重试完全交给 retry 包。
// 失败按发生阶段分为连接池等待、建连、写请求、读响应四类超时，
// 以及通用错误、熔断和取消：
//
//	t, _ := transport.New(transport.DefaultConfig(), transport.WithLogger(logger))
//	defer t.Close()
//
//	resp, err := t.Do(ctx, &transport.Request{Method: http.MethodPost, URL: url, Body: payload})
//	if kind, ok := transport.KindOf(err); ok && kind == transport.KindReadTimeout {
//		// 服务端没有在读超时内回复
//	}
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/metrics"
	"github.com/ceyewan/distlock/trace"
	"github.com/ceyewan/distlock/xerrors"
)

// Config 传输层配置
//
// ReadTimeout 需要大于锁服务单次请求可能挂起的最长时间（服务端等待上限）。
type Config struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PoolTimeout      time.Duration `mapstructure:"pool_timeout"`
	MaxConnsPerHost  int           `mapstructure:"max_conns_per_host"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
}

// DefaultConfig 返回默认配置：connect 10s / read 65s / write 10s / pool 10s
func DefaultConfig() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 65 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PoolTimeout <= 0 {
		c.PoolTimeout = 10 * time.Second
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = 16
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 16
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 1 << 20
	}
}

// Transport 持有一个连接池，并发安全
type Transport struct {
	cfg       *Config
	client    *http.Client
	logger    clog.Logger
	opts      options
	metrics   *metrics.HTTPMetrics
	closeOnce sync.Once
}

// New 创建 Transport，cfg 为 nil 时使用 DefaultConfig
func New(cfg *Config, opts ...Option) (*Transport, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Transport{cfg: &c, logger: o.logger, opts: o}

	httpMetrics, err := metrics.NewHTTPClientMetrics(o.meter, metrics.DefaultHTTPClientMetricsConfig("dlock"))
	if err != nil {
		return nil, xerrors.Wrap(err, "transport: create metrics")
	}
	t.metrics = httpMetrics

	if o.client != nil {
		t.client = o.client
	} else {
		t.client = &http.Client{Transport: newRoundTripper(&c)}
	}
	if o.tracing {
		base := t.client.Transport
		client := *t.client
		client.Transport = trace.HTTPTransport(base)
		t.client = &client
	}
	return t, nil
}

func newRoundTripper(c *Config) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   c.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxConnsPerHost:       c.MaxConnsPerHost,
		MaxIdleConns:          c.MaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxIdleConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   c.ConnectTimeout,
		ResponseHeaderTimeout: c.ReadTimeout,
		ExpectContinueTimeout: time.Second,
	}
}

// Config 返回生效的配置副本
func (t *Transport) Config() Config {
	return *t.cfg
}

// Do 执行一次交换
//
// 只要拿到完整响应就返回 *Response（包括 4xx/5xx），错误只表示没有拿到响应，
// 此时错误链上一定有 *Error。
func (t *Transport) Do(ctx context.Context, req *Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return nil, &Error{Kind: KindGeneric, Method: req.Method, URL: req.URL, Err: xerrors.Wrap(xerrors.ErrInvalidInput, "invalid url")}
	}
	host := u.Host

	if t.opts.limiter != nil && t.opts.limit.Valid() {
		if err := t.opts.limiter.Wait(ctx, host, t.opts.limit); err != nil {
			kind := KindRateLimited
			if ctx.Err() != nil {
				kind = KindCanceled
			}
			return nil, &Error{Kind: kind, Method: req.Method, URL: req.URL, Err: err}
		}
	}

	if t.opts.breaker == nil {
		return t.exchange(ctx, host, req)
	}

	v, err := t.opts.breaker.Execute(ctx, host, func() (any, error) {
		resp, err := t.exchange(ctx, host, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, &serverFailure{status: resp.StatusCode}
		}
		return resp, nil
	})

	var sf *serverFailure
	if err != nil && !xerrors.As(err, &sf) {
		if isTransportError(err) {
			return nil, err
		}
		return nil, &Error{Kind: KindCircuitOpen, Method: req.Method, URL: req.URL, Err: err}
	}
	resp, _ := v.(*Response)
	return resp, nil
}

// serverFailure 让 5xx 计入熔断统计，但对调用方仍然是一个正常响应
type serverFailure struct {
	status int
}

func (e *serverFailure) Error() string {
	return "server error " + http.StatusText(e.status)
}

func isTransportError(err error) bool {
	_, ok := KindOf(err)
	return ok
}

func (t *Transport) exchange(ctx context.Context, host string, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := t.roundTrip(ctx, req)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	t.metrics.Observe(ctx, req.Method, host, status, time.Since(start))

	if err != nil {
		t.logger.DebugContext(ctx, "http exchange failed",
			clog.String("method", req.Method),
			clog.String("url", req.URL),
			clog.Duration("elapsed", time.Since(start)),
			clog.Error(err))
		return nil, err
	}
	t.logger.DebugContext(ctx, "http exchange",
		clog.String("method", req.Method),
		clog.String("url", req.URL),
		clog.Int("status", resp.StatusCode),
		clog.Duration("elapsed", time.Since(start)))
	return resp, nil
}

func (t *Transport) roundTrip(parent context.Context, req *Request) (*Response, error) {
	fail := func(kind Kind, err error) (*Response, error) {
		return nil, &Error{Kind: kind, Method: req.Method, URL: req.URL, Err: err}
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return fail(KindGeneric, xerrors.Wrap(err, "encode request body"))
	}

	ctx, w := newWatchdog(parent, t.cfg)
	defer w.stop()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return fail(KindGeneric, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return fail(classify(ctx, parent, w, err))
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, t.cfg.MaxResponseBytes+1))
	if err != nil {
		return fail(classify(ctx, parent, w, err))
	}
	if int64(len(data)) > t.cfg.MaxResponseBytes {
		return fail(KindGeneric, ErrBodyTooLarge)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// classify 根据取消原因和当前阶段归类失败
func classify(ctx, parent context.Context, w *watchdog, err error) (Kind, error) {
	var pt *phaseTimeout
	if xerrors.As(context.Cause(ctx), &pt) {
		return pt.phase.kind(), pt
	}
	if parent.Err() != nil {
		return KindCanceled, err
	}
	var ne net.Error
	if xerrors.As(err, &ne) && ne.Timeout() {
		// 来自 Dialer.Timeout 或 ResponseHeaderTimeout
		if k := w.current().kind(); k != KindGeneric {
			return k, err
		}
	}
	return KindGeneric, err
}

func encodeBody(v any) (io.Reader, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(b), nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}
}

// Close 释放连接池中的空闲连接，可重复调用
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.client.CloseIdleConnections()
	})
	return nil
}

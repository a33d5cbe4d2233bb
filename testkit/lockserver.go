package testkit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ceyewan/distlock/metrics"
	"github.com/ceyewan/distlock/trace"
)

// Reply 预设的一次响应。Body 为 nil 且 Status 为 2xx 时按正常逻辑授予锁。
type Reply struct {
	Status int
	Body   any
	// Delay 回复前的等待，模拟服务端挂起
	Delay time.Duration
}

// Status 只有状态码的预设响应，非 2xx 时响应体为 {"message": <状态文本>}
func Status(code int) Reply {
	return Reply{Status: code}
}

// RecordedRequest 服务端收到的一次请求
type RecordedRequest struct {
	Method   string
	Path     string
	Tenant   string
	Resource string
	LockID   string
	Header   http.Header
	Body     map[string]any
	At       time.Time
}

// Wait 请求体中的 wait 秒数，没有时返回 -1
func (r RecordedRequest) Wait() int {
	return intField(r.Body, "wait")
}

// Lifetime 请求体中的 lifetime 秒数，没有时返回 -1
func (r RecordedRequest) Lifetime() int {
	return intField(r.Body, "lifetime")
}

type heldLock struct {
	lockID  string
	expires time.Time
}

// LockServer 进程内的锁服务替身，实现 exclusive_locks 的 POST 和 DELETE
//
// 没有预设响应时按真实语义工作：资源空闲或已过期则授予锁（201），
// 否则返回 409；DELETE 只接受当前持有者的 lock_id。
type LockServer struct {
	URL string

	server   *httptest.Server
	token    string
	replies  map[string][]Reply
	conflict bool

	mu       sync.Mutex
	locks    map[string]heldLock
	requests []RecordedRequest
}

// LockServerOption LockServer 的可选项
type LockServerOption func(*lockServerOptions)

type lockServerOptions struct {
	token       string
	meter       metrics.Meter
	middlewares []gin.HandlerFunc
	tracing     bool
}

// WithToken 要求 Authorization: Bearer <token>，不匹配时返回 403
func WithToken(token string) LockServerOption {
	return func(o *lockServerOptions) {
		o.token = token
	}
}

// WithServerMeter 记录服务端 HTTP 指标
func WithServerMeter(m metrics.Meter) LockServerOption {
	return func(o *lockServerOptions) {
		o.meter = m
	}
}

// WithMiddleware 在路由前挂载额外的中间件，例如服务端限流
func WithMiddleware(h ...gin.HandlerFunc) LockServerOption {
	return func(o *lockServerOptions) {
		o.middlewares = append(o.middlewares, h...)
	}
}

// WithServerTracing 为每个请求创建服务端 Span
func WithServerTracing() LockServerOption {
	return func(o *lockServerOptions) {
		o.tracing = true
	}
}

// NewLockServer 启动锁服务替身，测试结束时自动关闭
func NewLockServer(t *testing.T, opts ...LockServerOption) *LockServer {
	t.Helper()
	o := &lockServerOptions{}
	for _, opt := range opts {
		opt(o)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	// 资源名可以包含 "/"，按转义后的路径路由
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.Use(gin.Recovery())
	if o.tracing {
		r.Use(trace.GinMiddleware("dlock-server"))
	}
	if o.meter != nil {
		hm, err := metrics.NewHTTPServerMetrics(o.meter, metrics.DefaultHTTPServerMetricsConfig("dlock-server"))
		if err != nil {
			t.Fatalf("create server metrics: %v", err)
		}
		r.Use(metrics.GinHTTPMiddleware(hm))
	}
	r.Use(o.middlewares...)

	s := &LockServer{
		token:   o.token,
		replies: make(map[string][]Reply),
		locks:   make(map[string]heldLock),
	}
	r.POST("/exclusive_locks/:tenant/:resource", s.handleAcquire)
	r.DELETE("/exclusive_locks/:tenant/:resource/:lock_id", s.handleRelease)

	s.server = httptest.NewServer(r)
	s.URL = s.server.URL
	t.Cleanup(s.server.Close)
	return s
}

// QueueAcquire 追加 POST 的预设响应，按顺序消费
func (s *LockServer) QueueAcquire(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[http.MethodPost] = append(s.replies[http.MethodPost], replies...)
}

// QueueRelease 追加 DELETE 的预设响应，按顺序消费
func (s *LockServer) QueueRelease(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[http.MethodDelete] = append(s.replies[http.MethodDelete], replies...)
}

// AlwaysConflict 之后的每个 POST 都返回 409
func (s *LockServer) AlwaysConflict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflict = true
}

// Requests 返回收到的所有请求
func (s *LockServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count 返回指定方法的请求数
func (s *LockServer) Count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method {
			n++
		}
	}
	return n
}

// Holder 返回资源当前持有者的 lock_id，未持有时为空
func (s *LockServer) Holder(tenant, resource string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.locks[tenant+"/"+resource]
	if !ok || time.Now().After(h.expires) {
		return ""
	}
	return h.lockID
}

func (s *LockServer) handleAcquire(c *gin.Context) {
	rec := s.record(c)
	if !s.authorized(c) {
		return
	}

	s.mu.Lock()
	reply, scripted := s.next(http.MethodPost)
	conflict := s.conflict
	s.mu.Unlock()

	if scripted {
		time.Sleep(reply.Delay)
		if reply.Body != nil || !success(reply.Status) {
			s.write(c, reply)
			return
		}
	} else if conflict {
		c.JSON(http.StatusConflict, gin.H{"message": "resource already locked"})
		return
	}

	lifetime := rec.Lifetime()
	if lifetime <= 0 {
		lifetime = 3600
	}
	now := time.Now().UTC().Truncate(time.Second)
	key := rec.Tenant + "/" + rec.Resource

	s.mu.Lock()
	h, held := s.locks[key]
	if held && now.Before(h.expires) && !scripted {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"message": "resource already locked"})
		return
	}
	lock := heldLock{lockID: uuid.NewString(), expires: now.Add(time.Duration(lifetime) * time.Second)}
	s.locks[key] = lock
	s.mu.Unlock()

	status := http.StatusCreated
	if scripted {
		status = reply.Status
	}
	userAgent, _ := rec.Body["user_agent"].(string)
	c.JSON(status, gin.H{
		"resource":   rec.Resource,
		"lock_id":    lock.lockID,
		"tenant_id":  rec.Tenant,
		"created":    now.Format("2006-01-02T15:04:05Z"),
		"expires":    lock.expires.Format("2006-01-02T15:04:05Z"),
		"user_agent": userAgent,
		"user_data":  rec.Body["user_data"],
	})
}

func (s *LockServer) handleRelease(c *gin.Context) {
	rec := s.record(c)
	if !s.authorized(c) {
		return
	}

	s.mu.Lock()
	reply, scripted := s.next(http.MethodDelete)
	s.mu.Unlock()
	if scripted {
		time.Sleep(reply.Delay)
		s.write(c, reply)
		return
	}

	key := rec.Tenant + "/" + rec.Resource
	s.mu.Lock()
	defer s.mu.Unlock()
	h, held := s.locks[key]
	if held && time.Now().Before(h.expires) && h.lockID != rec.LockID {
		c.JSON(http.StatusConflict, gin.H{"message": "held by a different lock_id"})
		return
	}
	delete(s.locks, key)
	c.Status(http.StatusNoContent)
}

func (s *LockServer) authorized(c *gin.Context) bool {
	if s.token == "" || c.GetHeader("Authorization") == "Bearer "+s.token {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"message": "invalid token"})
	return false
}

// next 弹出一个预设响应，调用方持有锁
func (s *LockServer) next(method string) (Reply, bool) {
	q := s.replies[method]
	if len(q) == 0 {
		return Reply{}, false
	}
	s.replies[method] = q[1:]
	return q[0], true
}

func (s *LockServer) write(c *gin.Context, reply Reply) {
	switch body := reply.Body.(type) {
	case nil:
		if success(reply.Status) {
			c.Status(reply.Status)
			return
		}
		c.JSON(reply.Status, gin.H{"message": http.StatusText(reply.Status)})
	case string:
		c.Data(reply.Status, "application/json", []byte(body))
	default:
		c.JSON(reply.Status, body)
	}
}

func (s *LockServer) record(c *gin.Context) RecordedRequest {
	rec := RecordedRequest{
		Method:   c.Request.Method,
		Path:     c.Request.URL.EscapedPath(),
		Tenant:   c.Param("tenant"),
		Resource: c.Param("resource"),
		LockID:   c.Param("lock_id"),
		Header:   c.Request.Header.Clone(),
		At:       time.Now(),
	}
	if data, err := io.ReadAll(c.Request.Body); err == nil && len(strings.TrimSpace(string(data))) > 0 {
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.UseNumber()
		_ = dec.Decode(&rec.Body)
	}

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	s.mu.Unlock()
	return rec
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func intField(body map[string]any, key string) int {
	v, ok := body[key].(json.Number)
	if !ok {
		return -1
	}
	n, err := v.Int64()
	if err != nil {
		return -1
	}
	return int(n)
}

package transport

import (
	"fmt"

	"github.com/ceyewan/distlock/xerrors"
)

// Kind 传输失败的分类
type Kind int

const (
	KindGeneric Kind = iota
	KindConnectTimeout
	KindReadTimeout
	KindWriteTimeout
	KindPoolTimeout
	KindCircuitOpen
	KindRateLimited
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindConnectTimeout:
		return "timeout during connect"
	case KindReadTimeout:
		return "timeout during read"
	case KindWriteTimeout:
		return "timeout during write"
	case KindPoolTimeout:
		return "timeout in connection pool"
	case KindCircuitOpen:
		return "circuit breaker open"
	case KindRateLimited:
		return "rate limited by client"
	case KindCanceled:
		return "request canceled"
	default:
		return "generic http error"
	}
}

// Timeout 判断是否为四类超时之一
func (k Kind) Timeout() bool {
	switch k {
	case KindConnectTimeout, KindReadTimeout, KindWriteTimeout, KindPoolTimeout:
		return true
	}
	return false
}

// Error 一次交换失败（没有拿到完整响应）
type Error struct {
	Kind   Kind
	Method string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s %s", e.Kind, e.Method, e.URL)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Method, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 返回 err 链上的传输失败分类，不是传输错误时 ok 为 false
func KindOf(err error) (Kind, bool) {
	var te *Error
	if xerrors.As(err, &te) {
		return te.Kind, true
	}
	return KindGeneric, false
}

// IsTimeout 判断 err 是否为传输超时
func IsTimeout(err error) bool {
	k, ok := KindOf(err)
	return ok && k.Timeout()
}

// BreakerSuccessful 交给 breaker.WithIsSuccessful，决定哪些失败计入熔断统计。
// 调用方取消或超时不说明服务不可用，不计入；5xx 与其他传输失败计入。
// 4xx 不会以错误形式出现在熔断器中，始终视为成功。
func BreakerSuccessful(err error) bool {
	if err == nil {
		return true
	}
	k, ok := KindOf(err)
	return ok && k == KindCanceled
}

// ErrBodyTooLarge 响应体超过 Config.MaxResponseBytes
var ErrBodyTooLarge = xerrors.New("transport: response body too large")

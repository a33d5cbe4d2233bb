package dlock

import (
	"fmt"

	"github.com/ceyewan/distlock/xerrors"
)

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("dlock: config is nil")

	// ErrBadConfiguration 缺少必需配置（token、tenant_id）或取值非法，不会重试
	ErrBadConfiguration = xerrors.New("dlock: bad configuration")

	// ErrNotAcquired 获取锁失败（硬错误）
	ErrNotAcquired = xerrors.New("dlock: not acquired")

	// ErrContention 资源被其他持有者占用，等待预算耗尽仍未拿到锁
	ErrContention = xerrors.New("dlock: not acquired due to contention")

	// ErrNotReleased 释放锁失败
	ErrNotReleased = xerrors.New("dlock: not released")

	// ErrLockMismatch 锁当前由其他 lock_id 持有，释放立即失败不重试
	ErrLockMismatch = xerrors.New("dlock: not released, held by a different lock_id")

	// ErrMalformedRecord 服务端返回的锁记录缺少字段或无法解析
	ErrMalformedRecord = xerrors.New("dlock: bad reply from service")

	// ErrInvalidResource 资源名或 lock_id 为空
	ErrInvalidResource = xerrors.New("dlock: invalid resource")
)

// 终止错误上的错误码，用 xerrors.GetCode 读取，命令行据此决定退出码
const (
	CodeContention       = "CONTENTION"
	CodeNotAcquired      = "NOT_ACQUIRED"
	CodeNotReleased      = "NOT_RELEASED"
	CodeLockMismatch     = "LOCK_MISMATCH"
	CodeBadConfiguration = "BAD_CONFIGURATION"
)

func configError(err error) error {
	return xerrors.WithCode(err, CodeBadConfiguration)
}

// StatusError 由非 2xx 响应产生的失败
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	switch e.StatusCode {
	case 403:
		if e.Message == "" {
			return "got a HTTP/403 Forbidden error with no detail"
		}
		return "got a HTTP/403 Forbidden error with message: " + e.Message
	case 409:
		return "got a HTTP/409 Conflict"
	case 429:
		if e.Message == "" {
			return "got a HTTP/429 Rate limited error with no detail"
		}
		return "got a HTTP/429 Rate limited error with message: " + e.Message
	default:
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
}

// IsContention 判断错误是否为争用导致的获取失败
func IsContention(err error) bool {
	return xerrors.Is(err, ErrContention)
}

// StatusCodeOf 返回错误链上的 HTTP 状态码，没有时返回 0
func StatusCodeOf(err error) int {
	var se *StatusError
	if xerrors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

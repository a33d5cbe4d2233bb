package retry

import (
	"fmt"
	"time"

	"github.com/ceyewan/distlock/xerrors"
)

var (
	// ErrInvalidPolicy 策略无法保证循环终止
	ErrInvalidPolicy = xerrors.New("retry: invalid policy")

	errContention = xerrors.New("retry: contention")
	errHard       = xerrors.New("retry: hard failure")
)

// Error 重试结束时携带最后一次失败
type Error struct {
	Kind     Kind
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v (%s after %d attempts in %s)", e.Err, e.Kind, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsContention 判断最终失败是否为争用
func IsContention(err error) bool {
	var re *Error
	return xerrors.As(err, &re) && re.Kind == KindContention
}

// AttemptsOf 返回最终失败前的尝试次数，err 不是 *Error 时返回 0
func AttemptsOf(err error) int {
	var re *Error
	if xerrors.As(err, &re) {
		return re.Attempts
	}
	return 0
}

package config

import "github.com/ceyewan/distlock/xerrors"

// ErrValidationFailed 验证失败
var ErrValidationFailed = xerrors.New("config: validation failed")

// IsNotFound 检查错误是否为配置未找到
func IsNotFound(err error) bool {
	return xerrors.Is(err, xerrors.ErrNotFound)
}

// IsValidationFailed 检查错误是否为配置校验失败
func IsValidationFailed(err error) bool {
	return xerrors.Is(err, ErrValidationFailed)
}

// WrapValidationError 把 err 归入 ErrValidationFailed
func WrapValidationError(err error) error {
	return xerrors.Mark(err, ErrValidationFailed)
}

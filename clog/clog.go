package clog

import (
	"fmt"
	"sync/atomic"
)

var defaultLogger atomic.Value

// New 创建一个新的 Logger 实例
//
// config - 日志配置，如果为 nil 会使用默认配置
// opts   - 函数式选项列表，用于命名空间、Context 字段等配置
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = NewDevDefaultConfig("distlock")
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	options := applyOptions(opts...)

	return newLogger(config, options)
}

// Default 返回进程级默认 Logger
//
// 未通过 SetDefault 设置时返回静默 Logger，库代码不会在调用方不知情时输出日志。
func Default() Logger {
	if l, ok := defaultLogger.Load().(Logger); ok && l != nil {
		return l
	}
	return Discard()
}

// SetDefault 设置进程级默认 Logger，nil 会被忽略
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultLogger.Store(l)
}

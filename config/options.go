package config

import "github.com/ceyewan/distlock/clog"

// Option 加载器选项
type Option func(*options)

type options struct {
	logger   clog.Logger
	defaults map[string]any
	noWatch  bool
}

// WithLogger 注入日志记录器，组件会自动添加 "config" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("config")
		}
	}
}

// WithDefaults 注册默认值
//
// 只有注册过的 key 才能被 Unmarshal 从环境变量中读到，
// 纯环境变量场景需要为每个 key 注册默认值（可以是零值）。
func WithDefaults(defaults map[string]any) Option {
	return func(o *options) {
		if o.defaults == nil {
			o.defaults = make(map[string]any, len(defaults))
		}
		for k, v := range defaults {
			o.defaults[k] = v
		}
	}
}

// WithoutWatch 关闭配置文件监听，适用于一次性加载的 CLI 场景
func WithoutWatch() Option {
	return func(o *options) {
		o.noWatch = true
	}
}

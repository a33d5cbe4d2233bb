// Package testkit 提供测试用的公共依赖和一个进程内的锁服务替身。
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/metrics"
)

// NewLogger 返回一个用于测试的 logger，开发环境格式输出到 stderr
func NewLogger() clog.Logger {
	logger, err := clog.New(clog.NewDevDefaultConfig("distlock"))
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回一个用于测试的 meter，不监听端口
func NewMeter() metrics.Meter {
	meter, err := metrics.New(metrics.NewDevDefaultConfig("test"))
	if err != nil {
		return metrics.Discard()
	}
	return meter
}

// NewContext 返回一个带有超时的测试上下文
func NewContext(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), timeout)
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)，用于生成互不冲突的资源名
func NewID() string {
	return uuid.New().String()[0:8]
}

package main

import (
	"context"
	"fmt"

	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/config"
)

// watchLogLevel 让 dlock.yaml 中的 log.level 生效，并在文件修改后即时调整日志级别。
// 显式给出 --log-level 时以命令行为准，不读取也不监听。
func (c *cli) watchLogLevel(ctx context.Context) error {
	if c.v.IsSet(keyLogLevel) {
		return nil
	}
	loader, err := config.New(c.loaderConfig(), config.WithLogger(c.logger))
	if err != nil {
		return err
	}
	if err := loader.Load(ctx); err != nil {
		return err
	}
	if loader.ConfigFileUsed() == "" {
		return nil
	}
	if level := loader.GetString(keyLogLevel); level != "" {
		c.setLogLevel(level)
	}

	events, err := loader.Watch(ctx, keyLogLevel)
	if err != nil {
		return err
	}
	go func() {
		for ev := range events {
			c.setLogLevel(fmt.Sprint(ev.Value))
		}
	}()
	return nil
}

func (c *cli) setLogLevel(s string) {
	level, err := clog.ParseLevel(s)
	if err != nil {
		c.logger.Warn("ignoring invalid log level", clog.String("level", s))
		return
	}
	if err := c.logger.SetLevel(level); err != nil {
		c.logger.Warn("failed to change log level", clog.Error(err))
		return
	}
	c.logger.Info("log level changed", clog.String("level", level.String()))
}

package main

import (
	"context"
	"os"
	"strings"

	"github.com/ceyewan/distlock/trace"
)

// 链路信息通过环境变量在进程间传递：TRACEPARENT、TRACESTATE、BAGGAGE
var traceEnvKeys = []string{"traceparent", "tracestate", "baggage"}

func traceCarrierFromEnv() map[string]string {
	carrier := make(map[string]string, len(traceEnvKeys))
	for _, k := range traceEnvKeys {
		if v := os.Getenv(strings.ToUpper(k)); v != "" {
			carrier[k] = v
		}
	}
	return carrier
}

// traceEnv 把 ctx 中的链路信息转成子进程的环境变量
func traceEnv(ctx context.Context) []string {
	carrier := make(map[string]string, len(traceEnvKeys))
	trace.Inject(ctx, carrier)
	env := make([]string, 0, len(carrier))
	for _, k := range traceEnvKeys {
		if v, ok := carrier[k]; ok {
			env = append(env, strings.ToUpper(k)+"="+v)
		}
	}
	return env
}

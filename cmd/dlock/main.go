// Command dlock 在命令行中获取、释放远程互斥锁，或在持有锁期间运行一个命令。
//
//	eval "$(dlock acquire nightly-report --wait 30s)"
//	dlock release nightly-report "$DLOCK_LOCK_ID"
//	dlock run nightly-report --wait 5m -- ./generate-report.sh
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "dlock:", err)
		return exitCode(err)
	}
	return 0
}

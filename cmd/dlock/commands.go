package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ceyewan/distlock/clog"
	"github.com/ceyewan/distlock/dlock"
	"github.com/ceyewan/distlock/xerrors"
)

// lockFlags acquire 和 run 共用的参数
type lockFlags struct {
	lifetime time.Duration
	wait     time.Duration
	backoff  time.Duration
	userData string
	noRetry  bool
}

func (f *lockFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.DurationVar(&f.lifetime, "lifetime", 0, "lease duration (default from config, 1h)")
	flags.DurationVar(&f.wait, "wait", 0, "total time to keep trying (default from config)")
	flags.DurationVar(&f.backoff, "backoff", 0, "sleep between attempts (default 1s)")
	flags.StringVar(&f.userData, "user-data", "", "JSON value stored with the lock")
	flags.BoolVar(&f.noRetry, "no-retry", false, "do not retry on errors (contention is still retried until --wait)")
}

func (f *lockFlags) options(cmd *cobra.Command) ([]dlock.LockOption, error) {
	var opts []dlock.LockOption
	flags := cmd.Flags()
	if flags.Changed("lifetime") {
		opts = append(opts, dlock.WithLifetime(f.lifetime))
	}
	if flags.Changed("wait") {
		opts = append(opts, dlock.WithWait(f.wait))
	}
	if flags.Changed("backoff") {
		opts = append(opts, dlock.WithRetryBackoff(f.backoff))
	}
	if f.noRetry {
		opts = append(opts, dlock.WithAutomaticRetry(false))
	}
	if f.userData != "" {
		var v any
		if err := json.Unmarshal([]byte(f.userData), &v); err != nil {
			return nil, xerrors.Wrap(err, "--user-data must be valid JSON")
		}
		opts = append(opts, dlock.WithUserData(v))
	}
	return opts, nil
}

func newAcquireCommand(c *cli) *cobra.Command {
	var lf lockFlags
	var output string

	cmd := &cobra.Command{
		Use:   "acquire <resource>",
		Short: "Acquire a lock and print its lock id",
		Example: `  # Acquire a lock and export environment variables
  eval "$(dlock acquire nightly-report --wait 30s)"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer c.close()
			opts, err := lf.options(cmd)
			if err != nil {
				return err
			}
			client, err := c.client(cmd)
			if err != nil {
				return err
			}
			lock, err := client.Acquire(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			return writeLock(cmd, lock, output)
		},
	}
	lf.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "env", "output format (env|json)")
	return cmd
}

func writeLock(cmd *cobra.Command, lock *dlock.AcquiredLock, output string) error {
	out := cmd.OutOrStdout()
	switch strings.ToLower(output) {
	case "json":
		body, err := dlock.EncodeLock(lock)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(body))
		return err
	case "env", "":
		for _, kv := range [][2]string{
			{envResource, lock.Resource},
			{envLockID, lock.LockID},
			{envExpires, dlock.FormatTime(lock.Expires)},
		} {
			if _, err := fmt.Fprintf(out, "export %s=%s\n", kv[0], shellQuote(kv[1])); err != nil {
				return err
			}
		}
		return nil
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "unknown output format %q", output)
	}
}

func newReleaseCommand(c *cli) *cobra.Command {
	var wait time.Duration
	var noRetry bool

	cmd := &cobra.Command{
		Use:   "release <resource> [lock-id]",
		Short: "Release a lock (lock id defaults to $DLOCK_LOCK_ID)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer c.close()
			lockID := os.Getenv(envLockID)
			if len(args) == 2 {
				lockID = args[1]
			}
			if lockID == "" {
				return xerrors.Wrapf(xerrors.ErrInvalidInput, "lock id required (argument or %s)", envLockID)
			}

			var opts []dlock.LockOption
			if cmd.Flags().Changed("wait") {
				opts = append(opts, dlock.WithWait(wait))
			}
			if noRetry {
				opts = append(opts, dlock.WithAutomaticRetry(false))
			}

			client, err := c.client(cmd)
			if err != nil {
				return err
			}
			return client.Release(cmd.Context(), args[0], lockID, opts...)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "total time to keep trying (default 30s)")
	cmd.Flags().BoolVar(&noRetry, "no-retry", false, "do not retry on errors")
	return cmd
}

func newRunCommand(c *cli) *cobra.Command {
	var lf lockFlags

	cmd := &cobra.Command{
		Use:   "run <resource> -- <command> [args...]",
		Short: "Run a command while holding a lock",
		Example: `  # Make sure only one host runs the report at a time
  dlock run nightly-report --wait 5m -- ./generate-report.sh`,
		Args: func(cmd *cobra.Command, args []string) error {
			if cmd.ArgsLenAtDash() != 1 || len(args) < 2 {
				return xerrors.New("usage: dlock run <resource> -- <command> [args...]")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			defer c.close()
			opts, err := lf.options(cmd)
			if err != nil {
				return err
			}
			client, err := c.client(cmd)
			if err != nil {
				return err
			}
			watchCtx, stopWatch := context.WithCancel(cmd.Context())
			c.onClose(stopWatch)
			if err := c.watchLogLevel(watchCtx); err != nil {
				c.logger.Warn("log level reload disabled", clog.Error(err))
			}

			resource, argv := args[0], args[1:]
			return client.WithLock(cmd.Context(), resource, func(ctx context.Context, lock *dlock.AcquiredLock) error {
				child := exec.CommandContext(ctx, argv[0], argv[1:]...)
				child.Stdin = cmd.InOrStdin()
				child.Stdout = cmd.OutOrStdout()
				child.Stderr = cmd.ErrOrStderr()
				child.Env = append(os.Environ(),
					envResource+"="+lock.Resource,
					envLockID+"="+lock.LockID,
					envExpires+"="+dlock.FormatTime(lock.Expires))
				child.Env = append(child.Env, traceEnv(ctx)...)

				c.logger.InfoContext(ctx, "running command under lock",
					clog.String("resource", resource),
					clog.String("lock_id", lock.LockID),
					clog.String("command", strings.Join(argv, " ")))

				err := child.Run()
				var ee *exec.ExitError
				if xerrors.As(err, &ee) {
					return &exitError{code: ee.ExitCode()}
				}
				return err
			}, opts...)
		},
	}
	lf.register(cmd)
	return cmd
}

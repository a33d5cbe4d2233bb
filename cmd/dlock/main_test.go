package main

import (
	"bytes"
	"context"
	"net/http"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/distlock/dlock"
	"github.com/ceyewan/distlock/testkit"
	"github.com/ceyewan/distlock/trace"
	"github.com/ceyewan/distlock/xerrors"
)

func baseArgs(t *testing.T, srv *testkit.LockServer) []string {
	t.Helper()
	return []string{
		"--base-url", srv.URL,
		"--token", "secret",
		"--tenant-id", "acme",
		"--config-dir", t.TempDir(),
		"--log-level", "error",
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAcquire_EnvOutput(t *testing.T) {
	srv := testkit.NewLockServer(t, testkit.WithToken("secret"))
	resource := "report-" + testkit.NewID()

	out, err := run(t, append([]string{"acquire", resource}, baseArgs(t, srv)...)...)
	require.NoError(t, err)

	lockID := srv.Holder("acme", resource)
	require.NotEmpty(t, lockID)
	assert.Contains(t, out, "export DLOCK_LOCK_ID='"+lockID+"'\n")
	assert.Contains(t, out, "export DLOCK_RESOURCE='"+resource+"'\n")

	req := srv.Requests()[0]
	assert.Equal(t, "dlock-cli", req.Body["user_agent"])
}

func TestAcquire_JSONOutput(t *testing.T) {
	srv := testkit.NewLockServer(t)

	out, err := run(t, append([]string{"acquire", "report", "-o", "json", "--lifetime", "2m", "--user-data", `{"host":"a"}`}, baseArgs(t, srv)...)...)
	require.NoError(t, err)

	lock, err := dlock.DecodeLock([]byte(strings.TrimSpace(out)))
	require.NoError(t, err)
	assert.Equal(t, srv.Holder("acme", "report"), lock.LockID)
	assert.Equal(t, map[string]any{"host": "a"}, lock.UserData)
	assert.Equal(t, 120, srv.Requests()[0].Lifetime())

	_, err = run(t, append([]string{"acquire", "other", "--user-data", "{not json"}, baseArgs(t, srv)...)...)
	assert.Error(t, err)
}

func TestRelease_FromEnv(t *testing.T) {
	srv := testkit.NewLockServer(t)
	_, err := run(t, append([]string{"acquire", "report"}, baseArgs(t, srv)...)...)
	require.NoError(t, err)

	t.Setenv(envLockID, srv.Holder("acme", "report"))
	_, err = run(t, append([]string{"release", "report"}, baseArgs(t, srv)...)...)
	require.NoError(t, err)
	assert.Empty(t, srv.Holder("acme", "report"))
	assert.Equal(t, 1, srv.Count(http.MethodDelete))

	t.Setenv(envLockID, "")
	_, err = run(t, append([]string{"release", "report"}, baseArgs(t, srv)...)...)
	assert.Error(t, err)
}

func TestExecute_ExitCodes(t *testing.T) {
	ctx := context.Background()

	busy := testkit.NewLockServer(t)
	busy.AlwaysConflict()
	assert.Equal(t, 2, execute(ctx, append([]string{"acquire", "report", "--wait", "0s"}, baseArgs(t, busy)...)))

	srv := testkit.NewLockServer(t)
	require.Equal(t, 0, execute(ctx, append([]string{"acquire", "report"}, baseArgs(t, srv)...)))
	assert.Equal(t, 3, execute(ctx, append([]string{"release", "report", "not-the-holder"}, baseArgs(t, srv)...)))
	assert.NotEmpty(t, srv.Holder("acme", "report"))

	assert.Equal(t, 1, execute(ctx, append([]string{"acquire", "other", "-o", "yaml"}, baseArgs(t, srv)...)))

	t.Setenv("DLOCK_TOKEN", "")
	assert.Equal(t, 78, execute(ctx, []string{"acquire", "report", "--tenant-id", "acme", "--config-dir", t.TempDir()}))

	_, err := run(t, "acquire", "report", "--tenant-id", "acme", "--config-dir", t.TempDir())
	assert.ErrorIs(t, err, dlock.ErrBadConfiguration)
	assert.Equal(t, dlock.CodeBadConfiguration, xerrors.GetCode(err))
}

func TestRun_UnderLock(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	srv := testkit.NewLockServer(t)

	out, err := run(t, append(append([]string{"run", "report"}, baseArgs(t, srv)...),
		"--", "sh", "-c", `echo "holding $DLOCK_LOCK_ID"`)...)
	require.NoError(t, err)
	assert.Contains(t, out, "holding ")
	assert.Equal(t, 1, srv.Count(http.MethodPost))
	assert.Equal(t, 1, srv.Count(http.MethodDelete))

	code := execute(context.Background(), append(append([]string{"run", "report"}, baseArgs(t, srv)...),
		"--", "sh", "-c", "exit 3"))
	assert.Equal(t, 3, code)
	assert.Equal(t, 2, srv.Count(http.MethodDelete))

	_, err = run(t, append([]string{"run", "report"}, baseArgs(t, srv)...)...)
	assert.Error(t, err)
}

const parentTrace = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestAcquire_ContinuesCallerTrace(t *testing.T) {
	srv := testkit.NewLockServer(t, testkit.WithServerTracing())
	t.Setenv("TRACEPARENT", parentTrace)

	_, err := run(t, append([]string{"acquire", "report"}, baseArgs(t, srv)...)...)
	require.NoError(t, err)

	header := srv.Requests()[0].Header.Get("Traceparent")
	assert.Contains(t, header, "4bf92f3577b34da6a3ce929d0e0e4736")
	assert.NotEqual(t, parentTrace, header)
}

func TestTraceEnv(t *testing.T) {
	shutdown, err := trace.Discard("dlock-cli-test")
	require.NoError(t, err)
	defer shutdown(context.Background())

	assert.Empty(t, traceEnv(context.Background()))

	ctx := trace.Extract(context.Background(), map[string]string{"traceparent": parentTrace})
	assert.Equal(t, []string{"TRACEPARENT=" + parentTrace}, traceEnv(ctx))

	t.Setenv("TRACEPARENT", parentTrace)
	t.Setenv("TRACESTATE", "")
	t.Setenv("BAGGAGE", "")
	assert.Equal(t, map[string]string{"traceparent": parentTrace}, traceCarrierFromEnv())
}

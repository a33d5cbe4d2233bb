package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// unsetOnCleanup 清理 godotenv 写入进程环境的变量
func unsetOnCleanup(t *testing.T, keys ...string) {
	t.Cleanup(func() {
		for _, k := range keys {
			_ = os.Unsetenv(k)
		}
	})
}

func TestNew_Defaults(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	impl := l.(*loader)
	assert.Equal(t, "config", impl.cfg.Name)
	assert.Equal(t, "yaml", impl.cfg.FileType)
	assert.Equal(t, "DLOCK", impl.cfg.EnvPrefix)
	assert.Equal(t, []string{".", "./config"}, impl.cfg.Paths)

	l, err = New(&Config{EnvPrefix: "myapp"})
	require.NoError(t, err)
	assert.Equal(t, "MYAPP", l.(*loader).cfg.EnvPrefix)
}

// TestLoader_Priority 验证 环境变量 > 环境特定文件 > 基础文件 > 默认值
func TestLoader_Priority(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dlock.yaml"), `
cluster: file-cluster
tenant_id: file-tenant
server_wait: 30
`)
	writeFile(t, filepath.Join(dir, "dlock.staging.yaml"), `
server_wait: 20
`)
	t.Setenv("DLOCKTEST_ENV", "staging")
	t.Setenv("DLOCKTEST_TENANT_ID", "env-tenant")

	l, err := New(&Config{Name: "dlock", Paths: []string{dir}, EnvPrefix: "DLOCKTEST"},
		WithDefaults(map[string]any{"lifetime": 3600, "token": ""}),
		WithoutWatch(),
	)
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))

	assert.Equal(t, "file-cluster", l.GetString("cluster"))
	assert.Equal(t, "env-tenant", l.GetString("tenant_id"))
	assert.EqualValues(t, 20, l.Get("server_wait"))
	assert.EqualValues(t, 3600, l.Get("lifetime"))
	assert.False(t, l.IsSet("missing"))
	assert.Equal(t, filepath.Join(dir, "dlock.yaml"), l.ConfigFileUsed())
}

// TestLoader_EnvOnly 验证没有配置文件时，注册过默认值的 key 可以从环境变量反序列化
func TestLoader_EnvOnly(t *testing.T) {
	t.Setenv("DLOCKENV_TOKEN", "secret")
	t.Setenv("DLOCKENV_TRANSPORT_CONNECT_TIMEOUT", "3s")

	l, err := New(&Config{Paths: []string{t.TempDir()}, EnvPrefix: "DLOCKENV"},
		WithDefaults(map[string]any{
			"token":                     "",
			"cluster":                   "europe-free",
			"transport.connect_timeout": "10s",
		}),
	)
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))

	var out struct {
		Token     string `mapstructure:"token"`
		Cluster   string `mapstructure:"cluster"`
		Transport struct {
			ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
		} `mapstructure:"transport"`
	}
	require.NoError(t, l.Unmarshal(&out))
	assert.Equal(t, "secret", out.Token)
	assert.Equal(t, "europe-free", out.Cluster)
	assert.Equal(t, 3*time.Second, out.Transport.ConnectTimeout)
	assert.Empty(t, l.ConfigFileUsed())
}

func TestLoader_DotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "DLOCKDOT_TOKEN=from-dotenv\n")
	unsetOnCleanup(t, "DLOCKDOT_TOKEN")

	l, err := New(&Config{Paths: []string{dir}, EnvPrefix: "DLOCKDOT"},
		WithDefaults(map[string]any{"token": ""}),
	)
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))
	assert.Equal(t, "from-dotenv", l.GetString("token"))
}

func TestLoader_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "cluster: [unterminated\n")

	l, err := New(&Config{Paths: []string{dir}, EnvPrefix: "DLOCKBAD"})
	require.NoError(t, err)
	assert.Error(t, l.Load(context.Background()))
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "server_wait: 60\n")

	l, err := New(&Config{Paths: []string{dir}, EnvPrefix: "DLOCKWATCH"})
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := l.Watch(ctx, "server_wait")
	require.NoError(t, err)

	_, err = l.Watch(ctx, "")
	assert.Error(t, err)

	// fsnotify 需要一点时间开始监听
	time.Sleep(100 * time.Millisecond)
	// 先写临时文件再 rename，避免读到截断后的空文件
	tmp := filepath.Join(dir, "config.yaml.tmp")
	writeFile(t, tmp, "server_wait: 30\n")
	require.NoError(t, os.Rename(tmp, path))

	deadline := time.After(5 * time.Second)
	for got := false; !got; {
		select {
		case ev := <-ch:
			assert.Equal(t, "server_wait", ev.Key)
			assert.Equal(t, "file", ev.Source)
			if ev.Value != nil {
				assert.EqualValues(t, 30, ev.Value)
				got = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for config change event")
		}
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestErrors(t *testing.T) {
	err := WrapValidationError(os.ErrNotExist)
	assert.True(t, IsValidationFailed(err))
	assert.False(t, IsNotFound(err))
	assert.Nil(t, WrapValidationError(nil))
}

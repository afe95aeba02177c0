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

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ============================================================
// Loading
// ============================================================

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "debug: true\n"))
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "tool", cfg.SelectorRole)
	assert.Empty(t, cfg.MessagesKey, "empty key defers to the locator default")
	assert.Equal(t, 500, cfg.MaxContentLength)
	assert.Equal(t, 50, cfg.LineCeiling)
	assert.Equal(t, "gpt-4o", cfg.TokenizerModel)
	assert.Equal(t, 60, cfg.Replay.TimeoutSeconds)
	assert.False(t, cfg.Replay.Enabled())
	assert.False(t, cfg.Audit.Enabled())
	assert.False(t, cfg.Archive.Enabled())
}

func TestLoadKebabCaseKeys(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
host: 127.0.0.1
port: 9300
management-key: plain-secret
messages-key: history
selector-role: Assistant
max-content-length: 800
line-ceiling: 120
tokenizer-model: gpt-4
capture-dir: /tmp/captures
logging:
  level: debug
  file: /tmp/chatscrub.log
  max-size-mb: 16
  max-backups: 3
  max-age-days: 7
  compress: true
replay:
  endpoint: https://upstream.example.com/v1/chat/completions
  api-key: rk-123
  proxy-url: socks5://127.0.0.1:1080
  timeout-seconds: 10
  oauth:
    token-url: https://auth.example.com/token
    client-id: cid
    client-secret: csec
    scopes: [chat]
audit:
  dsn: postgres://scrub:pw@localhost:5432/scrub
archive:
  endpoint: minio.internal:9000
  region: us-east-1
  bucket: scrub-archive
  access-key: ak
  secret-key: sk
  use-ssl: true
  prefix: /captures/
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9300", cfg.Addr())
	assert.Equal(t, "plain-secret", cfg.ManagementKey)
	assert.Equal(t, "history", cfg.MessagesKey)
	assert.Equal(t, "assistant", cfg.SelectorRole, "roles are lowercased")
	assert.Equal(t, 800, cfg.RuleOptions().MaxContentLength)
	assert.Equal(t, 120, cfg.AnalyzerOptions().LineCeiling)
	assert.Equal(t, "gpt-4", cfg.AnalyzerOptions().Model)

	assert.True(t, cfg.Replay.Enabled())
	assert.Equal(t, 10*time.Second, cfg.Replay.Timeout())
	assert.True(t, cfg.Replay.OAuth.Enabled())

	assert.True(t, cfg.Audit.Enabled())
	assert.True(t, cfg.Archive.Enabled())
	assert.Equal(t, "captures", cfg.Archive.Prefix, "prefix is trimmed of slashes")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "port: [not, a, number]\n"))
	assert.Error(t, err)
}

// ============================================================
// Validation
// ============================================================

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"port out of range", func(cfg *Config) { cfg.Port = 70000 }},
		{"content length too small", func(cfg *Config) { cfg.MaxContentLength = 10 }},
		{"negative line ceiling", func(cfg *Config) { cfg.LineCeiling = -5 }},
		{"unknown log level", func(cfg *Config) { cfg.Logging.Level = "loud" }},
		{"replay endpoint not a url", func(cfg *Config) { cfg.Replay.Endpoint = "not a url" }},
		{"replay endpoint wrong scheme", func(cfg *Config) { cfg.Replay.Endpoint = "ftp://host/path" }},
		{"replay negative timeout", func(cfg *Config) {
			cfg.Replay.Endpoint = "https://h/v1"
			cfg.Replay.TimeoutSeconds = -1
		}},
		{"replay proxy scheme", func(cfg *Config) {
			cfg.Replay.Endpoint = "https://h/v1"
			cfg.Replay.ProxyURL = "ftp://127.0.0.1:21"
		}},
		{"oauth half configured", func(cfg *Config) {
			cfg.Replay.Endpoint = "https://h/v1"
			cfg.Replay.OAuth.TokenURL = "https://auth/token"
		}},
		{"archive missing bucket", func(cfg *Config) { cfg.Archive.Endpoint = "minio:9000" }},
		{"archive missing keys", func(cfg *Config) {
			cfg.Archive.Endpoint = "minio:9000"
			cfg.Archive.Bucket = "b"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			cfg.normalize()
			require.NoError(t, cfg.Validate(), "baseline must be valid")
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("CHATSCRUB_MANAGEMENT_KEY", "env-secret")
	t.Setenv("CHATSCRUB_AUDIT_DSN", "postgres://env")

	cfg, err := Load(writeConfig(t, "management-key: file-secret\n"))
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.ManagementKey)
	assert.Equal(t, "postgres://env", cfg.Audit.DSN)
}

func TestExpandUserPath(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandUserPath("~/captures")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "captures"), got)

	got, err = expandUserPath("~")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(home), got)

	got, err = expandUserPath("/var/log//x")
	require.NoError(t, err)
	assert.Equal(t, "/var/log/x", got)

	_, err = expandUserPath("~user/x")
	assert.Error(t, err)
}

// ============================================================
// Hot reload
// ============================================================

func TestManagerReload(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "port: 9101\n")
	mgr, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 9101, mgr.Current().Port)

	var notified *Config
	mgr.OnChange(func(cfg *Config) { notified = cfg })

	require.NoError(t, os.WriteFile(path, []byte("port: 9102\n"), 0o644))
	require.NoError(t, mgr.Reload())
	assert.Equal(t, 9102, mgr.Current().Port)
	require.NotNil(t, notified)
	assert.Equal(t, 9102, notified.Port)
}

func TestManagerReloadKeepsOldOnFailure(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "port: 9101\n")
	mgr, err := NewManager(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("port: 70000\n"), 0o644))
	assert.Error(t, mgr.Reload())
	assert.Equal(t, 9101, mgr.Current().Port, "invalid file must not replace the snapshot")
}

func TestManagerWatch(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "port: 9101\n")
	mgr, err := NewManager(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mgr.Watch(ctx) }()

	// Give the watcher a beat to register before the write.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("port: 9102\n"), 0o644))

	assert.Eventually(t, func() bool { return mgr.Current().Port == 9102 },
		3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

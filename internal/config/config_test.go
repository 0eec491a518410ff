package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/tapoctl/internal/tapo"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`devices: []`))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "./tapoctl.sqlite", cfg.Database.Path)
	assert.Equal(t, 10*time.Second, cfg.Session.Timeout.Duration())
	assert.Equal(t, 5.0, cfg.Session.GetRateLimitRPS())
	assert.Equal(t, 1, cfg.Session.MaxInFlight)
	assert.Equal(t, 24*time.Hour, cfg.Ledger.CleanupInterval.Duration())
	assert.Equal(t, 30, cfg.Ledger.RetentionDays)
	assert.True(t, cfg.Ledger.IsEnabled())
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout.Duration())
	assert.Equal(t, 2, cfg.EventBus.GetWorkers())
	assert.Equal(t, 64, cfg.EventBus.GetQueueSize())
}

func TestParse_DevicesWithEnvExpansion(t *testing.T) {
	t.Setenv("TAPO_TEST_USER", "me@example.com")

	cfg, err := Parse([]byte(`
devices:
  - name: desk
    address: 192.0.2.10
    kind: Strip
    username: ${TAPO_TEST_USER}
    password: ${TAPO_TEST_PASSWORD_UNSET:fallback}
    strict_nicknames: true
session:
  timeout: 3s
  max_in_flight: 2
`))
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 1)

	d, ok := cfg.Device("desk")
	require.True(t, ok)
	assert.Equal(t, tapo.Endpoint{Address: "192.0.2.10", Kind: tapo.KindStrip}, d.Endpoint())
	assert.Equal(t, tapo.Credentials{Username: "me@example.com", Secret: "fallback"}, d.Credentials())
	assert.True(t, d.StrictNicknames)
	assert.Equal(t, 3*time.Second, cfg.Session.Timeout.Duration())
	assert.Equal(t, 2, cfg.Session.MaxInFlight)

	_, ok = cfg.Device("hall")
	assert.False(t, ok)
}

func TestParse_InvalidDevices(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		check func(error) bool
	}{
		{"missing_name", "devices:\n  - address: 1.2.3.4\n    kind: plug\n", tapo.IsConfiguration},
		{"missing_address", "devices:\n  - name: a\n    kind: plug\n", tapo.IsConfiguration},
		{"unknown_kind", "devices:\n  - name: a\n    address: 1.2.3.4\n    kind: bulb\n", tapo.IsUnsupported},
		{"duplicate_name", "devices:\n  - {name: a, address: 1.2.3.4, kind: plug}\n  - {name: a, address: 1.2.3.5, kind: plug}\n", tapo.IsConfiguration},
		{"negative_in_flight", "session:\n  max_in_flight: -1\n", tapo.IsConfiguration},
		{"negative_rate_limit", "session:\n  rate_limit_rps: -2\n", tapo.IsConfiguration},
		{"negative_cleanup_interval", "ledger:\n  cleanup_interval: -1h\n", tapo.IsConfiguration},
		{"negative_retention", "ledger:\n  retention_days: -3\n", tapo.IsConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestParse_ZeroRateLimitIsUnlimited(t *testing.T) {
	cfg, err := Parse([]byte("session:\n  rate_limit_rps: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Session.GetRateLimitRPS())

	cfg, err = Parse([]byte("session:\n  rate_limit_rps: 2.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.Session.GetRateLimitRPS())
}

func TestParse_BadDuration(t *testing.T) {
	_, err := Parse([]byte("session:\n  timeout: soon\n"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
	assert.NoError(t, LoadDotEnv(""))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TAPO_DOTENV_TEST=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TAPO_DOTENV_TEST") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("TAPO_DOTENV_TEST"))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\nverify_kind: true\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.VerifyKind)
}

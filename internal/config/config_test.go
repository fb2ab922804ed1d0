package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_EmptyPath(t *testing.T) {
	t.Setenv(APIKeyEnv, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Full(t *testing.T) {
	t.Setenv(APIKeyEnv, "")

	cfg, err := Load(filepath.Join("testdata", "full.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/stow/records.db", cfg.Database.Path)
	assert.False(t, cfg.Database.Lock)
	assert.Equal(t, 2*time.Second, cfg.Connectivity.PollInterval)
	assert.Equal(t, []string{"wlan0", "eth0"}, cfg.Connectivity.WatchInterfaces)
	assert.Equal(t, "queue_always", cfg.Sync.WritePolicy)
	assert.Equal(t, 8, cfg.Sync.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.BackoffBase)
	assert.Equal(t, 2*time.Minute, cfg.Sync.BackoffMax)
	assert.False(t, cfg.Sync.TransmitDeletes)
	assert.Equal(t, "from-file", cfg.Remote.APIKey)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Addr)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "https://status.example.com/ping", cfg.ProbeURL())
}

func TestParse_PartialKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("sync:\n  max_retries: 2\n"))
	require.NoError(t, err)

	want := Default()
	want.Sync.MaxRetries = 2
	want.Remote.APIKey = cfg.Remote.APIKey
	assert.Equal(t, want, cfg)
}

func TestParse_Empty(t *testing.T) {
	t.Setenv(APIKeyEnv, "")

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_EnvOverridesAPIKey(t *testing.T) {
	t.Setenv(APIKeyEnv, "from-env")

	cfg, err := Parse([]byte("remote:\n  api_key: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Remote.APIKey)
}

func TestProbeURL_FallsBackToRemote(t *testing.T) {
	cfg, err := Parse([]byte("remote:\n  base_url: http://localhost:8080\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.ProbeURL())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown policy", "sync:\n  write_policy: eventually\n"},
		{"negative retries", "sync:\n  max_retries: -1\n"},
		{"backoff max below base", "sync:\n  backoff_base: 10s\n  backoff_max: 1s\n"},
		{"probe timeout above interval", "connectivity:\n  probe_interval: 1s\n  probe_timeout: 2s\n"},
		{"bad url", "remote:\n  base_url: ftp://example.com\n"},
		{"empty db path", "database:\n  path: \"\"\n"},
		{"bad log level", "logging:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("sink:\n  path: x\n"))
	assert.Error(t, err)
}

func TestParse_BadDuration(t *testing.T) {
	_, err := Parse([]byte("sync:\n  timeout: soon\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

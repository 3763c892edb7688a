package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
[server]
bind_addr = "127.0.0.1:5000"
workers = 4
max_connections = 512
max_upload_size_mb = 128

[storage]
type = "filesystem"
path = "/var/lib/registry"

[auth]
mode = "token"
jwt_secret = "topsecret"
token_expiry_hours = 2

[registry]
max_upload_size_mb = 64
rate_limit_per_hour = 1000
immutable_tags = ["v*", "release-*"]
min_age_days = 7

[garbage_collector]
enabled = true
interval_hours = 6
grace_period_hours = 48
dry_run = false
max_blobs_per_run = 500
`

func TestParseFullConfig(t *testing.T) {
	c, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5000", c.Server.BindAddr)
	assert.Equal(t, 4, c.Server.Workers)
	assert.Equal(t, int64(128), c.Server.MaxUploadSizeMB)
	assert.Equal(t, "filesystem", c.Storage.Type)
	assert.Equal(t, "/var/lib/registry", c.Storage.Path)
	assert.Equal(t, "token", c.Auth.Mode)
	assert.Equal(t, "topsecret", c.Auth.JWTSecret)
	assert.Equal(t, int64(64), c.Registry.MaxUploadSizeMB)
	assert.Equal(t, []string{"v*", "release-*"}, c.Registry.ImmutableTags)
	assert.True(t, c.GarbageCollector.Enabled)
	assert.Equal(t, 48, c.GarbageCollector.GracePeriodHours)
	assert.Equal(t, 500, c.GarbageCollector.MaxBlobsPerRun)
}

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte("[storage]\ntype = \"inmemory\"\n"))
	require.NoError(t, err)

	assert.Equal(t, ":5000", c.Server.BindAddr)
	assert.Equal(t, int64(2048), c.Server.MaxUploadSizeMB)
	assert.Equal(t, c.Server.MaxUploadSizeMB, c.Registry.MaxUploadSizeMB)
	assert.Equal(t, 1024, c.Registry.ManifestCacheSize)
	assert.Equal(t, 24, c.GarbageCollector.GracePeriodHours)
	assert.Equal(t, 24, c.GarbageCollector.IntervalHours)
	assert.Equal(t, 30, c.Server.ShutdownTimeoutSeconds)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"missing storage type", ""},
		{"unknown storage type", "[storage]\ntype = \"tape\"\n"},
		{"filesystem without path", "[storage]\ntype = \"filesystem\"\n"},
		{"s3 without bucket", "[storage]\ntype = \"s3\"\n"},
		{"unknown auth mode", "[storage]\ntype = \"inmemory\"\n[auth]\nmode = \"ldap\"\n"},
		{"token mode without secret", "[storage]\ntype = \"inmemory\"\n[auth]\nmode = \"token\"\n"},
		{"unknown key", "[storage]\ntype = \"inmemory\"\nbananas = true\n"},
		{"malformed toml", "[storage\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.toml))
			require.Error(t, err)
			var confErr *ConfigurationError
			assert.ErrorAs(t, err, &confErr)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(fullConfig), 0o600))

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "filesystem", c.Storage.Type)

	_, err = Load(filepath.Join(dir, "absent.toml"))
	assert.Error(t, err)
}

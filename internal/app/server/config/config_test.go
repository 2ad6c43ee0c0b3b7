package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

var validEnv = map[string]string{
	"PORT":    "3000",
	"cid":     "42",
	"appId":   "app",
	"key":     "k",
	"secret":  "s",
	"cluster": "eu",
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newFlags(t), envMap(validEnv))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, ":3000", cfg.Address())
	assert.Equal(t, filepath.Join(".pm2", "logs", "server-42.log"), cfg.LogFilePath())
	assert.Equal(t, 60*time.Second, cfg.PingInterval.Duration)
	assert.Equal(t, 180*time.Second, cfg.OutageDuration.Duration)
	assert.True(t, cfg.Pusher.UseTLS)
	assert.True(t, cfg.HeadOfLine)
	assert.True(t, cfg.UsesPusher())
	assert.False(t, cfg.UsesWebsocket())
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dashify.toml")
	body := `
port = "4000"
cid = "file"
log_dir = "/var/log/app"
transport = "both"
outage_duration = "10s"

[pusher]
app_id = "file-app"
use_tls = false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	env := map[string]string{
		"cid":               "env",
		"key":               "k",
		"secret":            "s",
		"cluster":           "eu",
		"PING_INTERVAL":     "5s",
		"OUTAGE_DURATION":   "20s",
		"MEMORY_CEILING_MB": "64",
		"PUSHER_HOST":       "localhost:6001",
	}
	fs := newFlags(t, "--config", path, "--outage-duration", "30s", "--head-of-line=false")

	cfg, err := Load(fs, envMap(env))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "4000", cfg.Port, "file beats default")
	assert.Equal(t, "env", cfg.ClientID, "env beats file")
	assert.Equal(t, "file-app", cfg.Pusher.AppID)
	assert.False(t, cfg.Pusher.UseTLS)
	assert.Equal(t, "localhost:6001", cfg.Pusher.Host)
	assert.Equal(t, 30*time.Second, cfg.OutageDuration.Duration, "flag beats env")
	assert.Equal(t, 5*time.Second, cfg.PingInterval.Duration)
	assert.Equal(t, 64, cfg.MemoryCeilingMB)
	assert.False(t, cfg.HeadOfLine)
	assert.True(t, cfg.UsesWebsocket())
	assert.Equal(t, filepath.Join("/var/log/app", "server-env.log"), cfg.LogFilePath())
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.toml")
	require.NoError(t, os.WriteFile(path, []byte(`port = "5000"`), 0o600))

	cfg, err := Load(newFlags(t), envMap(map[string]string{"CONFIG": path}))
	require.NoError(t, err)
	assert.Equal(t, "5000", cfg.Port)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "missing.toml")), envMap(nil))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte(`ping_interval = "soon"`), 0o600))
	_, err = Load(newFlags(t, "--config", bad), envMap(nil))
	require.Error(t, err)

	_, err = Load(newFlags(t), envMap(map[string]string{"useTLS": "maybe"}))
	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Len(t, cfgErr.Problems, 1)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()

	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Problems, "port is required")
	assert.Contains(t, cfgErr.Problems, "cid is required")
	assert.Contains(t, cfgErr.Problems, "appId is required")
	assert.Contains(t, err.Error(), "invalid configuration")

	cfg.Port = "3000"
	cfg.ClientID = "1"
	cfg.Transport = TransportWebsocket
	assert.NoError(t, cfg.Validate(), "websocket transport needs no credentials")

	cfg.Transport = "carrier-pigeon"
	cfg.Port = "70000"
	cfg.MemoryFraction = 1.5
	cfg.PingInterval = Duration{}
	err = cfg.Validate()
	require.True(t, errors.As(err, &cfgErr))
	assert.Len(t, cfgErr.Problems, 4)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 3m ")))
	assert.Equal(t, 3*time.Minute, d.Duration)
	require.NoError(t, d.UnmarshalText(nil))
	assert.Zero(t, d.Duration)
	assert.Error(t, d.UnmarshalText([]byte("later")))
}

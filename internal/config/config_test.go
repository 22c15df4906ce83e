package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  env: test\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, 200*time.Millisecond, cfg.Protocol.AckTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Protocol.RetryInterval)
	assert.Equal(t, 5, cfg.Protocol.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Receiver.DeadmanWindow)
	assert.Equal(t, uint8(1), cfg.Receiver.DeviceID)
	assert.False(t, cfg.HTTP.AuthEnabled)
	assert.Equal(t, 10, cfg.Radio.BreakerThreshold)
	assert.Empty(t, cfg.Webhook.URL)
	assert.Equal(t, 3, cfg.Webhook.Retries)
	assert.Equal(t, 5*time.Second, cfg.Webhook.Timeout)
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	body := `
protocol:
  ackTimeout: 100ms
  maxAttempts: 3
receiver:
  deviceId: 7
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.Protocol.AckTimeout)
	assert.Equal(t, 3, cfg.Protocol.MaxAttempts)
	assert.Equal(t, uint8(7), cfg.Receiver.DeviceID)
}

func TestLoadRejectsInvalidDeviceID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("receiver:\n  deviceId: 11\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: x\n"), 0o644))
	t.Setenv("MLAB_PROTOCOL_MAXATTEMPTS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Protocol.MaxAttempts)
}

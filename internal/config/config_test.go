package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
session:
  account: "42"
  chat: "-1001"
system:
  db_path: `+filepath.Join(dir, "nested", "state.db")+`
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "42", cfg.Session.Account)
	assert.Equal(t, "-1001", cfg.Session.Chat)
	assert.Equal(t, "http://localhost:8080", cfg.Server.APIURL)
	assert.Equal(t, 3, cfg.Stream.ReconnectAttempts)
	assert.Equal(t, 3*time.Second, cfg.Stream.ReconnectIntervalDuration)
	assert.Equal(t, 2*time.Second, cfg.Speed.DecayIntervalDuration)
	assert.Equal(t, time.Second, cfg.Speed.DebounceWaitDuration)
	assert.Equal(t, 2*time.Second, cfg.Speed.DebounceMaxWaitDuration)
	assert.Equal(t, 30*time.Second, cfg.Server.TimeoutDuration)

	_, err = os.Stat(filepath.Join(dir, "nested"))
	assert.NoError(t, err, "db directory should be created")
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  api_url: http://example.test/api/
  ws_url: wss://example.test/ws
stream:
  reconnect_attempts: 5
  reconnect_interval: 500ms
system:
  db_path: `+filepath.Join(t.TempDir(), "s.db")+`
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test/api", cfg.Server.APIURL)
	assert.Equal(t, "wss://example.test/ws", cfg.Server.WSURL)
	assert.Equal(t, 5, cfg.Stream.ReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.ReconnectIntervalDuration)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad duration": "speed:\n  decay_interval: soon\n",
		"bad ws url":   "server:\n  ws_url: http://x\n",
		"max < wait":   "speed:\n  debounce_wait: 3s\n  debounce_max_wait: 1s\n",
		"negative":     "stream:\n  reconnect_attempts: -1\n",
		"not yaml":     "server: [unclosed\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Server.WSURL)
	assert.Equal(t, "text", cfg.System.LogFormat)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RIDECHAT_SERVER", "RIDECHAT_WS_PATH", "RIDECHAT_TOKEN", "RIDECHAT_DB",
		"HANDSHAKE_TIMEOUT", "REQUEST_TIMEOUT", "UNREAD_RECONNECT_DELAY",
		"UNREAD_MAX_RECONNECTS", "CHAT_RETRY_DELAY", "CHAT_MAX_RETRIES",
		"UNREAD_REFRESH_INTERVAL",
		"WEBPUSH_ENDPOINT", "WEBPUSH_P256DH", "WEBPUSH_AUTH",
		"VAPID_PUBLIC_KEY", "VAPID_PRIVATE_KEY", "VAPID_SUBSCRIBER",
	} {
		if old, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, old) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("RIDECHAT_TOKEN", "tok")

	cfg, err := Load(false)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8081", cfg.ServerURL)
	assert.Equal(t, "/ws", cfg.WSPath)
	assert.Equal(t, "ridechat.db", cfg.DBFile)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 5*time.Second, cfg.UnreadReconnectDelay)
	assert.Equal(t, 5, cfg.UnreadMaxReconnects)
	assert.Equal(t, 3*time.Second, cfg.ChatRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.UnreadRefreshInterval)
	assert.False(t, cfg.WebPush.Enabled())
}

func TestLoad_TokenRequiredOnline(t *testing.T) {
	clearEnv(t)

	_, err := Load(false)
	assert.ErrorContains(t, err, "RIDECHAT_TOKEN")

	cfg, err := Load(true)
	require.NoError(t, err)
	assert.Empty(t, cfg.Token)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("RIDECHAT_TOKEN=from-file\nCHAT_MAX_RETRIES=2\nRIDECHAT_SERVER=https://rides.example\n"), 0o600))
	t.Setenv("RIDECHAT_SERVER", "http://override:9000")

	cfg, err := Load(false, envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Token)
	assert.Equal(t, 2, cfg.ChatMaxRetries)
	assert.Equal(t, "http://override:9000", cfg.ServerURL, "environment wins over the file")
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("RIDECHAT_TOKEN", "tok")
	t.Setenv("HANDSHAKE_TIMEOUT", "soon")
	t.Setenv("CHAT_MAX_RETRIES", "many")

	_, err := Load(false)
	require.Error(t, err)
	assert.ErrorContains(t, err, "HANDSHAKE_TIMEOUT")
	assert.ErrorContains(t, err, "CHAT_MAX_RETRIES")
}

func TestValidate(t *testing.T) {
	base := Config{
		ServerURL:            "http://localhost:8081",
		Token:                "tok",
		DBFile:               "x.db",
		HandshakeTimeout:     time.Second,
		RequestTimeout:       time.Second,
		UnreadReconnectDelay: time.Second,
		ChatRetryDelay:       time.Second,
	}
	require.NoError(t, base.Validate(false))

	bad := base
	bad.ServerURL = "localhost:8081"
	assert.Error(t, bad.Validate(false))

	bad = base
	bad.WebPush.Endpoint = "https://push.example/sub"
	assert.ErrorContains(t, bad.Validate(false), "WEBPUSH_P256DH")

	bad = base
	bad.ChatMaxRetries = -1
	assert.Error(t, bad.Validate(false))

	bad = base
	bad.UnreadRefreshInterval = -time.Second
	assert.ErrorContains(t, bad.Validate(false), "UNREAD_REFRESH_INTERVAL")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetters(t *testing.T) {
	t.Setenv("TS_STR", "value")
	t.Setenv("TS_INT", "42")
	t.Setenv("TS_BAD_INT", "forty")
	t.Setenv("TS_BOOL", "true")
	t.Setenv("TS_LIST", " a, ,b ,c")

	assert.Equal(t, "value", GetString("TS_STR", "x"))
	assert.Equal(t, "x", GetString("TS_MISSING", "x"))
	assert.Equal(t, 42, GetInt("TS_INT", 1))
	assert.Equal(t, 1, GetInt("TS_BAD_INT", 1))
	assert.True(t, GetBool("TS_BOOL", false))
	assert.Equal(t, 42*time.Second, GetDuration("TS_INT", 1, time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, GetList("TS_LIST", nil))
	assert.Equal(t, []string{"d"}, GetList("TS_MISSING", []string{"d"}))
}

func TestLoadKeepsExistingEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(file, []byte("TS_FROM_FILE=file\nTS_PRESET=file\n"), 0o600))
	t.Setenv("TS_PRESET", "env")
	t.Cleanup(func() { os.Unsetenv("TS_FROM_FILE") })

	require.NoError(t, Load(file, filepath.Join(dir, "missing.env")))

	assert.Equal(t, "file", os.Getenv("TS_FROM_FILE"))
	assert.Equal(t, "env", os.Getenv("TS_PRESET"))
}

func TestLoadClientConfigDefaults(t *testing.T) {
	t.Setenv("TEAMSYNC_RECONNECT_BASE_MS", "250")
	cfg := LoadClientConfig()
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectBase)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMax)
	assert.Equal(t, 10, cfg.ReconnectAttempts)
}

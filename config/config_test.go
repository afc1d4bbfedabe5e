package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/extbridge-go/bifaci"
)

// TEST400: Default returns valid built-in settings
func Test400_default(t *testing.T) {
	c := Default()
	assert.Equal(t, bifaci.DefaultMaxFrame, c.Transport.MaxFrame)
	assert.Equal(t, 30*time.Second, c.Bus.RequestTimeout)
	assert.Equal(t, 2*time.Second, c.Session.UnloadTimeout)
	assert.Equal(t, "info", c.Log.Level)
	assert.NoError(t, c.Validate())
}

// TEST401: Load reads the config file and lets env override it
func Test401_load_from_file_and_env(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[transport]
max_frame = 1048576

[bus]
request_timeout = "5s"

[storage]
path = "/tmp/ext.db"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("EXTBRIDGE_CONFIG", path)
	t.Setenv("EXTBRIDGE_LOG_LEVEL", "debug")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, bifaci.Limits{MaxFrame: 1048576}, c.Transport.Limits)
	assert.Equal(t, 5*time.Second, c.Bus.RequestTimeout)
	assert.Equal(t, "/tmp/ext.db", c.Storage.Path)
	assert.Equal(t, "debug", c.Log.Level, "env overrides file")
	assert.Equal(t, 2*time.Second, c.Session.UnloadTimeout, "unset keys keep defaults")
}

// TEST402: Load fails when EXTBRIDGE_CONFIG names a missing file
func Test402_load_missing_explicit_file(t *testing.T) {
	t.Setenv("EXTBRIDGE_CONFIG", filepath.Join(t.TempDir(), "nope.toml"))
	_, err := Load()
	assert.Error(t, err)
}

// TEST403: Load falls back to defaults without a config file
func Test403_load_without_config_file(t *testing.T) {
	t.Setenv("EXTBRIDGE_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, bifaci.DefaultMaxFrame, c.Transport.MaxFrame)
}

// TEST404: Validate rejects out of range settings
func Test404_validate(t *testing.T) {
	c := Default()
	c.Transport.MaxFrame = bifaci.MaxFrameHardLimit + 1
	assert.Error(t, c.Validate())

	c = Default()
	c.Session.UnloadTimeout = 0
	assert.Error(t, c.Validate())

	c = Default()
	c.Bus.RequestTimeout = 0
	assert.NoError(t, c.Validate(), "zero request timeout disables the timeout")
}

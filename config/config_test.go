package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, ioutil.WriteFile(p, []byte(contents), 0600))
	return p
}

func TestReadConfigurationDefaults(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "presence.toml", `jwt_secret = "secret"`)

	cfg, err := ReadConfiguration(p, nil)
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 30*24*time.Hour, cfg.TokenLifetime)
	assert.Equal(t, time.Minute, cfg.PresenceConfig.TTL)
	assert.Equal(t, 1024, cfg.PresenceConfig.Size)
	assert.Equal(t, 3, cfg.ThrottleConfig.Limit)
	assert.Equal(t, 24*time.Hour, cfg.ThrottleConfig.Window)
	assert.Equal(t, 3, cfg.MaxGroupsCount)
	assert.Equal(t, "lobby", cfg.DefaultGroupName)
	assert.Equal(t, "buntdb", cfg.PersistenceConfig.Type)
	assert.Equal(t, "memory", cfg.KVConfig.Type)
}

func TestReadConfigurationDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.toml", `
jwt_secret = "secret"
administrators = ["u1", "u2"]
token_lifetime = "1h"
`)
	writeFile(t, dir, "b.toml", `
[presence]
ttl = "30s"

[persistence]
type = "sqlite"
dsn = "file::memory:"
`)
	writeFile(t, dir, "ignored.txt", `jwt_secret = "other"`)

	cfg, err := ReadConfiguration(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.JWTSecret)
	assert.Equal(t, []string{"u1", "u2"}, cfg.Administrators)
	assert.Equal(t, time.Hour, cfg.TokenLifetime)
	assert.Equal(t, 30*time.Second, cfg.PresenceConfig.TTL)
	assert.Equal(t, "sqlite", cfg.PersistenceConfig.Type)
}

func TestReadConfigurationFlagsAndEnv(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "presence.toml", `jwt_secret = "secret"`)

	os.Setenv("LSPRESENCE_MAX_GROUPS_COUNT", "7")
	defer os.Unsetenv("LSPRESENCE_MAX_GROUPS_COUNT")

	flagSet := GetFlagSet()
	require.NoError(t, flagSet.Parse([]string{"--disable-register", "--jwt-secret", "flag-secret"}))

	cfg, err := ReadConfiguration(p, flagSet)
	require.NoError(t, err)
	assert.True(t, cfg.DisableRegister)
	assert.False(t, cfg.DisableCreateGroup)
	assert.Equal(t, "flag-secret", cfg.JWTSecret)
	assert.Equal(t, 7, cfg.MaxGroupsCount)
}

func TestReadConfigurationInvalid(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadConfiguration(writeFile(t, dir, "a.toml", `log_level = "DEBUG"`), nil)
	assert.Error(t, err)

	_, err = ReadConfiguration(writeFile(t, dir, "b.toml", `
jwt_secret = "secret"
[kv]
type = "redis"
`), nil)
	assert.Error(t, err)

	_, err = ReadConfiguration(filepath.Join(dir, "missing.toml"), nil)
	assert.Error(t, err)
}

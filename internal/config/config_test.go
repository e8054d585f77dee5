package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("GAME_CONFIG", "")
	t.Setenv("GAME_PORT", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 25565, cfg.Server.Port)
	assert.Equal(t, DefaultProtocolVersion, cfg.Server.ProtocolVersion)
	assert.Equal(t, 50*time.Millisecond, cfg.World.TickInterval())
	assert.Equal(t, 2*time.Second, cfg.World.EvictGrace())
	assert.Equal(t, 30*time.Second, cfg.Server.KeepAliveTimeout())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	yml := `
server:
  port: 30000
  max_players: 2
  view_distance: 4
  whitelist_enabled: true
  whitelist: [alice, bob]
world:
  dir: /tmp/w
  seed: 42
  compression: zstd
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Server.MaxPlayers)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Server.Whitelist)
	assert.Equal(t, int64(42), cfg.World.Seed)
	assert.Equal(t, "zstd", cfg.World.Compression)
	// Незаданные поля остаются по умолчанию
	assert.Equal(t, 50, cfg.World.TickMS)
}

func TestLoad_EnvPortFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\n"), 0644))
	t.Setenv("GAME_PORT", "26000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 26000, cfg.Server.Port)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Server.MaxPlayers = 0
	cfg.Server.OnlineAuth = AuthToken
	cfg.World.Compression = "lz4"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_players")
	assert.Contains(t, err.Error(), "token_secret")
	assert.Contains(t, err.Error(), "lz4")
}
